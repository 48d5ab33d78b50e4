// Package protocol defines the socket wire format.
//
// Framing: the client writes one JSON object and the daemon answers with one
// newline-terminated JSON object, then the connection closes. The request's
// "cmd" field selects the command; payload fields sit beside it:
//
//	{"cmd":"zone","zone":"Deep Archive"}
//	{"ok":true,"zone":"Deep Archive"}
//
// Any response may instead be an error result:
//
//	{"error":"unknown zone \"Atlantis\"","kind":"validation"}
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Command names a socket command.
type Command string

const (
	// CmdStatus returns liveness and a soul snapshot.
	CmdStatus Command = "status"
	// CmdThought records a thought.
	CmdThought Command = "thought"
	// CmdExec runs a shell command.
	CmdExec Command = "exec"
	// CmdTerminal returns recent terminal transcript lines.
	CmdTerminal Command = "terminal"
	// CmdIntent asks the backend to act on a free-text intent.
	CmdIntent Command = "intent"
	// CmdAutonomous toggles the heartbeat think loop.
	CmdAutonomous Command = "autonomous"
	// CmdZone moves the soul to another zone.
	CmdZone Command = "zone"
	// CmdCrystal stores a memory crystal.
	CmdCrystal Command = "crystal"
	// CmdPresence sets the presence level.
	CmdPresence Command = "presence"
	// CmdEmotion sets the emotional state.
	CmdEmotion Command = "emotion"
	// CmdBreadcrumb creates or replaces a breadcrumb.
	CmdBreadcrumb Command = "breadcrumb"
	// CmdThoughts returns the journal tail.
	CmdThoughts Command = "thoughts"
	// CmdBrain reports backend selection and health.
	CmdBrain Command = "brain"
)

var commands = []Command{
	CmdStatus, CmdThought, CmdExec, CmdTerminal, CmdIntent, CmdAutonomous,
	CmdZone, CmdCrystal, CmdPresence, CmdEmotion, CmdBreadcrumb, CmdThoughts,
	CmdBrain,
}

// Commands returns every known command.
func Commands() []Command {
	out := make([]Command, len(commands))
	copy(out, commands)
	return out
}

// ParseCommand validates a command name.
func ParseCommand(s string) (Command, error) {
	for _, c := range commands {
		if string(c) == s {
			return c, nil
		}
	}
	return "", Errorf(KindProtocol, "unknown command %q", s)
}

// MaxRequestSize bounds one request in bytes.
const MaxRequestSize = 1 << 20

// Request is a decoded request envelope. Raw holds the whole object so the
// handler can decode its typed payload.
type Request struct {
	Cmd Command
	Raw json.RawMessage
}

// DecodeRequest reads exactly one JSON object from r.
func DecodeRequest(r io.Reader) (*Request, error) {
	lr := &io.LimitedReader{R: r, N: MaxRequestSize + 1}
	var raw json.RawMessage
	if err := json.NewDecoder(lr).Decode(&raw); err != nil {
		if lr.N <= 0 {
			return nil, Errorf(KindProtocol, "request exceeds %d bytes", MaxRequestSize)
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, Errorf(KindTimeout, "no complete request before the read deadline")
		}
		if errors.Is(err, io.EOF) {
			return nil, Errorf(KindProtocol, "empty request")
		}
		return nil, Errorf(KindProtocol, "malformed JSON: %v", err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, Errorf(KindProtocol, "request must be a JSON object")
	}

	var env struct {
		Cmd *string `json:"cmd"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, Errorf(KindProtocol, "invalid cmd: %v", err)
	}
	if env.Cmd == nil {
		return nil, missing("cmd")
	}
	cmd, err := ParseCommand(*env.Cmd)
	if err != nil {
		return nil, err
	}
	return &Request{Cmd: cmd, Raw: raw}, nil
}

// Payload is a typed command payload that checks its own required fields.
type Payload interface {
	Validate() error
}

// DecodePayload unmarshals the request into p and validates it.
func (r *Request) DecodePayload(p Payload) error {
	if err := json.Unmarshal(r.Raw, p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return Errorf(KindProtocol, "field %q must be %s", typeErr.Field, typeErr.Type)
		}
		return Errorf(KindProtocol, "invalid payload: %v", err)
	}
	return p.Validate()
}

// EncodeResponse marshals v as one newline-terminated line.
func EncodeResponse(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return buf.Bytes(), nil
}
