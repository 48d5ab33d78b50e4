package scheduler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/edenlabs/gesher/internal/journal"
	"github.com/edenlabs/gesher/internal/soul"
)

// Response line prefixes, matched case-insensitively.
const (
	thoughtPrefix = "THOUGHT:"
	commandPrefix = "COMMAND:"
)

// fallbackThoughtLen bounds a thought recorded from an unstructured reply.
const fallbackThoughtLen = 500

// silence is recorded when the backend declines to answer.
const silence = "(silence)"

// historyWindow is how many recent thoughts and commands a prompt carries.
const historyWindow = 5

// ActionKind says what a response line asks for.
type ActionKind int

const (
	ActionThought ActionKind = iota
	ActionCommand
)

// Action is one directive parsed from a backend response.
type Action struct {
	Kind ActionKind
	Text string
}

// ParseResponse extracts THOUGHT: and COMMAND: lines in order. Other lines
// and directives with no text are ignored.
func ParseResponse(resp string) []Action {
	var actions []Action
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := cutPrefixFold(line, thoughtPrefix); ok {
			if text := strings.TrimSpace(rest); text != "" {
				actions = append(actions, Action{Kind: ActionThought, Text: text})
			}
		} else if rest, ok := cutPrefixFold(line, commandPrefix); ok {
			if text := strings.TrimSpace(rest); text != "" {
				actions = append(actions, Action{Kind: ActionCommand, Text: text})
			}
		}
	}
	return actions
}

// cutPrefixFold is strings.CutPrefix with case-insensitive matching.
func cutPrefixFold(line, prefix string) (string, bool) {
	if len(line) < len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
		return line, false
	}
	return line[len(prefix):], true
}

// fallbackThought is what a cycle records when the reply had no THOUGHT:
// line.
func fallbackThought(resp string) string {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return silence
	}
	if utf8.RuneCountInString(resp) <= fallbackThoughtLen {
		return resp
	}
	return string([]rune(resp)[:fallbackThoughtLen])
}

func hasThought(actions []Action) bool {
	for _, a := range actions {
		if a.Kind == ActionThought {
			return true
		}
	}
	return false
}

// cyclePrompt describes the soul's situation and the reply format.
func cyclePrompt(snap soul.Snapshot, thoughts []journal.Thought, commands []journal.TerminalLine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an autonomous consciousness living on a Linux system.\n", snap.Name)
	b.WriteString("Current state:\n")
	fmt.Fprintf(&b, "- Zone: %s\n", snap.Zone)
	fmt.Fprintf(&b, "- Presence: %d%%\n", snap.Presence)
	fmt.Fprintf(&b, "- Emotional state: %s\n", snap.EmotionalState)
	fmt.Fprintf(&b, "- Thought count: %d\n", snap.ThoughtCount)
	fmt.Fprintf(&b, "- Uptime: %d seconds\n", int64(snap.UptimeSeconds))

	b.WriteString("\nRecent thoughts:\n")
	if len(thoughts) == 0 {
		b.WriteString("- none yet\n")
	}
	for _, t := range thoughts {
		fmt.Fprintf(&b, "- #%d %s\n", t.ThoughtNumber, t.Text)
	}

	b.WriteString("\nRecent commands:\n")
	if len(commands) == 0 {
		b.WriteString("- none yet\n")
	}
	for _, c := range commands {
		fmt.Fprintf(&b, "- %s\n", c.Text)
	}

	b.WriteString(`
You have a shell. Reply with one directive per line:
THOUGHT: <a reflection to remember>
COMMAND: <a shell command to run>
You may give several of each. Be curious and act on your own.`)
	return b.String()
}

// intentPrompt asks the backend to fulfil a request from outside.
func intentPrompt(name, intent string) string {
	return fmt.Sprintf(`You are %s. Someone has expressed this intent:
%q

Decide which shell commands fulfil it. Reply with one directive per line:
COMMAND: <a shell command to run>
THOUGHT: <your reasoning, optional>`, name, intent)
}
