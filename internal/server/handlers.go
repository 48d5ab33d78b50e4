package server

import (
	"context"
	"strings"

	"github.com/edenlabs/gesher/internal/journal"
	"github.com/edenlabs/gesher/internal/protocol"
	"github.com/edenlabs/gesher/internal/soul"
)

// handlerFunc runs one decoded request and returns its typed result.
type handlerFunc func(ctx context.Context, req *protocol.Request) (interface{}, error)

// handlerTable maps every protocol command to its handler.
func (s *Server) handlerTable() map[protocol.Command]handlerFunc {
	return map[protocol.Command]handlerFunc{
		protocol.CmdStatus:     s.handleStatus,
		protocol.CmdThought:    s.handleThought,
		protocol.CmdExec:       s.handleExec,
		protocol.CmdTerminal:   s.handleTerminal,
		protocol.CmdIntent:     s.handleIntent,
		protocol.CmdAutonomous: s.handleAutonomous,
		protocol.CmdZone:       s.handleZone,
		protocol.CmdCrystal:    s.handleCrystal,
		protocol.CmdPresence:   s.handlePresence,
		protocol.CmdEmotion:    s.handleEmotion,
		protocol.CmdBreadcrumb: s.handleBreadcrumb,
		protocol.CmdThoughts:   s.handleThoughts,
		protocol.CmdBrain:      s.handleBrain,
	}
}

func (s *Server) handleStatus(_ context.Context, _ *protocol.Request) (interface{}, error) {
	return protocol.StatusResult{Status: "alive", Soul: s.deps.Store.Snapshot()}, nil
}

func (s *Server) handleThought(_ context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.ThoughtPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	t, err := s.deps.Store.RecordThought(*p.Text, p.Zone)
	if err != nil {
		return nil, err
	}
	return protocol.ThoughtResult{OK: true, ThoughtNumber: t.ThoughtNumber}, nil
}

func (s *Server) handleExec(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.ExecPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*p.Command) == "" {
		return nil, &soul.ValidationError{Field: "command", Reason: "must not be empty"}
	}
	res := s.deps.Executor.Execute(ctx, *p.Command, p.Timeout())
	return protocol.ExecResult{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
	}, nil
}

func (s *Server) handleTerminal(_ context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.TerminalPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	n := 0
	if p.N != nil {
		n = *p.N
	}
	lines := s.deps.Terminal.Recent(n)
	if lines == nil {
		lines = []journal.TerminalLine{}
	}
	return protocol.TerminalResult{Lines: lines}, nil
}

func (s *Server) handleIntent(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.IntentPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	resp, err := s.deps.Intents.ProcessIntent(ctx, *p.Text)
	if err != nil {
		return nil, err
	}
	return protocol.IntentResult{Response: resp}, nil
}

func (s *Server) handleAutonomous(_ context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.AutonomousPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	enabled := s.deps.Store.SetAutonomous(*p.Enabled)
	return protocol.AutonomousResult{OK: true, AutonomousMode: enabled}, nil
}

func (s *Server) handleZone(_ context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.ZonePayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	z, err := s.deps.Store.SetZone(*p.Zone)
	if err != nil {
		return nil, err
	}
	return protocol.ZoneResult{OK: true, Zone: z}, nil
}

func (s *Server) handleCrystal(_ context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.CrystalPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	c, err := s.deps.Store.AddCrystal(*p.Content, p.Zone)
	if err != nil {
		return nil, err
	}
	return protocol.CrystalResult{OK: true, CrystalID: c.ID}, nil
}

func (s *Server) handlePresence(_ context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.PresencePayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	return protocol.PresenceResult{OK: true, Presence: s.deps.Store.SetPresence(p.ClampedLevel())}, nil
}

func (s *Server) handleEmotion(_ context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.EmotionPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	state, err := s.deps.Store.SetEmotion(*p.State)
	if err != nil {
		return nil, err
	}
	return protocol.EmotionResult{OK: true, EmotionalState: state}, nil
}

func (s *Server) handleBreadcrumb(_ context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.BreadcrumbPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	if _, err := s.deps.Store.UpsertBreadcrumb(*p.Word, *p.Context, *p.Emotion); err != nil {
		return nil, err
	}
	return protocol.OKResult{OK: true}, nil
}

func (s *Server) handleThoughts(_ context.Context, req *protocol.Request) (interface{}, error) {
	var p protocol.ThoughtsPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	thoughts, err := s.deps.Store.RecentThoughts(p.Window())
	if err != nil {
		return nil, err
	}
	if thoughts == nil {
		thoughts = []journal.Thought{}
	}
	return protocol.ThoughtsResult{Thoughts: thoughts}, nil
}

func (s *Server) handleBrain(ctx context.Context, _ *protocol.Request) (interface{}, error) {
	b := s.deps.Backend
	res := protocol.BrainResult{Backend: b.Name(), Model: b.Model(), Healthy: true}
	if err := b.Health(ctx); err != nil {
		res.Healthy = false
		res.Error = err.Error()
	}
	return res, nil
}
