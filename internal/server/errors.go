package server

import (
	"context"
	"errors"

	"github.com/edenlabs/gesher/internal/brain"
	"github.com/edenlabs/gesher/internal/protocol"
	"github.com/edenlabs/gesher/internal/soul"
)

// Error mapping from package errors to wire kinds:
//   - *protocol.Error: its own kind (malformed request, missing field)
//   - *soul.ValidationError: validation
//   - *brain.Error: backend, with the backend name and failure reason
//   - context.DeadlineExceeded: timeout (request bound exceeded)
//   - *soul.PersistenceError: persistence
//   - anything else: internal

// classifyErr converts a handler error into the error reported to the client.
func classifyErr(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}

	var verr *soul.ValidationError
	if errors.As(err, &verr) {
		return protocol.Errorf(protocol.KindValidation, "%s", verr.Error()).
			WithDetail("field", verr.Field)
	}

	var berr *brain.Error
	if errors.As(err, &berr) {
		e := protocol.Errorf(protocol.KindBackend, "%s", berr.Error()).
			WithDetail("backend", berr.Backend).
			WithDetail("reason", string(berr.Kind))
		if berr.StatusCode != 0 {
			e.WithDetail("status_code", berr.StatusCode)
		}
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.Errorf(protocol.KindTimeout, "request timed out")
	}

	var serr *soul.PersistenceError
	if errors.As(err, &serr) {
		return protocol.Errorf(protocol.KindPersistence, "%s", serr.Error())
	}

	return protocol.Errorf(protocol.KindInternal, "%s", err.Error())
}
