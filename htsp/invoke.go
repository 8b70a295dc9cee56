package htsp

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/antenna/htsmsg"
)

// invoke performs one correlated request/response exchange.
//
// The session admits a single outstanding request; a second caller
// fails with ErrBusy rather than queueing. Push traffic received while
// the reply is pending is held in arrival order and dispatched
// strictly before the reply is handed back, so anything the caller
// reads from the mirror afterwards already reflects notifications that
// logically preceded the reply.
func (s *Session) invoke(ctx context.Context, method string, args htsmsg.Message) (htsmsg.Message, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	if s.broken.Load() {
		return nil, ErrSessionBroken
	}

	if !s.pending.CAS(false, true) {
		return nil, fmt.Errorf("Cannot send '%s': %w", method, ErrBusy)
	}
	defer s.pending.Store(false)

	tag := s.seq

	msg := make(htsmsg.Message, len(args)+4)
	for name, value := range args {
		msg[name] = value
	}
	msg["method"] = method
	msg["seq"] = tag
	if s.creds != nil {
		msg["username"] = s.creds.username
		msg["digest"] = s.creds.digest
	}

	s.log.Debug("send", zap.String("method", method), zap.Int64("seq", tag))

	if err := s.conn.Send(ctx, msg); err != nil {
		// The frame may be half written; correlation state is undefined
		s.broken.Store(true)
		return nil, err
	}

	// Anything received without a reply tag is push traffic that must
	// not be lost; hold it in arrival order until the reply shows up.
	var held []htsmsg.Message
	var reply htsmsg.Message

	for {
		in, err := s.conn.Recv(ctx)
		if err != nil {
			s.broken.Store(true)
			return nil, err
		}

		replyTag, ok := in.S64("seq")
		if !ok {
			held = append(held, in)
			continue
		}

		if replyTag != tag {
			s.broken.Store(true)
			return nil, fmt.Errorf("Sent seq %d but reply carried %d: %w", tag, replyTag, ErrOutOfSequence)
		}

		reply = in
		break
	}

	// The exchange completed; this tag is burnt whatever the reply says
	s.seq++

	var dispatchErr error
	for _, pushed := range held {
		if _, _, err := s.dispatch(pushed); err != nil {
			dispatchErr = multierr.Append(dispatchErr, err)
		}
	}
	if dispatchErr != nil {
		return nil, dispatchErr
	}

	if err := replyFailure(method, reply); err != nil {
		return nil, err
	}

	return reply, nil
}

// replyFailure maps the protocol's failure signalling onto a
// RequestError. The server reports failure three ways: an error text,
// a noaccess flag, or success=0 on the dvr verbs.
func replyFailure(method string, reply htsmsg.Message) error {
	if noaccess, ok := reply.U32("noaccess"); ok && noaccess == 1 {
		return &RequestError{Method: method, Reason: "access denied"}
	}

	if text, ok := reply.Str("error"); ok && text != "" {
		return &RequestError{Method: method, Reason: text}
	}

	if success, ok := reply.U32("success"); ok && success == 0 {
		return &RequestError{Method: method, Reason: "request was not successful"}
	}

	return nil
}
