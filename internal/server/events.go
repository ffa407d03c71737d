package server

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"streamviewer/internal/clients"
	"streamviewer/internal/sio"
	"streamviewer/internal/types"
)

// Input rejection codes carried in {ok:false,error}.
const (
	ErrCodeNotHolder      = "not_holder"
	ErrCodeNotPaused      = "not_paused"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeDispatchFailed = "dispatch_failed"
)

var errInvalidPayload = errors.New(ErrCodeInvalidPayload)

type ackResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleEvent(sock *clients.Socket, name string, arg json.RawMessage, id int) {
	if sock.Namespace != s.opts.ControlNamespace {
		s.log.Debug("ignored stream event", zap.String("event", name))
		return
	}
	switch name {
	case types.EventTakeControl, types.EventReleaseControl, types.EventPauseAgent, types.EventResumeAgent:
		s.handleLock(sock, name, id)
	case types.EventInputClick, types.EventInputMove, types.EventInputWheel,
		types.EventInputKeyDown, types.EventInputKeyUp, types.EventInputType:
		res := s.handleInput(sock.SID, name, arg)
		if id != sio.NoID {
			if err := sock.Ack(id, res); err != nil {
				s.log.Debug("ack failed", zap.Error(err))
			}
		}
	default:
		s.log.Debug("unknown event", zap.String("event", name), zap.String("sid", sock.SID))
	}
}

func (s *Server) handleLock(sock *clients.Socket, name string, id int) {
	sid := sock.SID
	if !s.events.allow(sid, s.clk.Now()) {
		s.log.Debug("lock request rate limited", zap.String("event", name), zap.String("sid", sid))
		return
	}

	var out Outcome
	switch name {
	case types.EventTakeControl:
		out = s.lock.Take(sid)
	case types.EventReleaseControl:
		out = s.lock.Release(sid)
	case types.EventPauseAgent:
		out = s.lock.Pause(sid)
	case types.EventResumeAgent:
		out = s.lock.Resume(sid)
	}
	s.m.ControlChanges.WithLabelValues(name, string(out)).Inc()

	switch out {
	case AlreadyHeld:
		s.log.Info("ctrl_already_held", zap.String("sid", sid))
	case NotHolder:
		s.log.Info("ctrl_not_holder", zap.String("event", name), zap.String("sid", sid))
	default:
		s.log.Info("control request", zap.String("event", name), zap.String("sid", sid), zap.String("outcome", string(out)))
	}

	if id != sio.NoID {
		res := ackResult{OK: out == Applied || out == Unchanged}
		if !res.OK {
			res.Error = string(out)
		}
		_ = sock.Ack(id, res)
	}
	s.broadcastControlState()
}

func (s *Server) broadcastControlState() {
	if _, err := s.clients.Broadcast(s.opts.ControlNamespace, types.EventControlState, s.lock.Snapshot()); err != nil {
		s.log.Warn("broadcast control_state failed", zap.Error(err))
	}
}

// handleInput gates, validates and dispatches one input event. Checks run
// in a fixed order so the first failing one names the rejection.
func (s *Server) handleInput(sid, name string, arg json.RawMessage) ackResult {
	if !s.lock.IsHolder(sid) {
		return ackResult{Error: ErrCodeNotHolder}
	}
	if !s.lock.Paused() {
		return ackResult{Error: ErrCodeNotPaused}
	}
	if !s.events.allow(sid, s.clk.Now()) {
		return ackResult{Error: ErrCodeRateLimited}
	}
	ev, err := decodeInput(name, arg)
	if err != nil {
		s.log.Debug("invalid input payload", zap.String("event", name), zap.Error(err))
		return ackResult{Error: ErrCodeInvalidPayload}
	}
	if err := s.opts.Sink.Dispatch(context.Background(), ev); err != nil {
		s.log.Warn("input dispatch failed", zap.String("event", name), zap.Error(err))
		return ackResult{Error: ErrCodeDispatchFailed}
	}
	return ackResult{OK: true}
}

// decodeInput checks the fields each event requires before decoding into
// its typed form.
func decodeInput(name string, arg json.RawMessage) (types.Outbound, error) {
	var fields map[string]json.RawMessage
	if len(arg) == 0 || json.Unmarshal(arg, &fields) != nil || fields == nil {
		return nil, errors.Wrap(errInvalidPayload, "payload must be an object")
	}

	var ev types.Outbound
	switch name {
	case types.EventInputClick:
		if err := requireNumbers(fields, "x", "y"); err != nil {
			return nil, err
		}
		ev = &types.InputClick{}
	case types.EventInputMove:
		if err := requireNumbers(fields, "x", "y"); err != nil {
			return nil, err
		}
		ev = &types.InputMove{}
	case types.EventInputWheel:
		if err := requireNumbers(fields, "x", "y"); err != nil {
			return nil, err
		}
		if err := optionalNumbers(fields, "delta_x", "delta_y"); err != nil {
			return nil, err
		}
		ev = &types.InputWheel{}
	case types.EventInputKeyDown, types.EventInputKeyUp:
		var key string
		if json.Unmarshal(fields["key"], &key) != nil || key == "" {
			return nil, errors.Wrap(errInvalidPayload, "key must be a non-empty string")
		}
		if name == types.EventInputKeyDown {
			ev = &types.InputKeyDown{}
		} else {
			ev = &types.InputKeyUp{}
		}
	case types.EventInputType:
		var text string
		raw, ok := fields["text"]
		if !ok || isNull(raw) || json.Unmarshal(raw, &text) != nil {
			return nil, errors.Wrap(errInvalidPayload, "text must be a string")
		}
		ev = &types.InputType{}
	default:
		return nil, errors.Wrapf(errInvalidPayload, "unknown input %s", name)
	}

	if err := json.Unmarshal(arg, ev); err != nil {
		return nil, errors.Wrap(errInvalidPayload, err.Error())
	}
	return deref(ev), nil
}

func requireNumbers(fields map[string]json.RawMessage, keys ...string) error {
	for _, k := range keys {
		var f float64
		raw, ok := fields[k]
		if !ok || isNull(raw) || json.Unmarshal(raw, &f) != nil {
			return errors.Wrapf(errInvalidPayload, "%s must be a number", k)
		}
	}
	return nil
}

func optionalNumbers(fields map[string]json.RawMessage, keys ...string) error {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var f float64
		if isNull(raw) || json.Unmarshal(raw, &f) != nil {
			return errors.Wrapf(errInvalidPayload, "%s must be a number", k)
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool { return string(raw) == "null" }

func deref(ev types.Outbound) types.Outbound {
	switch v := ev.(type) {
	case *types.InputClick:
		return *v
	case *types.InputMove:
		return *v
	case *types.InputWheel:
		return *v
	case *types.InputKeyDown:
		return *v
	case *types.InputKeyUp:
		return *v
	case *types.InputType:
		return *v
	}
	return ev
}
