package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wiifm74/equilibria/internal/audit"
	"github.com/wiifm74/equilibria/internal/auth"
	"github.com/wiifm74/equilibria/internal/controller"
	"github.com/wiifm74/equilibria/internal/protocol"
)

const apiV1 = "/api/v1"

// maxCommandBody caps POST /command bodies; a command is a name plus a
// small payload object.
const maxCommandBody = 64 << 10

// validCommands lists the accepted command names, in documentation order.
var validCommands = []string{
	protocol.TypeGetTelemetry,
	protocol.TypeSetMode,
	protocol.TypeSetTargets,
}

// commandRequest is the body of POST /api/v1/command. Payload stays raw so
// each command can apply its own schema.
type commandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterRoutes registers all API routes on the mux. Reads need the read
// scope, commands the control scope; the stream also admits telemetry-only
// tokens so dedicated consumers can hold a narrow credential.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	requireAuth := s.authMw.RequireAuth
	requireRead := s.authMw.RequireScope(auth.ScopeRead)
	requireStream := s.authMw.RequireAnyScope(auth.ScopeRead, auth.ScopeTelemetry)
	requireControl := s.authMw.RequireScope(auth.ScopeControl)

	mux.HandleFunc(apiV1+"/health", withCorrelation(requireAuth(s.handleHealth)))
	mux.HandleFunc(apiV1+"/status", withCorrelation(requireAuth(requireRead(s.handleStatus))))
	mux.HandleFunc(apiV1+"/telemetry", withCorrelation(requireAuth(requireRead(s.handleTelemetry))))
	mux.HandleFunc(apiV1+"/telemetry/ws", withCorrelation(requireAuth(requireStream(s.handleTelemetryWS))))
	mux.HandleFunc(apiV1+"/command", withCorrelation(requireAuth(requireControl(s.handleCommand))))
}

// handleCommand accepts a command envelope, validates its shape, and hands
// it to the controller session. Acks come back asynchronously over the
// telemetry channel, so success here means dispatched, not applied.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST is supported", nil)
		return
	}

	start := time.Now()
	corrID := correlationID(r)
	subject := auth.SubjectFromRequest(r)

	var req commandRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.audit(subject, req.Command, nil, audit.OutcomeRejected, start, corrID)
		WriteAPIError(w, r, badRequest("Invalid request body",
			map[string]any{"original": err.Error()}))
		return
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		s.audit(subject, req.Command, nil, audit.OutcomeRejected, start, corrID)
		WriteAPIError(w, r, badRequest("Unexpected trailing data in request body", nil))
		return
	}
	if req.Command == "" {
		s.audit(subject, req.Command, nil, audit.OutcomeRejected, start, corrID)
		WriteAPIError(w, r, badRequest("Missing required field: command", nil))
		return
	}

	dispatch, params, apiErr := s.buildDispatch(&req)
	if apiErr != nil {
		s.audit(subject, req.Command, params, audit.OutcomeRejected, start, corrID)
		WriteAPIError(w, r, apiErr)
		return
	}

	if err := dispatch(r.Context()); err != nil {
		outcome := audit.OutcomeError
		if errors.Is(err, controller.ErrNotConnected) || errors.Is(err, controller.ErrStopped) {
			outcome = audit.OutcomeUnavailable
		}
		s.audit(subject, req.Command, params, outcome, start, corrID)
		WriteAPIError(w, r, err)
		return
	}

	s.audit(subject, req.Command, params, audit.OutcomeDispatched, start, corrID)
	log.WithFields(log.Fields{
		"component":     "api",
		"command":       req.Command,
		"subject":       subject,
		"correlationId": corrID,
	}).Info("Command dispatched")

	WriteAccepted(w, r, map[string]any{
		"command": req.Command,
		"status":  "dispatched",
	})
}

// buildDispatch validates the command payload and returns the matching
// session call plus the parameters worth auditing.
func (s *Server) buildDispatch(req *commandRequest) (func(context.Context) error, map[string]any, *APIError) {
	switch req.Command {
	case protocol.TypeGetTelemetry:
		if len(req.Payload) > 0 {
			if err := decodeStrict(req.Payload, &struct{}{}); err != nil {
				return nil, nil, badRequest("get_telemetry takes no parameters",
					map[string]any{"original": err.Error()})
			}
		}
		return s.commands.RequestTelemetry, nil, nil

	case protocol.TypeSetMode:
		var p struct {
			Mode string `json:"mode"`
		}
		if len(req.Payload) == 0 {
			return nil, nil, badRequest("set_mode requires a payload", nil)
		}
		if err := decodeStrict(req.Payload, &p); err != nil {
			return nil, nil, badRequest("Invalid set_mode payload",
				map[string]any{"original": err.Error()})
		}
		if p.Mode == "" {
			return nil, nil, badRequest("Missing required field: mode", nil)
		}
		params := map[string]any{"mode": p.Mode}
		dispatch := func(ctx context.Context) error {
			return s.commands.SetMode(ctx, p.Mode)
		}
		return dispatch, params, nil

	case protocol.TypeSetTargets:
		var p struct {
			Targets map[string]any `json:"targets"`
		}
		if len(req.Payload) == 0 {
			return nil, nil, badRequest("set_targets requires a payload", nil)
		}
		if err := decodeStrict(req.Payload, &p); err != nil {
			return nil, nil, badRequest("Invalid set_targets payload",
				map[string]any{"original": err.Error()})
		}
		if len(p.Targets) == 0 {
			return nil, nil, badRequest("set_targets requires at least one target", nil)
		}
		params := map[string]any{"targets": p.Targets}
		dispatch := func(ctx context.Context) error {
			return s.commands.SetTargets(ctx, p.Targets)
		}
		return dispatch, params, nil

	default:
		return nil, nil, badRequest("Unknown command: "+req.Command,
			map[string]any{"validCommands": validCommands})
	}
}

// decodeStrict decodes raw into v, rejecting unknown fields and trailing
// data.
func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// handleTelemetry serves the last-known telemetry snapshot.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET is supported", nil)
		return
	}

	snap, ok := s.snapshots.Get()
	if !ok {
		WriteAPIError(w, r, ErrNoTelemetry)
		return
	}
	WriteSuccess(w, r, snap)
}

// handleStatus reports gateway-wide operational state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET is supported", nil)
		return
	}

	published, dropped := s.broadcast.Stats()
	data := map[string]any{
		"version":    apiVersion,
		"uptimeSec":  int64(time.Since(s.startTime).Seconds()),
		"controller": s.session.Stats(),
		"telemetry": map[string]any{
			"subscribers": s.broadcast.SubscriberCount(),
			"published":   published,
			"dropped":     dropped,
		},
		"auth": map[string]any{
			"enabled": s.authMw.Enabled(),
		},
	}
	if snap, ok := s.snapshots.Get(); ok {
		data["lastTelemetry"] = map[string]any{
			"seq":    snap.Seq,
			"mode":   snap.Mode(),
			"ageSec": int64(time.Since(snap.ReceivedAt).Seconds()),
		}
	}
	WriteSuccess(w, r, data)
}

// handleHealth is the liveness probe. A down controller session is normal
// operation (the manager is reconnecting), so health stays 200 as long as
// the gateway itself serves; the controller state rides along for
// dashboards.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET is supported", nil)
		return
	}

	WriteSuccess(w, r, map[string]any{
		"status":    "ok",
		"version":   apiVersion,
		"uptimeSec": int64(time.Since(s.startTime).Seconds()),
		"controller": map[string]any{
			"state": s.session.State().String(),
		},
	})
}
