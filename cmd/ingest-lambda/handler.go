package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/ingest"
)

// IngestRequest is the direct-invocation payload. Scheduled EventBridge
// rules deliver the same fields under "detail".
type IngestRequest struct {
	UserID   string `json:"userId"`
	AuthCode string `json:"authCode,omitempty"`
}

// IngestResponse is returned to the caller. Result carries the run counters
// when Status is "done" and is empty otherwise.
type IngestResponse struct {
	RunID  string         `json:"runId,omitempty"`
	Status ingest.Status  `json:"status"`
	State  ingest.State   `json:"state"`
	Result map[string]any `json:"result"`
	Error  string         `json:"error,omitempty"`
}

type eventEnvelope struct {
	Detail json.RawMessage `json:"detail"`
}

// runner is the part of ingest.Service the handler needs.
type runner interface {
	Run(ctx context.Context, userID, authCode string) ingest.Result
}

type handler struct {
	svc runner
}

// parseRequest accepts a bare IngestRequest or an EventBridge envelope.
func parseRequest(raw json.RawMessage) (IngestRequest, error) {
	var req IngestRequest
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Detail) > 0 {
		raw = env.Detail
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("decode ingest request: %w", err)
	}
	if req.UserID == "" {
		return req, errors.New("userId is required")
	}
	return req, nil
}

// Handle runs one ingestion. Run failures are reported in the response, not
// as a Lambda error, so async retries do not repeat a failed run.
func (h *handler) Handle(ctx context.Context, raw json.RawMessage) (IngestResponse, error) {
	req, err := parseRequest(raw)
	if err != nil {
		log.Error().Err(err).Msg("Invalid ingest request")
		return IngestResponse{}, err
	}

	res := h.svc.Run(ctx, req.UserID, req.AuthCode)
	resp := IngestResponse{
		RunID:  res.RunID,
		Status: res.Status,
		State:  res.State,
		Result: res.Map(),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	log.Info().
		Str("userId", req.UserID).
		Str("runId", res.RunID).
		Str("status", string(res.Status)).
		Int("saved", res.Saved).
		Int("enriched", res.Enriched).
		Dur("elapsed", res.Elapsed).
		Msg("Ingest request complete")
	return resp, nil
}
