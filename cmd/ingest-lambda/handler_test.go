package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fpang/media-ingest/internal/ingest"
)

type fakeRunner struct {
	userID, authCode string
	result           ingest.Result
}

func (f *fakeRunner) Run(_ context.Context, userID, authCode string) ingest.Result {
	f.userID, f.authCode = userID, authCode
	f.result.UserID = userID
	return f.result
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    IngestRequest
		wantErr bool
	}{
		{"direct", `{"userId":"u1","authCode":"c"}`, IngestRequest{UserID: "u1", AuthCode: "c"}, false},
		{"eventbridge", `{"source":"aws.events","detail":{"userId":"u2"}}`, IngestRequest{UserID: "u2"}, false},
		{"missing user", `{"authCode":"c"}`, IngestRequest{}, true},
		{"not json", `nope`, IngestRequest{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRequest(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandle_Done(t *testing.T) {
	r := &fakeRunner{result: ingest.Result{RunID: "run-1", Status: ingest.StatusDone, State: ingest.StateDone, Saved: 3}}
	h := &handler{svc: r}

	resp, err := h.Handle(context.Background(), json.RawMessage(`{"userId":"u1","authCode":"code"}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.userID != "u1" || r.authCode != "code" {
		t.Errorf("runner got %q/%q", r.userID, r.authCode)
	}
	if resp.Status != ingest.StatusDone || resp.Result["saved"] != 3 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandle_FailedRunIsNotALambdaError(t *testing.T) {
	r := &fakeRunner{result: ingest.Result{Status: ingest.StatusFailed, State: ingest.StateFailed, Err: errors.New("token expired")}}
	h := &handler{svc: r}

	resp, err := h.Handle(context.Background(), json.RawMessage(`{"userId":"u1"}`))
	if err != nil {
		t.Fatalf("unexpected lambda error: %v", err)
	}
	if resp.Error != "token expired" || len(resp.Result) != 0 {
		t.Errorf("resp = %+v", resp)
	}
}
