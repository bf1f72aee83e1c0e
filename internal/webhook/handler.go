// Package webhook handles Instagram webhook subscriptions and turns media
// notifications into ingestion triggers.
//
// Verification (GET):
//
//	Meta sends hub.mode, hub.verify_token, and hub.challenge as query
//	parameters. The handler validates the verify token and responds with
//	the challenge value.
//
// Event Notification (POST):
//
//	Meta sends a JSON payload signed with X-Hub-Signature-256 (HMAC-SHA256
//	using the App Secret). After validating the signature the handler
//	triggers one ingestion per account listed in the payload.
//
// Reference: https://developers.facebook.com/docs/instagram-platform/webhooks
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// maxBodySize is the maximum allowed request body size (1 MB).
// Meta batches up to 1000 updates per notification.
const maxBodySize = 1 << 20

// Trigger starts an ingestion run for a user without waiting for it.
type Trigger interface {
	Trigger(ctx context.Context, userID string) error
}

// Notification is the body of a webhook POST.
type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one account's batch of changes. ID is the Instagram user id.
type Entry struct {
	ID      string   `json:"id"`
	Time    int64    `json:"time"`
	Changes []Change `json:"changes"`
}

// Change is a single field update.
type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// Handler handles Meta webhook verification and event notifications.
type Handler struct {
	verifyToken string
	appSecret   string
	trigger     Trigger
}

// NewHandler creates a webhook handler.
//
// verifyToken must match the Verify Token configured in the Meta App
// Dashboard. appSecret validates X-Hub-Signature-256 on POSTs. trigger may
// be nil, in which case events are only logged.
func NewHandler(verifyToken, appSecret string, trigger Trigger) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		trigger:     trigger,
	}
}

// ServeHTTP dispatches to verification (GET) or event handling (POST).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "" || challenge == "" {
		log.Warn().Str("mode", mode).Str("challenge", challenge).Msg("Webhook verification missing required parameters")
		http.Error(w, "missing required parameters", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" {
		log.Warn().Str("mode", mode).Msg("Webhook verification unexpected mode")
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return
	}
	if token != h.verifyToken {
		log.Warn().Msg("Webhook verification failed: invalid verify token")
		http.Error(w, "invalid verify token", http.StatusForbidden)
		return
	}

	log.Info().Msg("Webhook verification successful")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleEvent validates the signature, then triggers ingestion for every
// distinct account in the notification. Meta retries non-2xx responses, so
// trigger failures are logged and the request is still acknowledged.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Webhook event: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		log.Warn().Msg("Webhook event: empty body")
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		log.Warn().Msg("Webhook event: missing X-Hub-Signature-256 header")
		http.Error(w, "missing signature", http.StatusForbidden)
		return
	}
	if !h.verifySignature(body, signature) {
		log.Warn().Msg("Webhook event: invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		log.Warn().Err(err).Int("bodySize", len(body)).Msg("Webhook event: payload is not a notification")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	users := n.UserIDs()
	log.Info().Str("object", n.Object).Int("entries", len(n.Entry)).Strs("users", users).Msg("Webhook event received")

	if h.trigger != nil {
		for _, userID := range users {
			if err := h.trigger.Trigger(r.Context(), userID); err != nil {
				log.Error().Err(err).Str("userId", userID).Msg("Failed to trigger ingestion")
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

// UserIDs returns the distinct entry ids in payload order.
func (n Notification) UserIDs() []string {
	seen := make(map[string]bool, len(n.Entry))
	var ids []string
	for _, e := range n.Entry {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		ids = append(ids, e.ID)
	}
	return ids
}

// verifySignature checks a "sha256=<hex>" header against the HMAC-SHA256 of
// the body keyed with the App Secret, in constant time.
func (h *Handler) verifySignature(body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	receivedBytes, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	return hmac.Equal(receivedBytes, mac.Sum(nil))
}
