package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/ingest"
	"github.com/fpang/media-ingest/internal/instagram"
)

// runner is the part of ingest.Service the callback needs.
type runner interface {
	Run(ctx context.Context, userID, authCode string) ingest.Result
}

// credentialDeleter is the part of auth.Store the Meta callbacks need.
type credentialDeleter interface {
	Delete(ctx context.Context, userID string) error
}

// mediaDeleter is the part of store.Repository the data deletion callback needs.
type mediaDeleter interface {
	DeleteUser(ctx context.Context, userID string) (int, error)
}

type server struct {
	svc         runner
	creds       credentialDeleter
	media       mediaDeleter
	appID       string
	appSecret   string
	redirectURI string
	deletionURL string
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/connect", s.handleConnect)
	mux.HandleFunc("/oauth/callback", s.handleCallback)
	mux.HandleFunc("/oauth/deauth", s.handleDeauth)
	mux.HandleFunc("/oauth/delete", s.handleDelete)
	mux.HandleFunc("/oauth/deletion", s.handleDeletionStatus)
	return mux
}

// handleConnect redirects the browser to Instagram's consent screen. The
// userId query parameter travels through OAuth as the state value.
func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondHTML(w, http.StatusMethodNotAllowed, "Error", "Method not allowed.")
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondHTML(w, http.StatusBadRequest, "Error", "Missing userId.")
		return
	}
	log.Info().Str("userId", userID).Msg("Starting Instagram authorization")
	http.Redirect(w, r, instagram.AuthURL(s.appID, s.redirectURI, userID), http.StatusFound)
}

// handleCallback processes the Instagram OAuth redirect: ?code=...&state=userId
// on success, ?error=... when the user denied access. A code starts an
// ingestion run, which exchanges and stores the token first.
func (s *server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondHTML(w, http.StatusMethodNotAllowed, "Error", "Method not allowed.")
		return
	}

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		reason := q.Get("error_reason")
		log.Warn().Str("error", errParam).Str("reason", reason).Str("description", q.Get("error_description")).
			Msg("OAuth authorization denied by user")
		respondHTML(w, http.StatusOK, "Authorization Denied",
			fmt.Sprintf("Instagram authorization was denied: %s.", reason))
		return
	}

	code, userID := q.Get("code"), q.Get("state")
	if code == "" || userID == "" {
		log.Error().Bool("hasCode", code != "").Bool("hasState", userID != "").Msg("OAuth callback missing parameters")
		respondHTML(w, http.StatusBadRequest, "Error", "Missing authorization code or state.")
		return
	}

	res := s.svc.Run(r.Context(), userID, code)
	switch res.Status {
	case ingest.StatusDone:
		respondHTML(w, http.StatusOK, "Instagram Connected",
			fmt.Sprintf("Your Instagram account has been connected.<br><br>%d new media items were imported and %d were enriched.<br><br>You can close this window.",
				res.Saved, res.Enriched))
	case ingest.StatusNothingNew:
		respondHTML(w, http.StatusOK, "Instagram Connected",
			"Your Instagram account has been connected. There was no new media to import.<br><br>You can close this window.")
	default:
		log.Error().Err(res.Err).Str("userId", userID).Str("state", string(res.State)).Msg("Ingestion after OAuth failed")
		status := http.StatusBadGateway
		if res.IsRunInProgress() {
			status = http.StatusConflict
		}
		respondHTML(w, status, "Import Failed",
			"The account could not be connected or its media could not be imported. Please try again.")
	}
}

// signedUser verifies the signed_request form value Meta posts to the
// deauthorize and deletion callbacks and returns its user id.
func (s *server) signedUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return "", false
	}
	req, err := instagram.ParseSignedRequest(r.PostFormValue("signed_request"), s.appSecret)
	if err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Rejected Meta callback")
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signed_request"})
		return "", false
	}
	return req.UserID, true
}

// handleDeauth runs when the user removes the app from their Instagram
// account. The stored token is dropped so no further runs happen; media
// stays until a deletion request.
func (s *server) handleDeauth(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.signedUser(w, r)
	if !ok {
		return
	}
	if err := s.creds.Delete(r.Context(), userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Deauthorize failed")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "deauthorize failed"})
		return
	}
	log.Info().Str("userId", userID).Msg("Instagram account deauthorized")
	respondJSON(w, http.StatusOK, map[string]string{"status": "deauthorized"})
}

// handleDelete handles a data deletion request: the credential and every
// stored media item of the user are deleted before responding, and Meta gets
// a confirmation code plus a status URL to show the user.
func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.signedUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := s.creds.Delete(ctx, userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Deleting credential failed")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "deletion failed"})
		return
	}
	deleted, err := s.media.DeleteUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Deleting media failed")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "deletion failed"})
		return
	}

	code := uuid.NewString()
	log.Info().Str("userId", userID).Str("confirmationCode", code).Int("deletedMedia", deleted).Msg("User data deleted")
	respondJSON(w, http.StatusOK, map[string]string{
		"url":               s.deletionURL + "?code=" + code,
		"confirmation_code": code,
	})
}

// handleDeletionStatus is the page the deletion status URL points to.
// Deletion completes before the confirmation code is issued.
func (s *server) handleDeletionStatus(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if _, err := uuid.Parse(code); err != nil {
		respondHTML(w, http.StatusBadRequest, "Error", "Unknown confirmation code.")
		return
	}
	respondHTML(w, http.StatusOK, "Data Deleted",
		fmt.Sprintf("Deletion request %s is complete. The Instagram token and all imported media for the account were deleted.",
			html.EscapeString(code)))
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Writing JSON response failed")
	}
}

// respondHTML writes a minimal HTML page with the given title and message.
// message may contain markup; title is escaped.
func respondHTML(w http.ResponseWriter, status int, title, message string) {
	title = html.EscapeString(title)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>%s</title>
  <style>
    body { font-family: system-ui, -apple-system, sans-serif; max-width: 600px; margin: 80px auto; padding: 0 20px; text-align: center; color: #1a1a1a; }
    h1 { font-size: 1.5rem; margin-bottom: 1rem; }
    p { font-size: 1rem; line-height: 1.6; color: #444; }
  </style>
</head>
<body>
  <h1>%s</h1>
  <p>%s</p>
</body>
</html>`, title, title, message)
}
