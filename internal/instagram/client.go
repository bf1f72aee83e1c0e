// Package instagram provides a client for the Instagram Graph API read
// endpoints used by ingestion: the user's media feed (with album children
// expanded inline), cursor paging, the user profile and long-lived token
// refresh.
//
// The client is stateless with respect to users; every call takes the
// access token of the user it acts for. Responses are returned as decoded
// wire types and validated by the caller.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/media"
)

const (
	// defaultBaseURL is the Instagram Graph API host.
	defaultBaseURL = "https://graph.instagram.com"

	// apiVersion prefixes versioned Graph API paths.
	apiVersion = "/v22.0"

	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 30 * time.Second

	// DefaultPageLimit is the number of feed entries requested per page.
	DefaultPageLimit = 20

	// mediaFields are requested for every feed entry. Album children are
	// expanded inline so no per-album round trip is needed.
	mediaFields = "caption,id,media_type,media_url,permalink,thumbnail_url,timestamp,username," +
		"children{id,media_type,media_url,permalink,thumbnail_url,timestamp}"

	profileFields = "id,username,account_type,media_count"
)

// Client reads media and profile data from the Instagram Graph API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	oauthBaseURL string
	pageLimit    int
}

// NewClient creates an Instagram API client. pageLimit <= 0 uses
// DefaultPageLimit.
func NewClient(pageLimit int) *Client {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL:      defaultBaseURL,
		oauthBaseURL: defaultOAuthBaseURL,
		pageLimit:    pageLimit,
	}
}

// --- API response types ---

// apiErrorEnvelope is the error body the Graph API returns on failure.
type apiErrorEnvelope struct {
	Error *apiErr `json:"error,omitempty"`
}

type apiErr struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

// APIError is returned when the Graph API answers with an error envelope or
// a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("Instagram API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("Instagram API error: %s (type: %s, code: %d, status: %d)",
		e.Message, e.Type, e.Code, e.StatusCode)
}

// Profile is the /me response.
type Profile struct {
	ID          string `json:"id" validate:"required"`
	Username    string `json:"username" validate:"required"`
	AccountType string `json:"account_type,omitempty"`
	MediaCount  int    `json:"media_count"`
}

// --- Feed ---

// GetUserMedia fetches the first page of the user's media feed, newest first.
func (c *Client) GetUserMedia(ctx context.Context, accessToken string) (*media.Page, error) {
	params := url.Values{
		"fields":       {mediaFields},
		"limit":        {fmt.Sprint(c.pageLimit)},
		"access_token": {accessToken},
	}
	var page media.Page
	if err := c.getJSON(ctx, c.baseURL+apiVersion+"/me/media?"+params.Encode(), &page); err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	log.Debug().Int("entries", len(page.Data)).Bool("hasNext", page.NextURL() != "").Msg("Fetched first media page")
	return &page, nil
}

// GetPage follows an opaque paging.next URL returned by a previous page.
// The URL already carries the access token.
func (c *Client) GetPage(ctx context.Context, nextURL string) (*media.Page, error) {
	var page media.Page
	if err := c.getJSON(ctx, nextURL, &page); err != nil {
		return nil, fmt.Errorf("get media page: %w", err)
	}
	log.Debug().Int("entries", len(page.Data)).Bool("hasNext", page.NextURL() != "").Msg("Fetched media page")
	return &page, nil
}

// --- Profile ---

// GetProfile fetches and validates the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	params := url.Values{
		"fields":       {profileFields},
		"access_token": {accessToken},
	}
	var profile Profile
	if err := c.getJSON(ctx, c.baseURL+apiVersion+"/me?"+params.Encode(), &profile); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if err := media.Validate("user profile", &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// --- Internal helpers ---

// getJSON issues a GET and decodes a 2xx body into out. Error envelopes and
// non-2xx statuses become *APIError.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	startTime := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Instagram API response")
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Str("path", req.URL.Path).Msg("Instagram API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope apiErrorEnvelope
	_ = json.Unmarshal(body, &envelope)
	if envelope.Error != nil {
		log.Error().Str("errorMessage", envelope.Error.Message).Str("errorType", envelope.Error.Type).Int("errorCode", envelope.Error.Code).Msg("Instagram API error")
		return &APIError{
			StatusCode: httpResp.StatusCode,
			Message:    envelope.Error.Message,
			Type:       envelope.Error.Type,
			Code:       envelope.Error.Code,
		}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return &APIError{StatusCode: httpResp.StatusCode, Message: truncate(string(body), 200)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(body), 200))
	}
	return nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
