// OAuth token functions for Instagram Business Login.
//
// Instagram uses a two-step token exchange:
//  1. Authorization code → short-lived token (1 hour) via POST to api.instagram.com
//  2. Short-lived token → long-lived token (60 days) via GET to graph.instagram.com
//
// Long-lived tokens are refreshed with ig_refresh_token before they expire.
// See: https://developers.facebook.com/docs/instagram-platform/instagram-api-with-instagram-login/business-login

package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	defaultOAuthBaseURL = "https://api.instagram.com"
	authorizeURL        = "https://www.instagram.com/oauth/authorize"
	defaultScope        = "instagram_business_basic"
)

// ExchangeCodeResult holds the response from exchanging an authorization code
// for a short-lived access token.
type ExchangeCodeResult struct {
	AccessToken string // Short-lived token (1 hour)
	UserID      string // Instagram user ID (as string)
}

// LongLivedTokenResult holds a long-lived access token, from either the
// initial exchange or a refresh.
type LongLivedTokenResult struct {
	AccessToken string // Long-lived token (60 days)
	ExpiresIn   int64  // Seconds until expiry (typically 5184000 = 60 days)
}

// shortTokenResponse is the JSON response from the Instagram token exchange endpoint.
type shortTokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
}

// shortTokenErrorResponse is the JSON error response from the Instagram token endpoint.
type shortTokenErrorResponse struct {
	ErrorType    string `json:"error_type"`
	Code         int    `json:"code"`
	ErrorMessage string `json:"error_message"`
}

// longTokenResponse is the JSON response from the exchange and refresh endpoints.
type longTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthURL builds the authorization URL the user is redirected to in order to
// connect their account. The resulting ?code= is passed to ExchangeCode.
func AuthURL(appID, redirectURI, state string) string {
	params := url.Values{
		"client_id":     {appID},
		"redirect_uri":  {redirectURI},
		"scope":         {defaultScope},
		"response_type": {"code"},
	}
	if state != "" {
		params.Set("state", state)
	}
	return authorizeURL + "?" + params.Encode()
}

// ExchangeCode exchanges an Instagram authorization code for a short-lived access token.
//
// Endpoint: POST https://api.instagram.com/oauth/access_token
func (c *Client) ExchangeCode(ctx context.Context, code, appID, appSecret, redirectURI string) (*ExchangeCodeResult, error) {
	params := url.Values{
		"client_id":     {appID},
		"client_secret": {appSecret},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	}

	log.Debug().Str("redirectUri", redirectURI).Msg("Exchanging authorization code for short-lived token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.oauthBaseURL+"/oauth/access_token",
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp shortTokenErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.ErrorMessage != "" {
			return nil, fmt.Errorf("token exchange failed: %s (type: %s, code: %d)",
				errResp.ErrorMessage, errResp.ErrorType, errResp.Code)
		}
		return nil, fmt.Errorf("token exchange failed (status %d): %s",
			resp.StatusCode, truncate(string(body), 300))
	}

	var result shortTokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("no access token in response: %s", truncate(string(body), 300))
	}

	log.Info().Str("instagramUserId", strconv.FormatInt(result.UserID, 10)).Msg("Short-lived token obtained")

	return &ExchangeCodeResult{
		AccessToken: result.AccessToken,
		UserID:      strconv.FormatInt(result.UserID, 10),
	}, nil
}

// ExchangeLongLivedToken exchanges a short-lived Instagram token for a long-lived token.
//
// Endpoint: GET https://graph.instagram.com/access_token?grant_type=ig_exchange_token
func (c *Client) ExchangeLongLivedToken(ctx context.Context, shortToken, appSecret string) (*LongLivedTokenResult, error) {
	params := url.Values{
		"grant_type":    {"ig_exchange_token"},
		"client_secret": {appSecret},
		"access_token":  {shortToken},
	}
	log.Debug().Msg("Exchanging short-lived token for long-lived token")

	result, err := c.getLongLivedToken(ctx, c.baseURL+"/access_token?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("long-lived token exchange: %w", err)
	}
	log.Info().Int64("expiresInDays", result.ExpiresIn/86400).Msg("Long-lived token obtained")
	return result, nil
}

// RefreshToken extends a long-lived token that is at least 24 hours old and
// not yet expired.
//
// Endpoint: GET https://graph.instagram.com/refresh_access_token?grant_type=ig_refresh_token
func (c *Client) RefreshToken(ctx context.Context, longToken string) (*LongLivedTokenResult, error) {
	params := url.Values{
		"grant_type":   {"ig_refresh_token"},
		"access_token": {longToken},
	}
	result, err := c.getLongLivedToken(ctx, c.baseURL+"/refresh_access_token?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	log.Info().Int64("expiresInDays", result.ExpiresIn/86400).Msg("Long-lived token refreshed")
	return result, nil
}

func (c *Client) getLongLivedToken(ctx context.Context, rawURL string) (*LongLivedTokenResult, error) {
	var result longTokenResponse
	if err := c.getJSON(ctx, rawURL, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("no access token in response")
	}
	return &LongLivedTokenResult{
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
	}, nil
}
