package instagram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrBadSignedRequest is returned for a signed_request that is malformed or
// not signed with the app secret.
var ErrBadSignedRequest = errors.New("invalid signed_request")

// SignedRequest is the payload Meta posts to the deauthorize and data
// deletion callbacks.
type SignedRequest struct {
	Algorithm string `json:"algorithm"`
	IssuedAt  int64  `json:"issued_at"`
	Expires   int64  `json:"expires"`
	UserID    string `json:"-"`
}

// ParseSignedRequest verifies and decodes a signed_request form value of the
// form base64url(signature).base64url(payload), where signature is the
// HMAC-SHA256 of the encoded payload keyed by the app secret.
func ParseSignedRequest(signed, appSecret string) (*SignedRequest, error) {
	sigPart, payloadPart, ok := strings.Cut(signed, ".")
	if !ok || sigPart == "" || payloadPart == "" {
		return nil, fmt.Errorf("%w: expected signature.payload", ErrBadSignedRequest)
	}
	sig, err := decodeSegment(sigPart)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrBadSignedRequest, err)
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(payloadPart))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrBadSignedRequest)
	}

	raw, err := decodeSegment(payloadPart)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrBadSignedRequest, err)
	}
	var payload struct {
		SignedRequest
		UserID json.RawMessage `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrBadSignedRequest, err)
	}
	if !strings.EqualFold(payload.Algorithm, "HMAC-SHA256") {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrBadSignedRequest, payload.Algorithm)
	}
	// user_id arrives as a string or a bare number.
	req := payload.SignedRequest
	req.UserID = strings.Trim(string(payload.UserID), `"`)
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrBadSignedRequest)
	}
	return &req, nil
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
