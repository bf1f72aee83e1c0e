package chat

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/openai/openai-go/v3"
	gobreaker "github.com/sony/gobreaker/v2"
	"google.golang.org/genai"
)

// FailureKind categorizes a description failure for logs and metrics.
type FailureKind string

const (
	FailureInvalidKey  FailureKind = "invalid_key"
	FailureQuota       FailureKind = "quota"
	FailureNetwork     FailureKind = "network"
	FailureTimeout     FailureKind = "timeout"
	FailureServer      FailureKind = "server"
	FailureCircuitOpen FailureKind = "circuit_open"
	FailureEmpty       FailureKind = "empty"
	FailureUnknown     FailureKind = "unknown"
)

// Classify maps a Describe error to a FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyDescription):
		return FailureEmpty
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return FailureCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	}

	// genai returns APIError by value.
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return classifyStatus(geminiErr.Code)
	}
	var geminiPtr *genai.APIError
	if errors.As(err, &geminiPtr) {
		return classifyStatus(geminiPtr.Code)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return classifyStatus(openaiErr.StatusCode)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "permission denied"):
		return FailureInvalidKey
	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return FailureQuota
	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return FailureNetwork
	}
	return FailureUnknown
}

func classifyStatus(code int) FailureKind {
	switch code {
	case 400, 401, 403:
		return FailureInvalidKey
	case 429:
		return FailureQuota
	case 408, 504:
		return FailureTimeout
	}
	if code >= 500 {
		return FailureServer
	}
	return FailureUnknown
}

// IsProviderFailure reports whether err says the provider itself is unhealthy:
// transport errors, timeouts, 429 and 5xx. Errors tied to one request, such as
// a rejected image, a 4xx or an empty answer, report false.
func IsProviderFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	switch Classify(err) {
	case FailureNetwork, FailureTimeout, FailureQuota, FailureServer:
		return true
	}
	return false
}
