package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type ErrorKind string

const (
	KindRateLimit     ErrorKind = "rate_limit"
	KindAuth          ErrorKind = "auth"
	KindTimeout       ErrorKind = "timeout"
	KindUnavailable   ErrorKind = "unavailable"
	KindBadRequest    ErrorKind = "bad_request"
	KindNotConfigured ErrorKind = "not_configured"
)

// Provider names an upstream API and the env var holding its key.
type Provider struct {
	Name   string
	KeyEnv string
}

var (
	OpenAI    = Provider{Name: "OpenAI", KeyEnv: "OPENAI_API_KEY"}
	Anthropic = Provider{Name: "Anthropic", KeyEnv: "ANTHROPIC_API_KEY"}
)

// ProviderError is a failure of an upstream API. Its message is safe to show to end users.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// Classify converts an error returned by a provider SDK into a *ProviderError.
// nil, context cancellation and errors that are already classified pass through.
func Classify(p Provider, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	lower := strings.ToLower(err.Error())
	status := 0
	if m := statusCodePattern.FindStringSubmatch(lower); len(m) == 2 {
		status, _ = strconv.Atoi(m[1])
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "client.timeout"):
		return &ProviderError{
			Provider: p.Name,
			Kind:     KindTimeout,
			Message:  fmt.Sprintf("%s API did not respond in time. Please try again in a moment.", p.Name),
			Err:      err,
		}
	case status == 429,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "quota"):
		return &ProviderError{
			Provider: p.Name,
			Kind:     KindRateLimit,
			Message: fmt.Sprintf("%s API rate limit exceeded or insufficient quota. "+
				"Please check your %s account billing and plan, or wait for the rate limit to reset.", p.Name, p.Name),
			Err: err,
		}
	case status == 401, status == 403,
		strings.Contains(lower, "authentication"),
		strings.Contains(lower, "invalid api key"),
		strings.Contains(lower, "incorrect api key"):
		return &ProviderError{
			Provider: p.Name,
			Kind:     KindAuth,
			Message:  fmt.Sprintf("%s API authentication failed. Please check that your %s is correct and valid.", p.Name, p.KeyEnv),
			Err:      err,
		}
	case status >= 400 && status < 500:
		return &ProviderError{
			Provider: p.Name,
			Kind:     KindBadRequest,
			Message:  fmt.Sprintf("%s API rejected the request: %s", p.Name, err.Error()),
			Err:      err,
		}
	default:
		return &ProviderError{
			Provider: p.Name,
			Kind:     KindUnavailable,
			Message:  fmt.Sprintf("%s API error: %s", p.Name, err.Error()),
			Err:      err,
		}
	}
}

func notConfigured(p Provider) *ProviderError {
	return &ProviderError{
		Provider: p.Name,
		Kind:     KindNotConfigured,
		Message:  fmt.Sprintf("%s API key is not configured. Please set %s in your environment.", p.Name, p.KeyEnv),
	}
}
