// Package llm sends prompts to hosted language models.
package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model answered with no text
var ErrEmptyResponse = errors.New("no response from model")

// Request is a single prompt
type Request struct {
	System string
	User   string
	JSON   bool // ask for an application/json answer
}

// Generator produces a text completion for a request
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	// Name identifies the backend as provider:model
	Name() string
}

// ProviderError carries a provider failure together with its retry class
type ProviderError struct {
	Provider  string
	Err       error
	Temporary bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether a failed call is worth retrying later
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Temporary
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return temporaryStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return temporaryStatus(apiErrPtr.Code)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func temporaryStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// temporaryMessage guesses the retry class from an error message for
// providers that do not expose status codes.
func temporaryMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"429", "rate limit", "overloaded", "529", "500", "502", "503", "504", "timeout", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Throttled wraps a generator with a request rate and a per-call timeout
type Throttled struct {
	next    Generator
	limiter *rate.Limiter
	timeout time.Duration
}

// NewThrottled limits next to perMinute calls per minute (0 = unlimited) and
// bounds every call by timeout (0 = no bound).
func NewThrottled(next Generator, perMinute int, timeout time.Duration) *Throttled {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
	}
}

// Generate waits for the limiter and forwards the call
func (t *Throttled) Generate(ctx context.Context, req Request) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.next.Generate(ctx, req)
}

// Name returns the wrapped generator's name
func (t *Throttled) Name() string {
	return t.next.Name()
}
