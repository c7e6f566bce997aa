package chat

import (
	"errors"
	"fmt"
	"math"

	"github.com/vnmchuo/bedrock-gateway/internal/provider"
)

// ValidationError is a request problem the caller can fix.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// UpstreamError wraps a failed vendor call. Its message is safe to return to
// callers; the cause is only for logs.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upstream inference failed" }
func (e *UpstreamError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the inbound chat-completion body.
type CompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return &ValidationError{Msg: "Messages not given!"}
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return &ValidationError{Msg: "max_tokens must be positive"}
	}
	if r.MaxTokens != nil && int64(*r.MaxTokens) > math.MaxInt32 {
		return &ValidationError{Msg: "max_tokens is too large"}
	}
	if r.Temperature != nil && *r.Temperature < 0 {
		return &ValidationError{Msg: "temperature must not be negative"}
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return &ValidationError{Msg: "top_p must be between 0 and 1"}
	}
	for i, m := range r.Messages {
		if _, err := provider.ParseRole(m.Role); err != nil {
			return &ValidationError{Msg: fmt.Sprintf("messages[%d]: %v", i, err)}
		}
	}
	return nil
}

// Settings fills unset sampling parameters with the defaults. Explicit zero
// values are kept.
func (r *CompletionRequest) Settings() provider.Settings {
	s := provider.DefaultSettings()
	s.Stream = r.Stream
	if r.MaxTokens != nil {
		s.MaxTokens = *r.MaxTokens
	}
	if r.Temperature != nil {
		s.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		s.TopP = *r.TopP
	}
	return s
}
