package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransient marks upstream failures that are worth retrying.
var ErrTransient = errors.New("transient upstream failure")

// ErrInvalidRequest marks requests the model rejected as malformed. They are
// the caller's fault and say nothing about upstream health.
var ErrInvalidRequest = errors.New("request rejected by model")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole accepts only the three conversation roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// ContentBlock holds either text or a document attachment.
type ContentBlock struct {
	Text     string
	Document *Document
}

type Document struct {
	Format string // "pdf", "txt", "md", ...
	Name   string
	Source []byte
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Text: text}
}

// Message is one conversational turn. Role is never RoleSystem.
type Message struct {
	Role    Role
	Content []ContentBlock
}

const (
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
)

type Settings struct {
	Stream      bool
	MaxTokens   int
	Temperature float64
	TopP        float64
}

func DefaultSettings() Settings {
	return Settings{
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
	}
}

type Request struct {
	Model    string
	Messages []Message
	System   []ContentBlock
	Settings Settings
	// Metadata for tracing
	RequestID string
}

type Response struct {
	ID           string
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Chunk is one element of a completion stream. A chunk with Done set is the
// terminal sentinel and carries no text.
type Chunk struct {
	Delta string
	Done  bool
	Err   error
}

type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	CompleteStream(ctx context.Context, req *Request) (<-chan *Chunk, error)
	Name() string
}
