package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ObjectCompletion = "chat.completion"
	ObjectChunk      = "chat.completion.chunk"

	FinishReasonStop = "stop"
)

// now is replaced in tests.
var now = time.Now

type Envelope struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	SystemFingerprint string   `json:"system_fingerprint"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int            `json:"index"`
	Message      *ChoiceMessage `json:"message,omitempty"`
	Delta        *ChoiceMessage `json:"delta,omitempty"`
	Logprobs     *struct{}      `json:"logprobs"`
	FinishReason *string        `json:"finish_reason"`
}

type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is always zero; no token accounting is reported to callers.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EnvelopeMeta is the per-response identity shared by every chunk.
type EnvelopeMeta struct {
	ID          string
	Object      string
	Model       string
	Fingerprint string
}

// BuildEnvelope renders one response object. Streaming envelopes carry the
// content under "delta" and never include usage.
func BuildEnvelope(meta EnvelopeMeta, stream bool, content string, finished bool) *Envelope {
	msg := &ChoiceMessage{Role: "assistant", Content: content}

	choice := Choice{Index: 0}
	if stream {
		choice.Delta = msg
	} else {
		choice.Message = msg
	}
	if finished {
		reason := FinishReasonStop
		choice.FinishReason = &reason
	}

	env := &Envelope{
		ID:                meta.ID,
		Object:            meta.Object,
		Created:           now().Unix(),
		Model:             meta.Model,
		SystemFingerprint: meta.Fingerprint,
		Choices:           []Choice{choice},
	}
	if !stream {
		env.Usage = &Usage{}
	}
	return env
}

func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewFingerprint identifies this process in system_fingerprint.
func NewFingerprint() string {
	return "fp_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
}
