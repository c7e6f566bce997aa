package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"github.com/vnmchuo/bedrock-gateway/internal/awsclient"
	"github.com/vnmchuo/bedrock-gateway/internal/provider"
)

const DefaultModelID = "anthropic.claude-3-sonnet-20240229-v1:0"

// EventStream is the read side of a ConverseStream response.
type EventStream interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// Runtime is the subset of the Bedrock runtime API the provider uses.
type Runtime interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (EventStream, error)
}

type sdkRuntime struct {
	client *bedrockruntime.Client
}

func (r *sdkRuntime) Converse(ctx context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
	return r.client.Converse(ctx, in)
}

func (r *sdkRuntime) ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (EventStream, error) {
	out, err := r.client.ConverseStream(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

// NewRuntimeFactory returns an awsclient factory backed by the real SDK.
func NewRuntimeFactory() awsclient.Factory[Runtime] {
	return func(ctx context.Context, region string) (Runtime, error) {
		cfg, err := awsclient.LoadConfig(ctx, region)
		if err != nil {
			return nil, err
		}
		return &sdkRuntime{client: bedrockruntime.NewFromConfig(cfg)}, nil
	}
}

type BedrockProvider struct {
	runtime *awsclient.Handle[Runtime]
	modelID string
}

func New(runtime *awsclient.Handle[Runtime], modelID string) *BedrockProvider {
	if modelID == "" {
		modelID = DefaultModelID
	}
	return &BedrockProvider{
		runtime: runtime,
		modelID: modelID,
	}
}

func (p *BedrockProvider) Name() string {
	return "bedrock"
}

func (p *BedrockProvider) ModelID() string {
	return p.modelID
}

func (p *BedrockProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	rt, err := p.runtime.Get(ctx)
	if err != nil {
		return nil, err
	}

	in := p.mapRequest(req)
	out, err := rt.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         in.modelID,
		Messages:        in.messages,
		System:          in.system,
		InferenceConfig: in.inference,
	})
	if err != nil {
		return nil, classify(err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock returned no message output")
	}

	text, ok := firstText(msg.Value.Content)
	if !ok {
		return nil, fmt.Errorf("bedrock returned no text content")
	}

	resp := &provider.Response{
		Content: text,
		Model:   aws.ToString(in.modelID),
	}
	if out.Usage != nil {
		resp.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return resp, nil
}

// CompleteStream opens the vendor stream synchronously so that connection and
// throttling failures surface as a returned error rather than a chunk.
func (p *BedrockProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	rt, err := p.runtime.Get(ctx)
	if err != nil {
		return nil, err
	}

	in := p.mapRequest(req)
	stream, err := rt.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         in.modelID,
		Messages:        in.messages,
		System:          in.system,
		InferenceConfig: in.inference,
	})
	if err != nil {
		return nil, classify(err)
	}

	ch := make(chan *provider.Chunk)

	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(c *provider.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		events := stream.Events()
		for {
			var (
				ev types.ConverseStreamOutput
				ok bool
			)
			select {
			case ev, ok = <-events:
			case <-ctx.Done():
				logrus.WithField("request_id", req.RequestID).Debug("bedrock stream abandoned by caller")
				return
			}

			if !ok {
				if err := stream.Err(); err != nil {
					send(&provider.Chunk{Err: classify(err)})
					return
				}
				send(&provider.Chunk{Done: true})
				return
			}

			switch e := ev.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				delta, isText := e.Value.Delta.(*types.ContentBlockDeltaMemberText)
				if !isText || delta.Value == "" {
					continue
				}
				if !send(&provider.Chunk{Delta: delta.Value}) {
					return
				}
			}
		}
	}()

	return ch, nil
}

type converseInput struct {
	modelID   *string
	messages  []types.Message
	system    []types.SystemContentBlock
	inference *types.InferenceConfiguration
}

func (p *BedrockProvider) mapRequest(req *provider.Request) converseInput {
	modelID := req.Model
	if modelID == "" {
		modelID = p.modelID
	}

	messages := make([]types.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		if m.Role == provider.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		messages = append(messages, types.Message{
			Role:    role,
			Content: mapContent(m.Content),
		})
	}

	var system []types.SystemContentBlock
	for _, b := range req.System {
		if b.Text == "" {
			continue
		}
		system = append(system, &types.SystemContentBlockMemberText{Value: b.Text})
	}

	s := req.Settings
	return converseInput{
		modelID:  aws.String(modelID),
		messages: messages,
		system:   system,
		inference: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(s.MaxTokens)),
			Temperature: aws.Float32(float32(s.Temperature)),
			TopP:        aws.Float32(float32(s.TopP)),
		},
	}
}

func mapContent(blocks []provider.ContentBlock) []types.ContentBlock {
	out := make([]types.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Document != nil {
			out = append(out, &types.ContentBlockMemberDocument{
				Value: types.DocumentBlock{
					Format: types.DocumentFormat(b.Document.Format),
					Name:   aws.String(b.Document.Name),
					Source: &types.DocumentSourceMemberBytes{Value: b.Document.Source},
				},
			})
			continue
		}
		out = append(out, &types.ContentBlockMemberText{Value: b.Text})
	}
	return out
}

func firstText(blocks []types.ContentBlock) (string, bool) {
	for _, b := range blocks {
		if t, ok := b.(*types.ContentBlockMemberText); ok {
			return t.Value, true
		}
	}
	return "", false
}

// classify tags retryable vendor failures with provider.ErrTransient.
func classify(err error) error {
	var (
		throttled   *types.ThrottlingException
		unavailable *types.ServiceUnavailableException
		internal    *types.InternalServerException
		notReady    *types.ModelNotReadyException
		timeout     *types.ModelTimeoutException
	)
	switch {
	case errors.As(err, &throttled),
		errors.As(err, &unavailable),
		errors.As(err, &internal),
		errors.As(err, &notReady),
		errors.As(err, &timeout):
		return fmt.Errorf("%w: %w", provider.ErrTransient, err)
	}
	// Any other server-side fault, e.g. an event stream error the SDK did
	// not model.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultServer {
		return fmt.Errorf("%w: %w", provider.ErrTransient, err)
	}
	// Access and missing-model errors stay plain failures: they mean the
	// gateway is misconfigured, not that the caller sent a bad request.
	var invalid *types.ValidationException
	if errors.As(err, &invalid) || (apiErr != nil && apiErr.ErrorCode() == "ValidationException") {
		return fmt.Errorf("bedrock: %w: %w", provider.ErrInvalidRequest, err)
	}
	return fmt.Errorf("bedrock: %w", err)
}
