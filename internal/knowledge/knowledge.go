package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/vnmchuo/bedrock-gateway/internal/awsclient"
)

const DefaultNumberOfResults = 2

var ErrEmptyQuery = errors.New("empty retrieval query")

// RetrieveAPI is the subset of the Bedrock agent runtime the retriever uses.
type RetrieveAPI interface {
	Retrieve(ctx context.Context, in *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// NewAgentFactory returns an awsclient factory backed by the real SDK.
func NewAgentFactory() awsclient.Factory[RetrieveAPI] {
	return func(ctx context.Context, region string) (RetrieveAPI, error) {
		cfg, err := awsclient.LoadConfig(ctx, region)
		if err != nil {
			return nil, err
		}
		return bedrockagentruntime.NewFromConfig(cfg), nil
	}
}

type Retriever struct {
	agent           *awsclient.Handle[RetrieveAPI]
	knowledgeBaseID string
	numberOfResults int32
}

func NewRetriever(agent *awsclient.Handle[RetrieveAPI], knowledgeBaseID string, numberOfResults int) *Retriever {
	if numberOfResults <= 0 {
		numberOfResults = DefaultNumberOfResults
	}
	return &Retriever{
		agent:           agent,
		knowledgeBaseID: knowledgeBaseID,
		numberOfResults: int32(numberOfResults),
	}
}

// Passage is one retrieved chunk of knowledge-base text.
type Passage struct {
	Text     string
	Score    float64
	Location string
}

func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	agent, err := r.agent.Get(ctx)
	if err != nil {
		return nil, err
	}

	out, err := agent.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(r.knowledgeBaseID),
		RetrievalQuery:  &types.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(r.numberOfResults),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge base retrieve: %w", err)
	}

	passages := make([]Passage, 0, len(out.RetrievalResults))
	for _, res := range out.RetrievalResults {
		if res.Content == nil || aws.ToString(res.Content.Text) == "" {
			continue
		}
		p := Passage{
			Text:  aws.ToString(res.Content.Text),
			Score: aws.ToFloat64(res.Score),
		}
		if res.Location != nil && res.Location.S3Location != nil {
			p.Location = aws.ToString(res.Location.S3Location.Uri)
		}
		passages = append(passages, p)
	}
	return passages, nil
}

// Augment returns the retrieved passages as a single context text, or an
// empty string when nothing matched.
func (r *Retriever) Augment(ctx context.Context, query string) (string, error) {
	passages, err := r.Retrieve(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatContext(passages), nil
}

func FormatContext(passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant context from the knowledge base:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, p.Text)
	}
	return b.String()
}
