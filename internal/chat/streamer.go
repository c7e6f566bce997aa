package chat

import (
	"context"
	"strings"

	"github.com/vnmchuo/bedrock-gateway/internal/provider"
	"github.com/vnmchuo/bedrock-gateway/internal/telemetry"
)

// Fragment is one piece of generated text. The last fragment on a channel has
// Done set; it carries the accumulated response in Full. A fragment with Err
// set is also final.
type Fragment struct {
	Text string
	Done bool
	Full string
	Err  error

	InputTokens  int
	OutputTokens int
}

// Upstream is the vendor call surface the streamer drives.
type Upstream interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Response, error)
	CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error)
}

type Streamer struct {
	upstream Upstream
}

func NewStreamer(upstream Upstream) *Streamer {
	return &Streamer{upstream: upstream}
}

// Run makes exactly one vendor call. Errors opening the call are returned
// directly; errors after that arrive as a final fragment.
//
// In non-streaming mode the channel yields a single finished fragment with
// the whole text. In streaming mode it yields every vendor fragment followed
// by an empty finished fragment.
func (s *Streamer) Run(ctx context.Context, req *provider.Request) (<-chan Fragment, error) {
	if !req.Settings.Stream {
		resp, err := s.upstream.Complete(ctx, req)
		if err != nil {
			return nil, &UpstreamError{Err: err}
		}
		out := make(chan Fragment, 1)
		out <- Fragment{
			Text:         resp.Content,
			Done:         true,
			Full:         resp.Content,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		}
		close(out)
		return out, nil
	}

	chunks, err := s.upstream.CompleteStream(ctx, req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)

		emit := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var acc strings.Builder
		for chunk := range chunks {
			switch {
			case chunk.Err != nil:
				emit(Fragment{Err: &UpstreamError{Err: chunk.Err}})
				return
			case chunk.Done:
				emit(Fragment{Done: true, Full: acc.String()})
				return
			default:
				acc.WriteString(chunk.Delta)
				telemetry.StreamFragments.Inc()
				if !emit(Fragment{Text: chunk.Delta}) {
					return
				}
			}
		}
		// The upstream closed without a sentinel, which only happens when
		// ctx was cancelled.
	}()

	return out, nil
}

// Collect drains fragments and returns the full response text.
func Collect(fragments <-chan Fragment) (string, error) {
	var acc strings.Builder
	for f := range fragments {
		if f.Err != nil {
			return acc.String(), f.Err
		}
		if f.Done {
			if f.Full != "" {
				return f.Full, nil
			}
			acc.WriteString(f.Text)
			return acc.String(), nil
		}
		acc.WriteString(f.Text)
	}
	return acc.String(), context.Canceled
}
