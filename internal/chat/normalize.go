package chat

import (
	"fmt"

	"github.com/vnmchuo/bedrock-gateway/internal/provider"
)

// Normalize converts inbound messages into vendor turns and system prompts.
//
// System messages are collected in order. User and assistant messages become
// turns; when a turn has the same role as the one before it, the earlier turn
// is replaced, so the result always alternates roles.
func Normalize(msgs []ChatMessage) ([]provider.Message, []provider.ContentBlock, error) {
	turns := make([]provider.Message, 0, len(msgs))
	var system []provider.ContentBlock

	for i, m := range msgs {
		role, err := provider.ParseRole(m.Role)
		if err != nil {
			return nil, nil, &ValidationError{Msg: fmt.Sprintf("messages[%d]: %v", i, err)}
		}

		switch role {
		case provider.RoleSystem:
			system = append(system, provider.TextBlock(m.Content))
		case provider.RoleUser, provider.RoleAssistant:
			if n := len(turns); n > 0 && turns[n-1].Role == role {
				turns = turns[:n-1]
			}
			turns = append(turns, provider.Message{
				Role:    role,
				Content: []provider.ContentBlock{provider.TextBlock(m.Content)},
			})
		}
	}

	return turns, system, nil
}

// LastUserText returns the text of the final message when it was sent by the
// user. It is the retrieval query for knowledge-base augmentation.
func LastUserText(msgs []ChatMessage) (string, bool) {
	if len(msgs) == 0 {
		return "", false
	}
	last := msgs[len(msgs)-1]
	if last.Role != string(provider.RoleUser) {
		return "", false
	}
	return last.Content, true
}

// AttachContext prepends text as a content block on the last user turn.
// It reports false when there is no user turn.
func AttachContext(turns []provider.Message, text string) bool {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != provider.RoleUser {
			continue
		}
		content := make([]provider.ContentBlock, 0, len(turns[i].Content)+1)
		content = append(content, provider.TextBlock(text))
		content = append(content, turns[i].Content...)
		turns[i].Content = content
		return true
	}
	return false
}
