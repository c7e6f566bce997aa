package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/bedrock-gateway/internal/provider"
)

func texts(turns []provider.Message) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Content[0].Text)
	}
	return out
}

func TestNormalize_CollapsesConsecutiveSameRole(t *testing.T) {
	turns, system, err := Normalize([]ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "user", Content: "second"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "third"},
	})
	require.NoError(t, err)
	assert.Empty(t, system)

	require.Len(t, turns, 3)
	assert.Equal(t, []string{"second", "reply", "third"}, texts(turns))
	assert.Equal(t, provider.RoleUser, turns[0].Role)
	assert.Equal(t, provider.RoleAssistant, turns[1].Role)
}

func TestNormalize_NeverAdjacentSameRole(t *testing.T) {
	cases := [][]ChatMessage{
		{{Role: "user", Content: "a"}, {Role: "user", Content: "b"}, {Role: "user", Content: "c"}},
		{{Role: "assistant", Content: "a"}, {Role: "assistant", Content: "b"}, {Role: "user", Content: "c"}},
		{{Role: "user", Content: "a"}, {Role: "system", Content: "s"}, {Role: "user", Content: "b"}},
		{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}, {Role: "assistant", Content: "c"}, {Role: "user", Content: "d"}, {Role: "user", Content: "e"}},
	}

	for _, msgs := range cases {
		turns, _, err := Normalize(msgs)
		require.NoError(t, err)
		for i := 1; i < len(turns); i++ {
			assert.NotEqual(t, turns[i-1].Role, turns[i].Role, "adjacent turns %d and %d share a role", i-1, i)
		}
	}
}

func TestNormalize_SystemMessagesSeparatedInOrder(t *testing.T) {
	turns, system, err := Normalize([]ChatMessage{
		{Role: "system", Content: "s1"},
		{Role: "user", Content: "u1"},
		{Role: "system", Content: "s2"},
		{Role: "assistant", Content: "a1"},
		{Role: "system", Content: "s3"},
	})
	require.NoError(t, err)

	for _, turn := range turns {
		assert.NotEqual(t, provider.RoleSystem, turn.Role)
	}
	require.Len(t, system, 3)
	assert.Equal(t, "s1", system[0].Text)
	assert.Equal(t, "s2", system[1].Text)
	assert.Equal(t, "s3", system[2].Text)
}

func TestNormalize_SystemBetweenSameRoleStillCollapses(t *testing.T) {
	turns, system, err := Normalize([]ChatMessage{
		{Role: "user", Content: "a"},
		{Role: "system", Content: "s"},
		{Role: "user", Content: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, texts(turns))
	assert.Len(t, system, 1)
}

func TestNormalize_UnknownRoleRejected(t *testing.T) {
	_, _, err := Normalize([]ChatMessage{
		{Role: "user", Content: "a"},
		{Role: "tool", Content: "b"},
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "messages[1]")
}

func TestLastUserText(t *testing.T) {
	q, ok := LastUserText([]ChatMessage{{Role: "system", Content: "s"}, {Role: "user", Content: "question"}})
	assert.True(t, ok)
	assert.Equal(t, "question", q)

	_, ok = LastUserText([]ChatMessage{{Role: "user", Content: "q"}, {Role: "assistant", Content: "a"}})
	assert.False(t, ok)

	_, ok = LastUserText(nil)
	assert.False(t, ok)
}

func TestAttachContext(t *testing.T) {
	turns := []provider.Message{
		{Role: provider.RoleUser, Content: []provider.ContentBlock{provider.TextBlock("q1")}},
		{Role: provider.RoleAssistant, Content: []provider.ContentBlock{provider.TextBlock("a1")}},
		{Role: provider.RoleUser, Content: []provider.ContentBlock{provider.TextBlock("q2")}},
	}

	ok := AttachContext(turns, "ctx")
	require.True(t, ok)
	require.Len(t, turns[2].Content, 2)
	assert.Equal(t, "ctx", turns[2].Content[0].Text)
	assert.Equal(t, "q2", turns[2].Content[1].Text)
	assert.Len(t, turns[0].Content, 1)
}

func TestAttachContext_SkipsTrailingAssistant(t *testing.T) {
	turns := []provider.Message{
		{Role: provider.RoleUser, Content: []provider.ContentBlock{provider.TextBlock("q1")}},
		{Role: provider.RoleAssistant, Content: []provider.ContentBlock{provider.TextBlock("a1")}},
	}

	require.True(t, AttachContext(turns, "ctx"))
	assert.Equal(t, "ctx", turns[0].Content[0].Text)
	assert.Len(t, turns[1].Content, 1)
}

func TestAttachContext_NoUserTurn(t *testing.T) {
	turns := []provider.Message{
		{Role: provider.RoleAssistant, Content: []provider.ContentBlock{provider.TextBlock("a1")}},
	}
	assert.False(t, AttachContext(turns, "ctx"))
}
