package history

import (
	"context"
	"testing"
	"time"

	"chat-gateway-be/internal/entity"
	"chat-gateway-be/internal/repository/implementation"
	"chat-gateway-be/internal/repository/unitofwork"
	"chat-gateway-be/internal/testutil"
	"chat-gateway-be/pkg/rag/prompt"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMentions(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	sessions := implementation.NewChatSessionRepository(db)
	messages := implementation.NewChatMessageRepository(db)

	seed := func(name string, lines ...string) uuid.UUID {
		s := &entity.ChatSession{SessionName: name}
		require.NoError(t, sessions.Create(ctx, s))
		var batch []*entity.ChatMessage
		for i, line := range lines {
			role := "user"
			if i%2 == 1 {
				role = "bot"
			}
			batch = append(batch, &entity.ChatMessage{
				ChatSessionId: s.Id,
				Position:      i + 1,
				Role:          role,
				Content:       line,
				Timestamp:     time.Now().UTC(),
			})
		}
		if len(batch) > 0 {
			require.NoError(t, messages.CreateBatch(ctx, batch))
		}
		return s.Id
	}

	first := seed("first", "What is Go?", "A language.")
	second := seed("second", "Tabs or spaces?", "Tabs.")
	deleted := seed("deleted", "gone")
	require.NoError(t, sessions.Delete(ctx, deleted))

	loader := NewLoader(unitofwork.NewRepositoryFactory(db))

	t.Run("order kept and junk skipped", func(t *testing.T) {
		got, err := loader.LoadMentions(ctx, []string{
			second.String(), "not-a-uuid", uuid.NewString(), deleted.String(), first.String(),
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, second.String(), got[0].SessionID)
		assert.Equal(t, first.String(), got[1].SessionID)
		assert.Equal(t, []prompt.ContextMessage{
			{Role: "user", Content: "What is Go?"},
			{Role: "bot", Content: "A language."},
		}, got[1].Messages)
	})

	t.Run("nothing requested", func(t *testing.T) {
		got, err := loader.LoadMentions(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("composed prompt", func(t *testing.T) {
		got, err := loader.LoadMentions(ctx, []string{first.String()})
		require.NoError(t, err)
		assert.Equal(t,
			"Here is some previous conversation context that you should consider:\n"+
				"user: What is Go?\nbot: A language.\n"+
				"\n\nNow, based on the above context, here is the user's new message:\n"+
				"And now?",
			prompt.NewContextualBuilder("And now?", got).Build())
	})
}
