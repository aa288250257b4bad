package service

import (
	"context"
	"testing"
	"time"

	"chat-gateway-be/internal/entity"
	"chat-gateway-be/internal/repository/unitofwork"
	"chat-gateway-be/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitGuard(t *testing.T) {
	ctx := context.Background()
	uowFactory := unitofwork.NewRepositoryFactory(testutil.NewSQLiteDB(t))
	writer := NewSessionWriter(uowFactory, "")

	seed := func(turns int) uuid.UUID {
		ref := entity.NewSessionRef()
		var id uuid.UUID
		for i := 0; i < turns; i++ {
			var err error
			id, err = writer.Persist(ctx, PersistTurn{
				Ref:         ref,
				UserMessage: "q",
				UserAt:      time.Now().UTC(),
				BotReply:    "a",
				BotAt:       time.Now().UTC(),
			})
			require.NoError(t, err)
			ref = entity.ExistingSessionRef(id)
		}
		return id
	}

	belowLimit := seed(2)
	atLimit := seed(3)

	guard := NewLimitGuard(uowFactory, 3)

	tests := []struct {
		name      string
		sessionId string
		want      bool
	}{
		{name: "empty", sessionId: "", want: false},
		{name: "new session marker", sessionId: "1", want: false},
		{name: "malformed", sessionId: "abc", want: false},
		{name: "unknown session", sessionId: uuid.NewString(), want: false},
		{name: "below limit", sessionId: belowLimit.String(), want: false},
		{name: "at limit", sessionId: atLimit.String(), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.IsLimited(ctx, tt.sessionId)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
