package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildWithMentions(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		mentions []MentionedSession
		want     string
	}{
		{
			name:    "no mentions",
			message: "What is Go?",
			want:    "What is Go?",
		},
		{
			name:     "mention without messages",
			message:  "What is Go?",
			mentions: []MentionedSession{{SessionID: "a"}},
			want:     "What is Go?",
		},
		{
			name:    "single mention",
			message: "And channels?",
			mentions: []MentionedSession{{
				SessionID: "a",
				Messages: []ContextMessage{
					{Role: "user", Content: "What is Go?"},
					{Role: "bot", Content: "A language."},
				},
			}},
			want: "Here is some previous conversation context that you should consider:\n" +
				"user: What is Go?\nbot: A language.\n" +
				"\n\nNow, based on the above context, here is the user's new message:\n" +
				"And channels?",
		},
		{
			name:    "mentions keep their order",
			message: "Compare",
			mentions: []MentionedSession{
				{SessionID: "b", Messages: []ContextMessage{{Role: "user", Content: "second"}}},
				{SessionID: "a", Messages: []ContextMessage{{Role: "user", Content: "first"}}},
			},
			want: "Here is some previous conversation context that you should consider:\n" +
				"user: second\nuser: first\n" +
				"\n\nNow, based on the above context, here is the user's new message:\n" +
				"Compare",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewContextualBuilder(tt.message, tt.mentions).Build())
		})
	}
}

func TestBuildWithPDFText(t *testing.T) {
	got := NewContextualBuilder("Summarize", nil).WithPDFText("page one").Build()
	assert.Equal(t, "Summarize\n\n[PDF Content Extracted]\npage one", got)
}
