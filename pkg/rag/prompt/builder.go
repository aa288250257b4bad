package prompt

import (
	"strings"
)

// ContextMessage is one stored line of a mentioned conversation.
type ContextMessage struct {
	Role    string
	Content string
}

// MentionedSession is a prior session the user pulled into this turn.
type MentionedSession struct {
	SessionID string
	Messages  []ContextMessage
}

const (
	contextHeader = "Here is some previous conversation context that you should consider:\n"
	messageHeader = "\n\nNow, based on the above context, here is the user's new message:\n"
	pdfMarker     = "\n\n[PDF Content Extracted]\n"
)

// ContextualBuilder assembles the final prompt text for one turn
type ContextualBuilder struct {
	message  string
	mentions []MentionedSession
	pdfText  string
}

func NewContextualBuilder(message string, mentions []MentionedSession) *ContextualBuilder {
	return &ContextualBuilder{
		message:  message,
		mentions: mentions,
	}
}

// WithPDFText appends extracted document text after the composed prompt.
func (b *ContextualBuilder) WithPDFText(text string) *ContextualBuilder {
	b.pdfText = text
	return b
}

func (b *ContextualBuilder) Build() string {
	var prompt strings.Builder

	context := b.context()
	if context == "" {
		prompt.WriteString(b.message)
	} else {
		prompt.WriteString(contextHeader)
		prompt.WriteString(context)
		prompt.WriteString(messageHeader)
		prompt.WriteString(b.message)
	}

	b.writePDFText(&prompt)

	return prompt.String()
}

// context renders every mentioned message as "role: content\n", mentions in
// the order given and messages in stored order.
func (b *ContextualBuilder) context() string {
	var sb strings.Builder
	for _, m := range b.mentions {
		for _, msg := range m.Messages {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (b *ContextualBuilder) writePDFText(prompt *strings.Builder) {
	if b.pdfText == "" {
		return
	}
	prompt.WriteString(pdfMarker)
	prompt.WriteString(b.pdfText)
}
