package chat

import (
	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/transcript"
)

// contextWindow bounds how many canonical messages enter the responder
// context. It is a single fixed policy, not a per-call knob, to keep cost
// and latency predictable.
const contextWindow = 5

// LastWindow returns the trailing contextWindow messages of the canonical
// sequence. Shorter sequences are returned whole.
func LastWindow(canonical []transcript.CanonicalMessage) []transcript.CanonicalMessage {
	if len(canonical) <= contextWindow {
		return canonical
	}
	return canonical[len(canonical)-contextWindow:]
}

// BuildContext composes the responder prompt from the canonical transcript
// and the operator's business context. An empty sequence fails with
// ErrEmptyConversation: there is nothing to reply to, and the responder
// must not be invoked.
func BuildContext(canonical []transcript.CanonicalMessage, businessContext string) (Context, error) {
	if len(canonical) == 0 {
		return Context{}, channel.ErrEmptyConversation
	}

	window := LastWindow(canonical)
	last := window[len(window)-1]

	history := make([]Message, 0, len(window)-1)
	for _, msg := range window[:len(window)-1] {
		history = append(history, Message{Role: string(msg.Role), Content: msg.Content})
	}

	return Context{
		System:  SystemPrompt(businessContext, window),
		History: history,
		Query:   last.Content,
	}, nil
}
