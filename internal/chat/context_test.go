package chat_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/chat"
	"github.com/inboxflow/inboxflow/internal/transcript"
)

func canonicalSeq(n int) []transcript.CanonicalMessage {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	out := make([]transcript.CanonicalMessage, 0, n)
	for i := 0; i < n; i++ {
		role := transcript.RoleUser
		if i%2 == 1 {
			role = transcript.RoleAssistant
		}
		out = append(out, transcript.CanonicalMessage{
			ConversationID: "conv",
			Channel:        channel.ChannelType("instagram"),
			Role:           role,
			Content:        fmt.Sprintf("message %d", i),
			SentAt:         base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestBuildContext_Empty(t *testing.T) {
	t.Parallel()
	_, err := chat.BuildContext(nil, "some shop")
	if !errors.Is(err, channel.ErrEmptyConversation) {
		t.Fatalf("BuildContext(empty) error = %v, want ErrEmptyConversation", err)
	}
}

func TestBuildContext_WindowIsLastFive(t *testing.T) {
	t.Parallel()
	seq := canonicalSeq(6)
	got, err := chat.BuildContext(seq, "")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	// Six prior messages: the window holds exactly the last five, so
	// "message 0" must be absent and "message 1".."message 5" present.
	if strings.Contains(got.System, "message 0") {
		t.Fatalf("system prompt contains message outside the window:\n%s", got.System)
	}
	for i := 1; i <= 5; i++ {
		if !strings.Contains(got.System, fmt.Sprintf("message %d", i)) {
			t.Fatalf("system prompt missing window message %d:\n%s", i, got.System)
		}
	}
	if got.Query != "message 5" {
		t.Fatalf("query = %q, want the final message", got.Query)
	}
	// History is the window minus the final turn.
	if len(got.History) != 4 {
		t.Fatalf("history length = %d, want 4", len(got.History))
	}
	if got.History[0].Content != "message 1" {
		t.Fatalf("history starts at %q, want message 1", got.History[0].Content)
	}
}

func TestBuildContext_ShortSequence(t *testing.T) {
	t.Parallel()
	seq := canonicalSeq(2)
	got, err := chat.BuildContext(seq, "")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(got.History) != 1 || got.Query != "message 1" {
		t.Fatalf("short sequence context = history %d / query %q", len(got.History), got.Query)
	}
}

func TestBuildContext_PreambleAndBusinessContext(t *testing.T) {
	t.Parallel()
	got, err := chat.BuildContext(canonicalSeq(1), "Plant nursery, ships EU only")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if !strings.Contains(got.System, "customer service AI assistant") {
		t.Fatalf("system prompt missing instructional preamble:\n%s", got.System)
	}
	if !strings.Contains(got.System, "Plant nursery, ships EU only") {
		t.Fatalf("system prompt missing business context:\n%s", got.System)
	}
}

func TestBuildContext_DefaultBusinessContext(t *testing.T) {
	t.Parallel()
	got, err := chat.BuildContext(canonicalSeq(1), "   ")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if !strings.Contains(got.System, chat.DefaultBusinessContext) {
		t.Fatalf("system prompt missing default business context:\n%s", got.System)
	}
}
