package transcript_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/transcript"
)

const testChannel = channel.ChannelType("instagram")

func TestNormalize_Empty(t *testing.T) {
	t.Parallel()
	got := transcript.Normalize(testChannel, "conv-1", nil, "me")
	if len(got) != 0 {
		t.Fatalf("Normalize(empty) returned %d messages, want 0", len(got))
	}
}

func TestNormalize_RoleClassification(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raws := []channel.RawMessage{
		{SenderID: "17801234", Content: "hi there", SentAt: base},
		{SenderID: "me", Content: "hello!", SentAt: base.Add(time.Minute)},
		{SenderID: "17801234", Content: "pricing?", SentAt: base.Add(2 * time.Minute)},
	}
	got := transcript.Normalize(testChannel, "conv-1", raws, "me")
	wantRoles := []transcript.Role{transcript.RoleUser, transcript.RoleAssistant, transcript.RoleUser}
	for i, msg := range got {
		if msg.Role != wantRoles[i] {
			t.Fatalf("message %d role = %q, want %q", i, msg.Role, wantRoles[i])
		}
		if msg.Channel != testChannel || msg.ConversationID != "conv-1" {
			t.Fatalf("message %d identity = (%s, %s), want (%s, conv-1)", i, msg.Channel, msg.ConversationID, testChannel)
		}
	}
}

// Random sender/timestamp permutations: output must always be sorted
// non-decreasing and roles must match the viewer id.
func TestNormalize_RandomPermutations(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	senders := []string{"viewer", "peer-a", "peer-b"}

	for round := 0; round < 100; round++ {
		n := rng.Intn(20)
		raws := make([]channel.RawMessage, 0, n)
		for i := 0; i < n; i++ {
			raws = append(raws, channel.RawMessage{
				SenderID: senders[rng.Intn(len(senders))],
				Content:  fmt.Sprintf("msg-%d-%d", round, i),
				SentAt:   base.Add(time.Duration(rng.Intn(3600)) * time.Second),
			})
		}

		got := transcript.Normalize(testChannel, "conv", raws, "viewer")
		if len(got) != n {
			t.Fatalf("round %d: got %d messages, want %d", round, len(got), n)
		}
		for i := 1; i < len(got); i++ {
			if got[i].SentAt.Before(got[i-1].SentAt) {
				t.Fatalf("round %d: messages %d and %d out of order: %v after %v",
					round, i-1, i, got[i-1].SentAt, got[i].SentAt)
			}
		}
		byContent := map[string]string{}
		for _, raw := range raws {
			byContent[raw.Content] = raw.SenderID
		}
		for _, msg := range got {
			sender := byContent[msg.Content]
			wantRole := transcript.RoleUser
			if sender == "viewer" {
				wantRole = transcript.RoleAssistant
			}
			if msg.Role != wantRole {
				t.Fatalf("round %d: %q sent by %q classified %q, want %q", round, msg.Content, sender, msg.Role, wantRole)
			}
		}
	}
}

func TestNormalize_StableOnEqualTimestamps(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raws := []channel.RawMessage{
		{SenderID: "a", Content: "first", SentAt: at},
		{SenderID: "b", Content: "second", SentAt: at},
		{SenderID: "c", Content: "third", SentAt: at},
	}
	got := transcript.Normalize(testChannel, "conv", raws, "me")
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Content != want {
			t.Fatalf("position %d = %q, want %q", i, got[i].Content, want)
		}
	}
}
