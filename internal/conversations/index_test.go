package conversations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/sync-service/internal/model"
	"github.com/fathima-sithara/sync-service/internal/stream"
)

func confirmed(id, from, to, content string, at time.Time, read bool) stream.Entry {
	return stream.Entry{
		Status: stream.StatusConfirmed,
		Message: model.Message{
			ID: id, SenderID: from, ReceiverID: to, Content: content,
			CreatedAt: at, Read: read,
		},
	}
}

func TestFoldGroupsAndCounts(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	entries := []stream.Entry{
		confirmed("m1", "bob", "alice", "hey", base, false),
		confirmed("m2", "alice", "bob", "hi", base.Add(time.Minute), true),
		confirmed("m3", "bob", "alice", "you there?", base.Add(2*time.Minute), false),
		confirmed("m4", "carol", "alice", "invoice sent", base.Add(3*time.Minute), false),
	}

	convs := Fold("alice", entries)
	require.Len(t, convs, 2)

	// sorted by last activity, newest first
	require.Equal(t, "carol", convs[0].PeerID)
	require.Equal(t, "invoice sent", convs[0].LastContent)
	require.Equal(t, 1, convs[0].Unread)

	require.Equal(t, "bob", convs[1].PeerID)
	require.Equal(t, "you there?", convs[1].LastContent)
	require.Equal(t, 2, convs[1].Unread)
	require.False(t, convs[1].Pending)
}

func TestFoldUnreadCountsOnlyInbound(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	// own unread-by-peer messages must not count against alice
	entries := []stream.Entry{
		confirmed("m1", "alice", "bob", "sent by me", base, false),
		confirmed("m2", "bob", "alice", "inbound unread", base.Add(time.Minute), false),
		confirmed("m3", "bob", "alice", "inbound read", base.Add(2*time.Minute), true),
	}

	convs := Fold("alice", entries)
	require.Len(t, convs, 1)
	require.Equal(t, 1, convs[0].Unread)
}

func TestFoldPendingFlagAndPreview(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	entries := []stream.Entry{
		confirmed("m1", "bob", "alice", "question", base, true),
		{
			Status:     stream.StatusPending,
			LocalID:    "local-1",
			EnqueuedAt: base.Add(time.Minute),
			Message: model.Message{
				SenderID: "alice", ReceiverID: "bob", Content: "answer (sending)",
				CreatedAt: base.Add(time.Minute),
			},
		},
	}

	convs := Fold("alice", entries)
	require.Len(t, convs, 1)
	require.True(t, convs[0].Pending)
	require.Equal(t, "answer (sending)", convs[0].LastContent)
	require.Equal(t, 0, convs[0].Unread)
}

func TestFoldRecomputesAfterMutation(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	entries := []stream.Entry{
		confirmed("m1", "bob", "alice", "ping", base, false),
	}
	require.Equal(t, 1, Fold("alice", entries)[0].Unread)

	entries[0].Message.Read = true
	require.Equal(t, 0, Fold("alice", entries)[0].Unread)
}

func TestFoldEmpty(t *testing.T) {
	t.Parallel()
	require.Empty(t, Fold("alice", nil))
}
