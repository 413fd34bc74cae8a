// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

// renderLog records every rendered trailing reply.
type renderLog struct {
	mu      sync.Mutex
	renders []*model.Conversation
}

func (l *renderLog) record(conv *model.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renders = append(l.renders, conv)
}

func (l *renderLog) replies() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.renders))
	for _, conv := range l.renders {
		if conv == nil {
			continue
		}
		if last, ok := conv.LastMessage(); ok && last.Role == model.RoleAssistant {
			out = append(out, last.Content)
		}
	}
	return out
}

func seededConversation() *model.Conversation {
	conv := model.NewConversation("llama3", 0.4, true)
	conv.AppendUserMessage("first question")
	conv.AppendAssistantMessage("first answer")
	return conv
}

// snapshotWith returns conv as stored with the new user message and a
// reply holding content.
func snapshotWith(base *model.Conversation, user, content string) *model.Conversation {
	snap := base.Clone()
	snap.AppendUserMessage(user)
	idx := snap.AppendPlaceholder()
	snap.Messages[idx].Content = content
	return snap
}

func TestTranscript_OptimisticBegin(t *testing.T) {
	base := seededConversation()
	log := &renderLog{}
	tr := NewTranscript(base, log.record)

	require.NoError(t, tr.begin(model.SendRequest{Message: "second"}, true))

	snap := tr.Snapshot()
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, "second", snap.Messages[2].Content)
	assert.Equal(t, model.RoleAssistant, snap.Messages[3].Role)
	assert.Equal(t, "", snap.Messages[3].Content)
	assert.Equal(t, []string{""}, log.replies())
	assert.True(t, tr.Active())

	assert.ErrorIs(t, tr.begin(model.SendRequest{Message: "third"}, true), ErrSendInProgress)
	assert.ErrorIs(t, tr.Reset(nil), ErrSendInProgress)
}

func TestTranscript_NewConversation(t *testing.T) {
	tr := NewTranscript(nil, nil)
	require.NoError(t, tr.begin(model.SendRequest{Message: "hello", Model: "mistral"}, true))

	assert.Equal(t, "", tr.ID())
	snap := tr.Snapshot()
	assert.Equal(t, "mistral", snap.Model)
	assert.Equal(t, "hello", snap.Title)

	tr.setID("abc")
	assert.Equal(t, "abc", tr.ID())

	tr.rollback()
	assert.Nil(t, tr.Snapshot())
	assert.False(t, tr.Active())
}

func TestTranscript_RollbackRestoresPreSendState(t *testing.T) {
	base := seededConversation()
	log := &renderLog{}
	tr := NewTranscript(base, log.record)

	require.NoError(t, tr.begin(model.SendRequest{Message: "second"}, true))
	tr.appendDelta("Hel")
	tr.appendDelta("lo")
	assert.Equal(t, "Hello", tr.Reply())

	tr.rollback()
	assert.Equal(t, base, tr.Snapshot())
	assert.Equal(t, "", tr.Reply())

	// Late updates after the send ended change nothing.
	n := len(log.replies())
	tr.appendDelta("late")
	tr.applySnapshot(snapshotWith(base, "second", "Hello late"))
	assert.Equal(t, base, tr.Snapshot())
	assert.Len(t, log.replies(), n)
}

func TestTranscript_FinishAdoptsServerConversation(t *testing.T) {
	base := seededConversation()
	tr := NewTranscript(base, nil)
	require.NoError(t, tr.begin(model.SendRequest{Message: "second"}, true))
	tr.appendDelta("partial")

	final := snapshotWith(base, "second", "the full answer")
	final.Messages[3].Status = model.StatusComplete
	tr.finish(final)

	assert.Equal(t, final, tr.Snapshot())
	assert.False(t, tr.Active())
}

func TestTranscript_PollFillsDroppedDeltas(t *testing.T) {
	base := seededConversation()
	log := &renderLog{}
	tr := NewTranscript(base, log.record)
	require.NoError(t, tr.begin(model.SendRequest{Message: "second"}, true))

	tr.appendDelta("Hel")
	// The "lo wor" delta was lost on the wire; the store has it.
	tr.applySnapshot(snapshotWith(base, "second", "Hello wor"))
	assert.Equal(t, "Hello wor", tr.Reply())

	// A stale poll and a short push both keep the longer content.
	tr.applySnapshot(snapshotWith(base, "second", "Hel"))
	tr.appendDelta("lo")
	assert.Equal(t, "Hello wor", tr.Reply())

	tr.appendDelta(" world")
	assert.Equal(t, "Hello world", tr.Reply())

	assert.Equal(t, []string{"", "Hel", "Hello wor", "Hello wor", "Hello world"}, log.replies())
}

func TestTranscript_IgnoresForeignSnapshots(t *testing.T) {
	base := seededConversation()
	tr := NewTranscript(base, nil)
	require.NoError(t, tr.begin(model.SendRequest{Message: "second"}, true))
	tr.appendDelta("abc")

	// Taken before the user message was stored.
	tr.applySnapshot(base.Clone())
	assert.Equal(t, "abc", tr.Reply())
	assert.Len(t, tr.Snapshot().Messages, 4)

	other := snapshotWith(base, "second", "abcdef")
	other.ID = model.NewConversationID()
	tr.applySnapshot(other)
	assert.Equal(t, "abc", tr.Reply())
}

func TestTranscript_ConcurrentMergeNeverShrinks(t *testing.T) {
	const answer = "The quick brown fox jumps over the lazy dog, again and again."
	base := seededConversation()

	var mu sync.Mutex
	var lengths []int
	tr := NewTranscript(base, func(conv *model.Conversation) {
		last, _ := conv.LastMessage()
		mu.Lock()
		lengths = append(lengths, len(last.Content))
		mu.Unlock()
	})
	require.NoError(t, tr.begin(model.SendRequest{Message: "second"}, true))

	var wg sync.WaitGroup
	// Two pollers see stored prefixes in arbitrary, possibly stale, order.
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				n := rng.Intn(len(answer) + 1)
				tr.applySnapshot(snapshotWith(base, "second", answer[:n]))
			}
		}(int64(p + 1))
	}
	// One pusher delivers the deltas in order.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < len(answer); i++ {
			tr.appendDelta(answer[i : i+1])
		}
	}()
	wg.Wait()

	assert.Equal(t, answer, tr.Reply())
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(lengths); i++ {
		require.GreaterOrEqual(t, lengths[i], lengths[i-1], "render %d shrank the reply", i)
	}
}

func TestTranscript_NonOptimisticSend(t *testing.T) {
	base := seededConversation()
	log := &renderLog{}
	tr := NewTranscript(base, log.record)

	require.NoError(t, tr.begin(model.SendRequest{Message: "second"}, false))
	assert.True(t, tr.Active())
	assert.Empty(t, log.replies(), "non-streaming sends render nothing up front")

	tr.appendDelta("ignored")
	assert.Equal(t, base, tr.Snapshot())

	tr.rollback()
	assert.Equal(t, base, tr.Snapshot())
	assert.False(t, tr.Active())
}
