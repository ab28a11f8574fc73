package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"telchat/domain"
	"telchat/domain/event"
	"telchat/errors"
)

// collectSink records everything a member would receive, in order.
type collectSink struct {
	ch chan event.ChannelEvent
}

func newCollectSink() collectSink {
	return collectSink{ch: make(chan event.ChannelEvent, 256)}
}

func (s collectSink) Consume(e event.ChannelEvent) error {
	s.ch <- e
	return nil
}

// deadSink mimics a torn-down session.
type deadSink struct{}

func (deadSink) Consume(event.ChannelEvent) error { return errors.ErrSessionGone }

func startChannel(t *testing.T, name string, historyLimit int) (*channelActor, chan any) {
	t.Helper()
	notices := make(chan any, 64)
	actor := newChannelActor(slog.Default(), name, historyLimit, nil, notices)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go actor.run(ctx)
	return actor, notices
}

func recvEvent(t *testing.T, s collectSink) event.ChannelEvent {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a channel event")
		return nil
	}
}

func TestChannelActor_JoinSnapshotAndBroadcast(t *testing.T) {
	req := require.New(t)
	actor, _ := startChannel(t, "general", 10)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	aliceSink, bobSink := newCollectSink(), newCollectSink()

	ack, err := actor.handle.Join(ctx, alice, "alice", aliceSink)
	req.NoError(err)
	req.Equal("general", ack.Channel)
	req.Empty(ack.History)
	req.Equal([]domain.Member{{ID: alice, DisplayName: "alice"}}, ack.Roster)

	req.NoError(actor.handle.Post(alice, "hello"))

	ack, err = actor.handle.Join(ctx, bob, "bob", bobSink)
	req.NoError(err)
	req.Len(ack.History, 1)
	req.Equal("hello", ack.History[0].Content)
	req.Len(ack.Roster, 2)

	// alice sees the post and bob's arrival; bob's own join is not echoed
	// back to him, his snapshot already contains it.
	posted, ok := recvEvent(t, aliceSink).(event.MessagePosted)
	req.True(ok)
	req.Equal("hello", posted.Message.Content)
	req.Equal("alice", posted.Message.Author)

	joined, ok := recvEvent(t, aliceSink).(event.MemberJoined)
	req.True(ok)
	req.Equal("bob", joined.DisplayName)
}

func TestChannelActor_AllMembersSeeTheSameOrder(t *testing.T) {
	req := require.New(t)
	actor, _ := startChannel(t, "general", 100)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	aliceSink, bobSink := newCollectSink(), newCollectSink()
	_, err := actor.handle.Join(ctx, alice, "alice", aliceSink)
	req.NoError(err)
	_, err = actor.handle.Join(ctx, bob, "bob", bobSink)
	req.NoError(err)

	const perSender = 10
	var wg sync.WaitGroup
	for _, sender := range []struct {
		id   domain.SessionID
		name string
	}{{alice, "alice"}, {bob, "bob"}} {
		wg.Add(1)
		go func(id domain.SessionID, name string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				req.NoError(actor.handle.Post(id, fmt.Sprintf("%s %d", name, i)))
			}
		}(sender.id, sender.name)
	}
	wg.Wait()

	collect := func(s collectSink) []string {
		var contents []string
		for len(contents) < 2*perSender {
			if posted, ok := recvEvent(t, s).(event.MessagePosted); ok {
				contents = append(contents, posted.Message.Content)
			}
		}
		return contents
	}

	req.Equal(collect(aliceSink), collect(bobSink))
}

func TestChannelActor_HistoryBound(t *testing.T) {
	req := require.New(t)
	actor, _ := startChannel(t, "general", 3)
	ctx := context.Background()

	alice := uuid.New()
	_, err := actor.handle.Join(ctx, alice, "alice", newCollectSink())
	req.NoError(err)

	for i := 0; i < 5; i++ {
		req.NoError(actor.handle.Post(alice, fmt.Sprintf("message %d", i)))
	}

	ack, err := actor.handle.Join(ctx, uuid.New(), "bob", newCollectSink())
	req.NoError(err)
	req.Len(ack.History, 3)
	req.Equal("message 2", ack.History[0].Content)
	req.Equal("message 4", ack.History[2].Content)
}

func TestChannelActor_DropsOutOfBoundsMessages(t *testing.T) {
	req := require.New(t)
	actor, _ := startChannel(t, "general", 10)
	ctx := context.Background()

	alice := uuid.New()
	sink := newCollectSink()
	_, err := actor.handle.Join(ctx, alice, "alice", sink)
	req.NoError(err)

	req.NoError(actor.handle.Post(alice, strings.Repeat("a", domain.MaxContentLength+1)))
	req.NoError(actor.handle.Post(alice, "within bounds"))

	// Only the valid post is broadcast and retained.
	posted, ok := recvEvent(t, sink).(event.MessagePosted)
	req.True(ok)
	req.Equal("within bounds", posted.Message.Content)

	ack, err := actor.handle.Join(ctx, uuid.New(), "bob", newCollectSink())
	req.NoError(err)
	req.Len(ack.History, 1)
}

func TestChannelActor_LeaveBroadcastsDeparture(t *testing.T) {
	req := require.New(t)
	actor, _ := startChannel(t, "general", 10)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	aliceSink := newCollectSink()
	_, err := actor.handle.Join(ctx, alice, "alice", aliceSink)
	req.NoError(err)
	_, err = actor.handle.Join(ctx, bob, "bob", newCollectSink())
	req.NoError(err)
	recvEvent(t, aliceSink) // bob joined

	actor.handle.Leave(bob)

	left, ok := recvEvent(t, aliceSink).(event.MemberLeft)
	req.True(ok)
	req.Equal("bob", left.DisplayName)
}

func TestChannelActor_TerminatesWhenLastMemberLeaves(t *testing.T) {
	req := require.New(t)
	actor, notices := startChannel(t, "general", 10)
	ctx := context.Background()

	alice := uuid.New()
	_, err := actor.handle.Join(ctx, alice, "alice", newCollectSink())
	req.NoError(err)
	<-notices // membership count after the join

	actor.handle.Leave(alice)

	select {
	case <-actor.handle.link.Down():
	case <-time.After(2 * time.Second):
		req.Fail("channel must terminate once emptied")
	}

	// The directory entry was withdrawn before the actor exited.
	var sawDeregister bool
	for !sawDeregister {
		select {
		case n := <-notices:
			if _, ok := n.(deregisterNotice); ok {
				sawDeregister = true
			}
		case <-time.After(2 * time.Second):
			req.Fail("expected a deregister notice")
		}
	}

	// A late join surfaces the termination instead of hanging.
	_, err = actor.handle.Join(ctx, uuid.New(), "bob", newCollectSink())
	req.ErrorIs(err, errors.ErrChannelClosed)
}

func TestChannelActor_PrunesUnreachableMembers(t *testing.T) {
	req := require.New(t)
	actor, _ := startChannel(t, "general", 10)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	aliceSink := newCollectSink()
	_, err := actor.handle.Join(ctx, alice, "alice", aliceSink)
	req.NoError(err)
	_, err = actor.handle.Join(ctx, bob, "bob", deadSink{})
	req.NoError(err)
	recvEvent(t, aliceSink) // bob joined

	req.NoError(actor.handle.Post(alice, "anyone there?"))

	_, ok := recvEvent(t, aliceSink).(event.MessagePosted)
	req.True(ok)
	left, ok := recvEvent(t, aliceSink).(event.MemberLeft)
	req.True(ok)
	req.Equal("bob", left.DisplayName)
}

func TestChannelActor_TerminatesWhenAllMembersPruned(t *testing.T) {
	req := require.New(t)
	actor, _ := startChannel(t, "general", 10)
	ctx := context.Background()

	bob := uuid.New()
	_, err := actor.handle.Join(ctx, bob, "bob", deadSink{})
	req.NoError(err)

	// The broadcast of bob's own post finds him unreachable; pruning him
	// empties the channel.
	req.NoError(actor.handle.Post(bob, "hello?"))

	select {
	case <-actor.handle.link.Down():
	case <-time.After(2 * time.Second):
		req.Fail("channel must terminate once pruning empties it")
	}
}

func TestChannelActor_RenameFlows(t *testing.T) {
	req := require.New(t)
	actor, _ := startChannel(t, "general", 10)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	aliceSink := newCollectSink()
	_, err := actor.handle.Join(ctx, alice, "alice", aliceSink)
	req.NoError(err)
	_, err = actor.handle.Join(ctx, bob, "bob", newCollectSink())
	req.NoError(err)
	recvEvent(t, aliceSink) // bob joined

	actor.handle.RenameMember(bob, "robert")
	renamed, ok := recvEvent(t, aliceSink).(event.MemberRenamed)
	req.True(ok)
	req.Equal("bob", renamed.OldName)
	req.Equal("robert", renamed.NewName)

	// The coordinator pushes directory renames straight into the inbox.
	actor.handle.requests <- renameChannelReq{newName: "lounge"}
	chRenamed, ok := recvEvent(t, aliceSink).(event.ChannelRenamed)
	req.True(ok)
	req.Equal("general", chRenamed.OldName)
	req.Equal("lounge", chRenamed.NewName)
}

func TestChannelActor_EpochEndClosesChannel(t *testing.T) {
	req := require.New(t)
	notices := make(chan any, 64)
	actor := newChannelActor(slog.Default(), "general", 10, nil, notices)
	ctx, cancel := context.WithCancel(context.Background())
	go actor.run(ctx)

	alice := uuid.New()
	aliceSink := newCollectSink()
	_, err := actor.handle.Join(ctx, alice, "alice", aliceSink)
	req.NoError(err)

	cancel()

	closed, ok := recvEvent(t, aliceSink).(event.ChannelClosed)
	req.True(ok)
	req.Equal("general", closed.Channel)

	select {
	case <-actor.handle.link.Down():
	case <-time.After(2 * time.Second):
		req.Fail("link must break when the epoch ends")
	}
}
