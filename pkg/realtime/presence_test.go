package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduleChat/pkg/api"
)

const eventually = 2 * time.Second
const tick = 5 * time.Millisecond

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestTrackerTracksAfterSubscribe(t *testing.T) {
	transport := &fakeTransport{}
	tracker := NewTracker(transport, nil, fixedClock)

	tracker.Start(context.Background(), &api.Identity{Id: "u1", Name: "Ada", AvatarUrl: "a.png"})
	defer tracker.Stop()

	require.Eventually(t, func() bool { return tracker.State() == TrackerTracking }, eventually, tick)

	sub := transport.presence(0)
	assert.Equal(t, api.GlobalPresenceChannel, sub.channel)
	assert.Equal(t, "u1", sub.key)
	assert.Equal(t, []api.PresenceRecord{{Id: "u1", Name: "Ada", AvatarUrl: "a.png", OnlineAt: fixedClock()}}, sub.trackedRecords())
}

func TestTrackerRetracksOnEverySubscription(t *testing.T) {
	transport := &fakeTransport{}
	tracker := NewTracker(transport, nil, fixedClock)
	tracker.Start(context.Background(), &api.Identity{Id: "u1"})
	defer tracker.Stop()

	sub := transport.presence(0)
	require.Eventually(t, func() bool { return len(sub.trackedRecords()) == 1 }, eventually, tick)

	sub.emit(Event{Kind: Disconnected, Err: errors.New("gone")})
	require.Eventually(t, func() bool { return tracker.State() == TrackerSubscribing }, eventually, tick)

	sub.emit(Event{Kind: Subscribed})
	require.Eventually(t, func() bool { return len(sub.trackedRecords()) == 2 }, eventually, tick)
	assert.Eventually(t, func() bool { return tracker.State() == TrackerTracking }, eventually, tick)
}

func TestTrackerSyncReplacesOnlineMap(t *testing.T) {
	transport := &fakeTransport{}
	tracker := NewTracker(transport, nil, fixedClock)
	tracker.Start(context.Background(), &api.Identity{Id: "u1"})
	defer tracker.Stop()
	sub := transport.presence(0)

	sub.emit(Event{Kind: Sync, State: map[string][]json.RawMessage{
		"u1": {json.RawMessage(`{"id":"u1"}`)},
		"u9": {json.RawMessage(`{"id":"u9"}`)},
	}})
	require.Eventually(t, func() bool { return tracker.IsOnline("u9") }, eventually, tick)

	sub.emit(Event{Kind: Sync, State: map[string][]json.RawMessage{
		"u1": {json.RawMessage(`{"id":"u1"}`)},
		"u2": {json.RawMessage(`{"id":"u2"}`), json.RawMessage(`{"id":"u2"}`)},
	}})
	require.Eventually(t, func() bool { return tracker.IsOnline("u2") }, eventually, tick)

	online := tracker.Online()
	assert.Len(t, online, 2)
	assert.False(t, tracker.IsOnline("u9"))

	// Callers get a copy.
	delete(online, "u1")
	assert.True(t, tracker.IsOnline("u1"))
}

func TestTrackerDisconnectEmptiesMap(t *testing.T) {
	transport := &fakeTransport{}
	tracker := NewTracker(transport, nil, fixedClock)
	tracker.Start(context.Background(), &api.Identity{Id: "u1"})
	defer tracker.Stop()
	sub := transport.presence(0)

	sub.emit(Event{Kind: Sync, State: map[string][]json.RawMessage{"u2": {json.RawMessage(`{"id":"u2"}`)}}})
	require.Eventually(t, func() bool { return tracker.IsOnline("u2") }, eventually, tick)

	sub.emit(Event{Kind: Disconnected})
	assert.Eventually(t, func() bool { return len(tracker.Online()) == 0 }, eventually, tick)
}

func TestTrackerStopIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	tracker := NewTracker(transport, nil, fixedClock)
	tracker.Stop()

	tracker.Start(context.Background(), &api.Identity{Id: "u1"})
	sub := transport.presence(0)
	sub.emit(Event{Kind: Sync, State: map[string][]json.RawMessage{"u2": {json.RawMessage(`{"id":"u2"}`)}}})
	require.Eventually(t, func() bool { return tracker.IsOnline("u2") }, eventually, tick)

	tracker.Stop()
	tracker.Stop()

	assert.True(t, sub.isClosed())
	assert.Equal(t, 1, sub.untracked)
	assert.Equal(t, TrackerDisconnected, tracker.State())
	assert.Empty(t, tracker.Online())
}

func TestTrackerIdentityChangeResetsState(t *testing.T) {
	transport := &fakeTransport{}
	tracker := NewTracker(transport, nil, fixedClock)
	tracker.Start(context.Background(), &api.Identity{Id: "u1"})
	first := transport.presence(0)
	first.emit(Event{Kind: Sync, State: map[string][]json.RawMessage{"old": {json.RawMessage(`{"id":"old"}`)}}})
	require.Eventually(t, func() bool { return tracker.IsOnline("old") }, eventually, tick)

	tracker.Start(context.Background(), &api.Identity{Id: "u2"})
	defer tracker.Stop()

	assert.True(t, first.isClosed())
	assert.False(t, tracker.IsOnline("old"))
	require.Equal(t, 2, transport.presenceCount())
	assert.Equal(t, "u2", transport.presence(1).key)
}

func TestTrackerWithoutIdentityDoesNothing(t *testing.T) {
	transport := &fakeTransport{}
	tracker := NewTracker(transport, nil, fixedClock)

	tracker.Start(context.Background(), nil)

	assert.Equal(t, 0, transport.presenceCount())
	assert.Equal(t, TrackerDisconnected, tracker.State())
}

func TestTrackerSubscribeFailureIsSilent(t *testing.T) {
	transport := &fakeTransport{err: &TransportError{Op: "subscribe", Err: errors.New("refused")}}
	tracker := NewTracker(transport, nil, fixedClock)

	tracker.Start(context.Background(), &api.Identity{Id: "u1"})

	assert.Equal(t, TrackerDisconnected, tracker.State())
	assert.Empty(t, tracker.Online())
	tracker.Stop()
}
