package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"scheduleChat/pkg/api"
)

type TrackerState int

const (
	TrackerDisconnected TrackerState = iota
	TrackerSubscribing
	TrackerTracking
)

func (s TrackerState) String() string {
	switch s {
	case TrackerSubscribing:
		return "subscribing"
	case TrackerTracking:
		return "tracking"
	default:
		return "disconnected"
	}
}

// Tracker keeps the map of online users from the global presence channel and
// tracks the signed-in user on it. The map is written only by sync events.
type Tracker struct {
	transport Transport
	log       *zap.SugaredLogger
	now       func() time.Time

	mu     sync.Mutex
	state  TrackerState
	online map[string]api.PresenceRecord
	sub    PresenceSubscription
	cancel context.CancelFunc
	done   chan struct{}

	changes chan struct{}
}

func NewTracker(transport Transport, logger *zap.Logger, now func() time.Time) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		transport: transport,
		log:       logger.Sugar(),
		now:       now,
		online:    make(map[string]api.PresenceRecord),
		changes:   make(chan struct{}, 1),
	}
}

// Start joins the presence channel as identity, replacing any earlier
// subscription. A nil identity only resets the tracker. Subscription failures
// are logged and leave the tracker disconnected with an empty map.
func (t *Tracker) Start(ctx context.Context, identity *api.Identity) {
	t.Stop()
	if identity == nil || identity.Id == "" {
		return
	}

	t.setState(TrackerSubscribing)
	sub, err := t.transport.SubscribePresence(ctx, api.GlobalPresenceChannel, identity.Id)
	if err != nil {
		t.log.Warnw("presence unavailable", "error", err)
		t.reset()
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.sub = sub
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.run(loopCtx, sub, *identity, done)
}

func (t *Tracker) run(ctx context.Context, sub PresenceSubscription, identity api.Identity, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			switch event.Kind {
			case Subscribed:
				t.track(ctx, sub, identity)
			case Sync:
				online := decodePresence(event.State, t.log)
				t.mu.Lock()
				t.online = online
				t.mu.Unlock()
				t.notify()
			case Disconnected:
				t.log.Infow("presence connection lost", "error", event.Err)
				t.mu.Lock()
				t.state = TrackerSubscribing
				t.online = make(map[string]api.PresenceRecord)
				t.mu.Unlock()
				t.notify()
			}
		}
	}
}

// track publishes this session's record after every (re)subscription.
func (t *Tracker) track(ctx context.Context, sub PresenceSubscription, identity api.Identity) {
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	record := api.PresenceRecord{
		Id:        identity.Id,
		Name:      identity.Name,
		AvatarUrl: identity.AvatarUrl,
		OnlineAt:  t.now().UTC(),
	}
	if err := sub.Track(ctx, record); err != nil {
		t.log.Warnw("could not track presence", "error", err)
		return
	}
	t.setState(TrackerTracking)
}

// Stop leaves the presence channel and clears the map. It is idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	sub, cancel, done := t.sub, t.cancel, t.done
	t.sub, t.cancel, t.done = nil, nil, nil
	t.mu.Unlock()

	if sub != nil {
		ctx, cancelUntrack := context.WithTimeout(context.Background(), writeWait)
		if err := sub.Untrack(ctx); err != nil {
			t.log.Debugw("untrack failed", "error", err)
		}
		cancelUntrack()
		cancel()
		if err := sub.Close(); err != nil {
			t.log.Debugw("presence unsubscribe failed", "error", err)
		}
		<-done
	}
	t.reset()
}

func (t *Tracker) reset() {
	t.mu.Lock()
	t.state = TrackerDisconnected
	t.online = make(map[string]api.PresenceRecord)
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) setState(state TrackerState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) State() TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Online returns a copy of the online map keyed by user id.
func (t *Tracker) Online() map[string]api.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]api.PresenceRecord, len(t.online))
	for k, v := range t.online {
		out[k] = v
	}
	return out
}

func (t *Tracker) IsOnline(userId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[userId]
	return ok
}

// Changes signals after the map or state changed. Signals coalesce.
func (t *Tracker) Changes() <-chan struct{} {
	return t.changes
}

func (t *Tracker) notify() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}
