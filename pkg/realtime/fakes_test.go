package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scheduleChat/pkg/api"
)

type fakeSub struct {
	table   string
	filter  string
	channel string
	key     string
	box     *mailbox

	mu        sync.Mutex
	tracked   []api.PresenceRecord
	untracked int
	trackErr  error
	closed    bool
	once      sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{box: newMailbox()}
}

func (f *fakeSub) Events() <-chan Event { return f.box.out }

func (f *fakeSub) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.box.close()
	})
	return nil
}

func (f *fakeSub) Track(_ context.Context, record api.PresenceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return f.trackErr
	}
	f.tracked = append(f.tracked, record)
	return nil
}

func (f *fakeSub) Untrack(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untracked++
	return nil
}

func (f *fakeSub) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSub) trackedRecords() []api.PresenceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.PresenceRecord(nil), f.tracked...)
}

func (f *fakeSub) emit(e Event) {
	f.box.push(e)
}

type fakeTransport struct {
	mu        sync.Mutex
	tables    []*fakeSub
	presences []*fakeSub
	err       error
}

func (f *fakeTransport) SubscribeTable(_ context.Context, table string, filter string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := newFakeSub()
	sub.table, sub.filter = table, filter
	sub.emit(Event{Kind: Subscribed})
	f.tables = append(f.tables, sub)
	return sub, nil
}

func (f *fakeTransport) SubscribePresence(_ context.Context, channel string, key string) (PresenceSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := newFakeSub()
	sub.channel, sub.key = channel, key
	sub.emit(Event{Kind: Subscribed})
	f.presences = append(f.presences, sub)
	return sub, nil
}

func (f *fakeTransport) table(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[i]
}

func (f *fakeTransport) presence(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presences[i]
}

func (f *fakeTransport) presenceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.presences)
}

type fakeBackend struct {
	mu           sync.Mutex
	identity     *api.Identity
	history      map[string][]api.Message
	direct       []api.DirectMessage
	profiles     map[string]api.Profile
	profileCalls map[string]int
	insertErr    error
	// When set, inserts wait for it or for ctx.
	gate     chan struct{}
	inserted []api.NewMessage
	seq      int
	now      time.Time
}

func newFakeBackend(identity *api.Identity) *fakeBackend {
	return &fakeBackend{
		identity:     identity,
		history:      make(map[string][]api.Message),
		profiles:     make(map[string]api.Profile),
		profileCalls: make(map[string]int),
		now:          time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local),
	}
}

func (f *fakeBackend) CurrentIdentity(context.Context) (*api.Identity, error) {
	return f.identity, nil
}

func (f *fakeBackend) MessageHistory(_ context.Context, meetingId string) ([]api.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.Message(nil), f.history[meetingId]...), nil
}

func (f *fakeBackend) DirectHistory(_ context.Context, userA string, userB string) ([]api.DirectMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []api.DirectMessage
	for _, m := range f.direct {
		if m.Involves(userA, userB) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeBackend) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) nextId() (string, time.Time) {
	f.seq++
	return fmt.Sprintf("row-%d", f.seq), f.now.Add(time.Duration(f.seq) * time.Second)
}

func (f *fakeBackend) InsertMessage(ctx context.Context, meetingId string, senderId string, message api.NewMessage) (api.Message, error) {
	if err := f.wait(ctx); err != nil {
		return api.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, message)
	if f.insertErr != nil {
		return api.Message{}, f.insertErr
	}
	id, at := f.nextId()
	return api.Message{Id: id, MeetingId: meetingId, SenderId: senderId, Content: message.Content, ClientNonce: message.ClientNonce, CreatedAt: at}, nil
}

func (f *fakeBackend) InsertDirectMessage(ctx context.Context, senderId string, receiverId string, message api.NewMessage) (api.DirectMessage, error) {
	if err := f.wait(ctx); err != nil {
		return api.DirectMessage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, message)
	if f.insertErr != nil {
		return api.DirectMessage{}, f.insertErr
	}
	id, at := f.nextId()
	return api.DirectMessage{Id: id, SenderId: senderId, ReceiverId: receiverId, Content: message.Content, ClientNonce: message.ClientNonce, CreatedAt: at}, nil
}

func (f *fakeBackend) Profile(_ context.Context, userId string) (api.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls[userId]++
	p, ok := f.profiles[userId]
	if !ok {
		return api.Profile{}, api.ErrNotFound
	}
	return p, nil
}

func (f *fakeBackend) calls(userId string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profileCalls[userId]
}

func (f *fakeBackend) setInsertErr(err error) {
	f.mu.Lock()
	f.insertErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func (f *fakeBackend) setProfile(userId string, profile api.Profile) {
	f.mu.Lock()
	f.profiles[userId] = profile
	f.mu.Unlock()
}

func (f *fakeBackend) setHistory(meetingId string, messages ...api.Message) {
	f.mu.Lock()
	f.history[meetingId] = messages
	f.mu.Unlock()
}
