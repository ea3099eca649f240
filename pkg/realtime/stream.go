package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"scheduleChat/pkg/api"
)

// View is the live state of one open conversation. Events are applied by a
// single goroutine in arrival order. Every View owns its own state, even
// when another View has the same conversation open.
type View struct {
	conv     Conversation
	self     api.Identity
	backend  Backend
	profiles *profileCache
	sender   *Sender
	sub      Subscription
	log      *zap.SugaredLogger

	mu      sync.Mutex
	state   *conversationState
	draft   string
	lastErr error

	changes   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*View)
}

// openView subscribes first and then loads history, so rows committed in
// between arrive as events and are deduplicated by id.
func openView(ctx context.Context, s *Session, conv Conversation) (*View, error) {
	table, filter, err := subscription(conv)
	if err != nil {
		return nil, err
	}

	sub, err := s.transport.SubscribeTable(ctx, table, filter)
	if err != nil {
		return nil, err
	}

	v := &View{
		conv:     conv,
		self:     s.identity,
		backend:  s.backend,
		profiles: s.profiles,
		sender:   s.sender,
		sub:      sub,
		log:      s.log.With("conversation", conv.String()),
		state:    newConversationState(),
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		onClose:  s.forget,
	}

	history, err := v.loadHistory(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("load %s: %w", conv, err)
	}
	v.state.load(history)

	loopCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	go v.run(loopCtx)
	return v, nil
}

func subscription(conv Conversation) (table string, filter string, err error) {
	switch conv.Kind {
	case MeetingConversation:
		if conv.MeetingId == "" {
			return "", "", errors.New("meeting id is empty")
		}
		return api.CommentsTable, api.EqFilter("meeting_id", conv.MeetingId), nil
	case DirectConversation:
		if conv.PeerId == "" {
			return "", "", errors.New("peer id is empty")
		}
		// Direct messages cannot be filtered by pair on the broker.
		return api.DirectMessagesTable, "", nil
	default:
		return "", "", fmt.Errorf("unknown conversation kind %d", conv.Kind)
	}
}

func (v *View) loadHistory(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	switch v.conv.Kind {
	case MeetingConversation:
		messages, err := v.backend.MessageHistory(ctx, v.conv.MeetingId)
		if err != nil {
			return nil, err
		}
		for _, m := range messages {
			entries = append(entries, fromMessage(m))
		}
	case DirectConversation:
		messages, err := v.backend.DirectHistory(ctx, v.self.Id, v.conv.PeerId)
		if err != nil {
			return nil, err
		}
		for _, m := range messages {
			if !m.Involves(v.self.Id, v.conv.PeerId) {
				continue
			}
			entries = append(entries, fromDirectMessage(m))
		}
	}
	return entries, nil
}

func (v *View) run(ctx context.Context) {
	defer close(v.done)

	// Set while inserts may have been missed.
	stale := false
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-v.sub.Events():
			if !ok {
				return
			}
			switch event.Kind {
			case Insert:
				v.receive(ctx, event)
			case Disconnected:
				v.log.Infow("conversation stream interrupted", "error", event.Err)
				stale = true
			case Subscribed:
				if stale {
					stale = !v.resync(ctx)
				}
			}
		}
	}
}

// resync reloads history after a reconnect so rows committed while the
// stream was down show up. Pending entries survive unless history already
// holds them. It reports whether the reload succeeded.
func (v *View) resync(ctx context.Context) bool {
	history, err := v.loadHistory(ctx)
	if err != nil {
		if ctx.Err() == nil {
			v.log.Warnw("could not reload conversation history", "error", err)
		}
		return false
	}

	v.mu.Lock()
	v.state.load(history)
	v.mu.Unlock()
	v.notify()
	return true
}

// receive decodes an insert, enriches it with the sender profile and applies it.
func (v *View) receive(ctx context.Context, event Event) {
	entry, ok := v.decode(event)
	if !ok {
		return
	}

	v.mu.Lock()
	dup := v.state.has(entry.Id)
	v.mu.Unlock()
	if dup {
		return
	}

	profile, err := v.profiles.get(ctx, entry.SenderId)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		v.log.Warnw("using placeholder sender profile", "error", err)
	}
	entry.Sender = profile

	v.apply(entry)
}

// decode turns an insert into an entry of this conversation. Rows of other
// conversations and malformed rows are dropped.
func (v *View) decode(event Event) (Entry, bool) {
	switch v.conv.Kind {
	case MeetingConversation:
		if event.Table != api.CommentsTable {
			return Entry{}, false
		}
		row, err := decodeComment(event.Record)
		if err != nil {
			v.log.Warnw("dropping malformed comment", "error", err)
			return Entry{}, false
		}
		if row.MeetingId != v.conv.MeetingId {
			return Entry{}, false
		}
		return fromMessage(row.ToMessage(api.Profile{})), true
	case DirectConversation:
		if event.Table != api.DirectMessagesTable {
			return Entry{}, false
		}
		row, err := decodeDirectMessage(event.Record)
		if err != nil {
			v.log.Warnw("dropping malformed direct message", "error", err)
			return Entry{}, false
		}
		message := row.ToDirectMessage(api.Profile{})
		if !message.Involves(v.self.Id, v.conv.PeerId) {
			return Entry{}, false
		}
		return fromDirectMessage(message), true
	}
	return Entry{}, false
}

func (v *View) apply(entry Entry) {
	v.mu.Lock()
	changed := v.state.confirm(entry)
	v.mu.Unlock()
	if changed {
		v.notify()
	}
}

func (v *View) addPending(entry Entry) {
	v.mu.Lock()
	v.state.addPending(entry)
	v.draft = ""
	v.lastErr = nil
	v.mu.Unlock()
	v.notify()
}

// rollback removes a failed optimistic entry and restores its content as the
// draft unless something new was typed meanwhile.
func (v *View) rollback(tempId string, content string, err error) {
	v.mu.Lock()
	v.state.removePending(tempId)
	if v.draft == "" {
		v.draft = content
	}
	v.lastErr = err
	v.mu.Unlock()
	v.notify()
}

func (v *View) Conversation() Conversation {
	return v.conv
}

// Messages returns a snapshot of the conversation in display order.
func (v *View) Messages() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.snapshot()
}

func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

func (v *View) SetDraft(draft string) {
	v.mu.Lock()
	v.draft = draft
	v.mu.Unlock()
}

// Err returns the error of the last failed send, cleared by the next send.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Sending reports whether a send to this conversation is pending.
func (v *View) Sending() bool {
	return v.sender.inFlight(v.conv)
}

// Send appends an optimistic entry for content and persists it. See Sender.Send.
func (v *View) Send(ctx context.Context, content string) (<-chan error, error) {
	return v.sender.Send(ctx, v, content)
}

// Changes signals after the messages, the draft or the error changed. Signals coalesce.
func (v *View) Changes() <-chan struct{} {
	return v.changes
}

func (v *View) notify() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

// Close unsubscribes and waits until no further event can be applied.
// It is idempotent.
func (v *View) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.cancel()
		err = v.sub.Close()
		<-v.done
		if v.onClose != nil {
			v.onClose(v)
		}
	})
	return err
}
