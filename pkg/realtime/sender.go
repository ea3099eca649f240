package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scheduleChat/pkg/api"
)

const defaultSendTimeout = 15 * time.Second

// Sender runs the optimistic send pipeline. At most one send per
// conversation is in flight; different conversations send concurrently.
type Sender struct {
	backend Backend
	self    api.Identity
	timeout time.Duration
	now     func() time.Time
	log     *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]bool
}

func newSender(backend Backend, self api.Identity, timeout time.Duration, now func() time.Time, log *zap.SugaredLogger) *Sender {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Sender{
		backend: backend,
		self:    self,
		timeout: timeout,
		now:     now,
		log:     log,
		pending: make(map[string]bool),
	}
}

// Send validates content, appends an optimistic entry to v and clears its
// draft before returning. The write runs in the background, bounded by the
// send timeout. The returned channel yields nil once the row is stored, or a
// *PersistenceError after the optimistic entry was rolled back.
func (s *Sender) Send(ctx context.Context, v *View, content string) (<-chan error, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, ErrEmptyContent
	}

	key := v.conv.String()
	s.mu.Lock()
	if s.pending[key] {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.pending[key] = true
	s.mu.Unlock()

	entry := Entry{
		Id:          "temp-" + uuid.NewString(),
		SenderId:    s.self.Id,
		ReceiverId:  v.conv.PeerId,
		Content:     text,
		ClientNonce: uuid.NewString(),
		CreatedAt:   s.now(),
		Sender:      s.self.Profile(),
	}
	v.addPending(entry)

	result := make(chan error, 1)
	go func() {
		defer close(result)

		confirmed, err := s.persist(ctx, v.conv, api.NewMessage{Content: text, ClientNonce: entry.ClientNonce})

		// The slot is released only once the optimistic entry is settled.
		if err != nil {
			perr := &PersistenceError{Conversation: key, Err: err}
			s.log.Warnw("send failed", "conversation", key, "error", err)
			v.rollback(entry.Id, content, perr)
			s.release(key)
			result <- perr
			return
		}

		confirmed.Sender = s.self.Profile()
		v.apply(confirmed)
		s.release(key)
		result <- nil
	}()
	return result, nil
}

// persist writes the message, giving up after the send timeout even if the
// backend does not honour ctx.
func (s *Sender) persist(ctx context.Context, conv Conversation, message api.NewMessage) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		entry Entry
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		switch conv.Kind {
		case DirectConversation:
			m, err := s.backend.InsertDirectMessage(ctx, s.self.Id, conv.PeerId, message)
			done <- outcome{fromDirectMessage(m), err}
		default:
			m, err := s.backend.InsertMessage(ctx, conv.MeetingId, s.self.Id, message)
			done <- outcome{fromMessage(m), err}
		}
	}()

	select {
	case o := <-done:
		return o.entry, o.err
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

func (s *Sender) release(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

func (s *Sender) inFlight(conv Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[conv.String()]
}
