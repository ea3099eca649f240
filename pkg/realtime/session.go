package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"scheduleChat/pkg/api"
)

type Options struct {
	Logger *zap.Logger
	// Bound for one send before it is rolled back. Defaults to 15s.
	SendTimeout time.Duration
	// Sender profiles kept per session. Defaults to 512.
	ProfileCacheSize int
	// Clock for optimistic timestamps and presence records.
	Now func() time.Time
}

// Session is the realtime state of one signed-in identity: its presence
// tracker, sender profile cache and send pipeline. Close it on logout; a new
// identity gets a new Session.
type Session struct {
	identity  api.Identity
	backend   Backend
	transport Transport
	log       *zap.SugaredLogger

	tracker  *Tracker
	profiles *profileCache
	sender   *Sender

	mu     sync.Mutex
	views  map[*View]struct{}
	closed bool
}

// NewSession resolves the current identity and starts presence for it.
// It fails with ErrNoIdentity when nobody is signed in.
func NewSession(ctx context.Context, backend Backend, transport Transport, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	identity, err := backend.CurrentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, ErrNoIdentity
	}

	log := opts.Logger.Sugar().With("uid", identity.Id)
	s := &Session{
		identity:  *identity,
		backend:   backend,
		transport: transport,
		log:       log,
		tracker:   NewTracker(transport, opts.Logger, opts.Now),
		profiles:  newProfileCache(backend, opts.ProfileCacheSize),
		sender:    newSender(backend, *identity, opts.SendTimeout, opts.Now, log),
		views:     make(map[*View]struct{}),
	}
	s.profiles.put(identity.Id, identity.Profile())
	s.tracker.Start(ctx, identity)
	return s, nil
}

func (s *Session) Identity() api.Identity {
	return s.identity
}

func (s *Session) Presence() *Tracker {
	return s.tracker
}

// Open starts a view of conv with a fresh history load. The caller closes the
// previous view before switching conversations.
func (s *Session) Open(ctx context.Context, conv Conversation) (*View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	v, err := openView(ctx, s, conv)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = v.Close()
		return nil, ErrClosed
	}
	s.views[v] = struct{}{}
	s.mu.Unlock()
	return v, nil
}

func (s *Session) forget(v *View) {
	s.mu.Lock()
	delete(s.views, v)
	s.mu.Unlock()
}

// Close closes every open view and leaves presence. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	views := make([]*View, 0, len(s.views))
	for v := range s.views {
		views = append(views, v)
	}
	s.mu.Unlock()

	for _, v := range views {
		if err := v.Close(); err != nil {
			s.log.Debugw("closing view", "conversation", v.conv.String(), "error", err)
		}
	}
	s.tracker.Stop()
	return nil
}
