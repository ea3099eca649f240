package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scheduleChat/pkg/api"
)

const (
	// Time allowed to write a frame or to complete one request.
	writeWait = 10 * time.Second

	// The broker pings every 54s.
	readWait = 75 * time.Second

	heartbeatPeriod = 30 * time.Second

	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

var (
	errNotConnected   = errors.New("not connected")
	errConnectionLost = errors.New("connection lost")

	newline = []byte{'\n'}
)

type SocketOptions struct {
	Logger *zap.Logger
	Dialer *websocket.Dialer
}

// Socket is one authenticated broker connection that multiplexes channels.
// It reconnects with capped exponential backoff and rejoins every open
// channel, emitting Subscribed on each.
type Socket struct {
	url    string
	token  string
	dialer *websocket.Dialer
	log    *zap.SugaredLogger

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]*channelSub
	pending  map[string]chan api.OutgoingEvent
	seq      uint64

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects and authenticates with token. The first connection is not
// retried; later losses are.
func Dial(ctx context.Context, url string, token string, opts SocketOptions) (*Socket, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	s := &Socket{
		url:      url,
		token:    token,
		dialer:   opts.Dialer,
		log:      opts.Logger.Sugar(),
		channels: make(map[string]*channelSub),
		pending:  make(map[string]chan api.OutgoingEvent),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	go s.run(conn)
	return s, nil
}

func (s *Socket) SubscribeTable(ctx context.Context, table string, filter string) (Subscription, error) {
	if _, err := api.ParseFilter(filter); err != nil {
		return nil, &TransportError{Op: "subscribe", Err: err}
	}
	channel := fmt.Sprintf("realtime:%s:%s", table, uuid.NewString())
	sub, err := s.open(ctx, api.IncomingEvent{
		RequestType: api.Join,
		Channel:     channel,
		Changes:     []api.ChangeSpec{{Table: table, Filter: filter}},
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Socket) SubscribePresence(ctx context.Context, channel string, key string) (PresenceSubscription, error) {
	if key == "" {
		return nil, &TransportError{Op: "subscribe", Err: errors.New("presence key is empty")}
	}
	sub, err := s.open(ctx, api.IncomingEvent{RequestType: api.Join, Channel: channel, PresenceKey: key})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Close leaves the broker and closes every subscription. It is safe to call more than once.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		subs := make([]*channelSub, 0, len(s.channels))
		for _, sub := range s.channels {
			subs = append(subs, sub)
		}
		s.channels = make(map[string]*channelSub)
		s.failPendingLocked()
		s.mu.Unlock()

		for _, sub := range subs {
			sub.box.close()
		}
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
		}
	})
	<-s.done
	return nil
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Socket) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if err := s.authenticate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// authenticate runs the handshake before any reader goroutine owns conn.
func (s *Socket) authenticate(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(api.IncomingEvent{Ref: "auth", RequestType: api.Authenticate, Token: s.token}); err != nil {
		return &TransportError{Op: "authenticate", Err: err}
	}

	_ = conn.SetReadDeadline(deadline)
	_, message, err := conn.ReadMessage()
	if err != nil {
		return &TransportError{Op: "authenticate", Err: err}
	}
	frame, _, _ := bytes.Cut(message, newline)
	var reply api.OutgoingEvent
	if err := json.Unmarshal(frame, &reply); err != nil {
		return &TransportError{Op: "authenticate", Err: err}
	}
	if reply.RequestType != api.Reply || reply.Status != api.StatusOk {
		return &TransportError{Op: "authenticate", Err: fmt.Errorf("rejected: %s", reply.Error)}
	}

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return nil
}

// run owns the read side of the current connection and replaces it when it fails.
func (s *Socket) run(conn *websocket.Conn) {
	defer close(s.done)

	for {
		stop := make(chan struct{})
		go s.heartbeat(conn, stop)
		err := s.readLoop(conn)
		close(stop)
		if s.isClosed() {
			return
		}

		s.log.Warnw("realtime connection lost", "error", err)
		s.disconnected(conn, err)

		if conn = s.reconnect(); conn == nil {
			return
		}
		go s.rejoin()
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		// The broker batches queued events into one message.
		for _, frame := range bytes.Split(message, newline) {
			frame = bytes.TrimSpace(frame)
			if len(frame) == 0 {
				continue
			}
			var event api.OutgoingEvent
			if err := json.Unmarshal(frame, &event); err != nil {
				s.log.Warnw("dropping unreadable frame", "error", err)
				continue
			}
			s.dispatch(event)
		}
	}
}

func (s *Socket) dispatch(event api.OutgoingEvent) {
	if event.Ref != "" {
		s.mu.Lock()
		reply, ok := s.pending[event.Ref]
		delete(s.pending, event.Ref)
		s.mu.Unlock()
		if ok {
			reply <- event
			return
		}
	}

	switch event.RequestType {
	case api.Insert:
		s.deliver(event.Channel, Event{Kind: Insert, Table: event.Table, Record: event.Record})
	case api.PresenceState:
		s.deliver(event.Channel, Event{Kind: Sync, State: event.State})
	case api.Error:
		s.log.Warnw("broker error", "error", event.Error)
	default:
		s.log.Debugw("unmatched broker event", "requestType", event.RequestType, "ref", event.Ref)
	}
}

func (s *Socket) deliver(channel string, e Event) {
	s.mu.Lock()
	sub := s.channels[channel]
	s.mu.Unlock()
	if sub != nil {
		sub.box.push(e)
	}
}

func (s *Socket) disconnected(conn *websocket.Conn, cause error) {
	_ = conn.Close()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.failPendingLocked()
	subs := make([]*channelSub, 0, len(s.channels))
	for _, sub := range s.channels {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.box.push(Event{Kind: Disconnected, Err: &TransportError{Op: "read", Err: cause}})
	}
}

func (s *Socket) failPendingLocked() {
	for ref, reply := range s.pending {
		close(reply)
		delete(s.pending, ref)
	}
}

// reconnect retries until a connection is authenticated or the socket is closed.
func (s *Socket) reconnect() *websocket.Conn {
	backoff := minBackoff
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-s.closed:
			timer.Stop()
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		conn, err := s.connect(ctx)
		cancel()
		if err == nil {
			s.mu.Lock()
			if s.isClosed() {
				s.mu.Unlock()
				_ = conn.Close()
				return nil
			}
			s.conn = conn
			s.mu.Unlock()
			s.log.Infow("realtime connection restored", "attempt", attempt)
			return conn
		}

		s.log.Warnw("realtime reconnect failed", "attempt", attempt, "retryIn", backoff, "error", err)
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Socket) rejoin() {
	s.mu.Lock()
	subs := make([]*channelSub, 0, len(s.channels))
	for _, sub := range s.channels {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		if err := sub.join(ctx); err != nil {
			s.log.Warnw("could not rejoin channel", "channel", sub.channel(), "error", err)
		}
		cancel()
	}
}

// heartbeat closes conn when the broker stops answering so that run reconnects.
func (s *Socket) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			_, err := s.request(ctx, "heartbeat", api.IncomingEvent{RequestType: api.Heartbeat})
			cancel()
			if err != nil {
				s.log.Warnw("heartbeat failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// request sends event and waits for the broker reply with the same ref.
func (s *Socket) request(ctx context.Context, op string, event api.IncomingEvent) (api.OutgoingEvent, error) {
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		return api.OutgoingEvent{}, &TransportError{Op: op, Err: ErrClosed}
	}
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return api.OutgoingEvent{}, &TransportError{Op: op, Err: errNotConnected}
	}
	s.seq++
	event.Ref = strconv.FormatUint(s.seq, 10)
	reply := make(chan api.OutgoingEvent, 1)
	s.pending[event.Ref] = reply
	s.mu.Unlock()

	if err := s.write(conn, event); err != nil {
		s.forget(event.Ref)
		return api.OutgoingEvent{}, &TransportError{Op: op, Err: err}
	}

	select {
	case out, ok := <-reply:
		if !ok {
			return api.OutgoingEvent{}, &TransportError{Op: op, Err: errConnectionLost}
		}
		if out.RequestType == api.Error || out.Status == api.StatusError {
			return out, &TransportError{Op: op, Err: errors.New(out.Error)}
		}
		return out, nil
	case <-ctx.Done():
		s.forget(event.Ref)
		return api.OutgoingEvent{}, &TransportError{Op: op, Err: ctx.Err()}
	case <-s.closed:
		return api.OutgoingEvent{}, &TransportError{Op: op, Err: ErrClosed}
	}
}

func (s *Socket) forget(ref string) {
	s.mu.Lock()
	delete(s.pending, ref)
	s.mu.Unlock()
}

func (s *Socket) write(conn *websocket.Conn, event api.IncomingEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

func (s *Socket) open(ctx context.Context, join api.IncomingEvent) (*channelSub, error) {
	sub := &channelSub{socket: s, joinEvent: join, box: newMailbox()}

	s.mu.Lock()
	if _, taken := s.channels[join.Channel]; taken {
		s.mu.Unlock()
		sub.box.close()
		return nil, &TransportError{Op: "subscribe", Err: fmt.Errorf("channel %s already joined", join.Channel)}
	}
	s.channels[join.Channel] = sub
	s.mu.Unlock()

	if err := sub.join(ctx); err != nil {
		s.forgetChannel(join.Channel)
		sub.box.close()
		return nil, err
	}
	return sub, nil
}

func (s *Socket) forgetChannel(channel string) {
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
}

// channelSub is one joined channel. It serves both table and presence subscriptions.
type channelSub struct {
	socket    *Socket
	joinEvent api.IncomingEvent
	box       *mailbox
	once      sync.Once
}

func (c *channelSub) channel() string {
	return c.joinEvent.Channel
}

func (c *channelSub) Events() <-chan Event {
	return c.box.out
}

func (c *channelSub) join(ctx context.Context) error {
	reply, err := c.socket.request(ctx, "join", c.joinEvent)
	if err != nil {
		return err
	}
	if reply.Status != api.StatusSubscribed {
		return &TransportError{Op: "join", Err: fmt.Errorf("unexpected status %q", reply.Status)}
	}
	c.box.push(Event{Kind: Subscribed})
	return nil
}

func (c *channelSub) Track(ctx context.Context, record api.PresenceRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = c.socket.request(ctx, "track", api.IncomingEvent{RequestType: api.Track, Channel: c.channel(), Payload: payload})
	return err
}

func (c *channelSub) Untrack(ctx context.Context) error {
	_, err := c.socket.request(ctx, "untrack", api.IncomingEvent{RequestType: api.Untrack, Channel: c.channel()})
	return err
}

// Close leaves the channel. Leaving is skipped while the socket is down.
func (c *channelSub) Close() error {
	var err error
	c.once.Do(func() {
		c.socket.forgetChannel(c.channel())

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		_, err = c.socket.request(ctx, "leave", api.IncomingEvent{RequestType: api.Leave, Channel: c.channel()})
		if errors.Is(err, errNotConnected) || errors.Is(err, ErrClosed) || errors.Is(err, errConnectionLost) {
			err = nil
		}
		c.box.close()
	})
	return err
}
