package api

import (
	"context"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients, their channel memberships and
// presence metadata, and fans insert events out to matching subscribers.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Channels by name.
	channels map[string]*channel

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Channel requests and direct replies from clients.
	requests chan request

	// Committed rows to fan out.
	publish chan publication

	done chan struct{}
}

type channel struct {
	members map[*Client]*membership
}

type membership struct {
	changes     []ChangeSpec
	presenceKey string
	// nil while the connection is not tracking.
	meta json.RawMessage
}

type request struct {
	client *Client
	event  IncomingEvent
	// When set the hub only delivers it to client.
	reply *OutgoingEvent
	// Set once the Client has verified its token.
	uid string
}

type publication struct {
	table  string
	record json.RawMessage
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		channels:   make(map[string]*channel),
		Register:   make(chan *Client),
		unregister: make(chan *Client),
		requests:   make(chan request),
		publish:    make(chan publication),
		done:       make(chan struct{}),
	}
}

// Run processes hub traffic until ctx is cancelled. Every connection still
// registered at that point gets its send channel closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			close(client.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		// Register Client
		case client := <-h.Register:
			h.clients[client] = true
		// Unregister Client
		case client := <-h.unregister:
			h.remove(client)
		case req := <-h.requests:
			if req.reply != nil {
				h.deliverAll(map[*Client]OutgoingEvent{req.client: *req.reply})
				continue
			}
			if req.uid != "" {
				req.client.uid = req.uid
				h.deliverAll(map[*Client]OutgoingEvent{req.client: {Ref: req.event.Ref, RequestType: Reply, Status: StatusOk}})
				continue
			}
			h.handle(req.client, req.event)
		// Send insert to every matching subscriber allowed to read it
		case pub := <-h.publish:
			out := make(map[*Client]OutgoingEvent)
			allowed, restricted := readers(pub.table, pub.record)
			for name, ch := range h.channels {
				for client, m := range ch.members {
					if restricted && !allowed[client.uid] {
						continue
					}
					for _, spec := range m.changes {
						if spec.Matches(pub.table, pub.record) {
							out[client] = OutgoingEvent{RequestType: Insert, Channel: name, Table: pub.table, Record: pub.record}
							break
						}
					}
				}
			}
			h.deliverAll(out)
		}
	}
}

// Publish hands a committed row to the hub. It returns false if the hub has stopped.
func (h *Hub) Publish(ctx context.Context, table string, record interface{}) bool {
	raw, err := json.Marshal(record)
	if err != nil {
		zap.S().Errorw("could not encode published record", "table", table, "error", err)
		return false
	}
	select {
	case h.publish <- publication{table: table, record: raw}:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) submit(req request) bool {
	select {
	case h.requests <- req:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) handle(client *Client, event IncomingEvent) {
	reply := OutgoingEvent{Ref: event.Ref, RequestType: Reply, Channel: event.Channel, Status: StatusOk}

	switch event.RequestType {
	case Heartbeat:
		h.deliverAll(map[*Client]OutgoingEvent{client: reply})
	case Join:
		for _, spec := range event.Changes {
			if err := spec.Validate(); err != nil {
				h.deliverAll(map[*Client]OutgoingEvent{client: errorReply(event, err.Error())})
				return
			}
		}
		if event.PresenceKey != "" && event.PresenceKey != client.uid {
			h.deliverAll(map[*Client]OutgoingEvent{client: errorReply(event, "presence key must be the authenticated user")})
			return
		}
		ch, ok := h.channels[event.Channel]
		if !ok {
			ch = &channel{members: make(map[*Client]*membership)}
			h.channels[event.Channel] = ch
		}
		m := &membership{changes: event.Changes, presenceKey: event.PresenceKey}
		if prev, ok := ch.members[client]; ok {
			// A rejoin keeps tracked metadata.
			m.meta = prev.meta
		}
		ch.members[client] = m

		reply.Status = StatusSubscribed
		h.deliverAll(map[*Client]OutgoingEvent{client: reply})
		if m.presenceKey != "" {
			h.deliverAll(map[*Client]OutgoingEvent{client: presenceState(event.Channel, ch)})
		}
	case Leave:
		if ch, ok := h.channels[event.Channel]; ok {
			m, member := ch.members[client]
			delete(ch.members, client)
			if member && m.meta != nil {
				h.broadcastState(event.Channel, ch)
			}
			if len(ch.members) == 0 {
				delete(h.channels, event.Channel)
			}
		}
		h.deliverAll(map[*Client]OutgoingEvent{client: reply})
	case Track, Untrack:
		ch, ok := h.channels[event.Channel]
		var m *membership
		if ok {
			m = ch.members[client]
		}
		if m == nil || m.presenceKey == "" {
			h.deliverAll(map[*Client]OutgoingEvent{client: errorReply(event, "channel not joined with presence")})
			return
		}
		if event.RequestType == Untrack {
			m.meta = nil
		} else {
			meta, err := mergeMeta(m.meta, event.Payload)
			if err != nil {
				h.deliverAll(map[*Client]OutgoingEvent{client: errorReply(event, err.Error())})
				return
			}
			m.meta = meta
		}
		h.deliverAll(map[*Client]OutgoingEvent{client: reply})
		h.broadcastState(event.Channel, ch)
	default:
		h.deliverAll(map[*Client]OutgoingEvent{client: errorReply(event, "unknown request type")})
	}
}

// mergeMeta applies payload as a JSON merge patch over the connection's previous metadata.
func mergeMeta(prev, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if prev == nil {
		prev = json.RawMessage(`{}`)
	}
	merged, err := jsonpatch.MergePatch(prev, payload)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func errorReply(event IncomingEvent, message string) OutgoingEvent {
	return OutgoingEvent{Ref: event.Ref, RequestType: Reply, Channel: event.Channel, Status: StatusError, Error: message}
}

func presenceState(name string, ch *channel) OutgoingEvent {
	state := make(map[string][]json.RawMessage)
	for _, m := range ch.members {
		if m.presenceKey == "" || m.meta == nil {
			continue
		}
		state[m.presenceKey] = append(state[m.presenceKey], m.meta)
	}
	return OutgoingEvent{RequestType: PresenceState, Channel: name, State: state}
}

func (h *Hub) broadcastState(name string, ch *channel) {
	event := presenceState(name, ch)
	out := make(map[*Client]OutgoingEvent, len(ch.members))
	for client, m := range ch.members {
		if m.presenceKey != "" {
			out[client] = event
		}
	}
	h.deliverAll(out)
}

// deliverAll queues events on each client's send buffer. Clients whose
// buffer is full are dropped.
func (h *Hub) deliverAll(out map[*Client]OutgoingEvent) {
	var slow []*Client
	for client, event := range out {
		if !h.clients[client] {
			continue
		}
		message, err := json.Marshal(event)
		if err != nil {
			zap.S().Errorw("could not process outgoing event", "error", err)
			continue
		}
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		zap.S().Warnw("dropping slow realtime client", "uid", client.uid, "conn", client.id)
		h.remove(client)
	}
}

// remove forgets the client everywhere and announces lost presence.
func (h *Hub) remove(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for name, ch := range h.channels {
		m, ok := ch.members[client]
		if !ok {
			continue
		}
		delete(ch.members, client)
		if len(ch.members) == 0 {
			delete(h.channels, name)
			continue
		}
		if m.meta != nil {
			h.broadcastState(name, ch)
		}
	}
}
