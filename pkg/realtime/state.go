package realtime

import (
	"sort"
	"time"

	"scheduleChat/pkg/api"
)

// echoWindow bounds how far a nonce-less echo may drift from the pending
// entry it replaces.
const echoWindow = 30 * time.Second

type ConversationKind int

const (
	MeetingConversation ConversationKind = iota + 1
	DirectConversation
)

// Conversation names a meeting chat or a direct conversation with PeerId.
type Conversation struct {
	Kind      ConversationKind
	MeetingId string
	PeerId    string
}

func Meeting(meetingId string) Conversation {
	return Conversation{Kind: MeetingConversation, MeetingId: meetingId}
}

func Direct(peerId string) Conversation {
	return Conversation{Kind: DirectConversation, PeerId: peerId}
}

func (c Conversation) String() string {
	if c.Kind == DirectConversation {
		return "direct:" + c.PeerId
	}
	return "meeting:" + c.MeetingId
}

type Status int

const (
	Confirmed Status = iota
	Pending
)

// Entry is one row of a conversation view, confirmed or optimistic.
type Entry struct {
	Id          string
	SenderId    string
	ReceiverId  string
	Content     string
	ClientNonce string
	CreatedAt   time.Time
	Sender      api.Profile
	Status      Status
}

func (e Entry) Pending() bool {
	return e.Status == Pending
}

func fromMessage(m api.Message) Entry {
	return Entry{
		Id:          m.Id,
		SenderId:    m.SenderId,
		Content:     m.Content,
		ClientNonce: m.ClientNonce,
		CreatedAt:   m.CreatedAt,
		Sender:      m.Sender,
	}
}

func fromDirectMessage(m api.DirectMessage) Entry {
	return Entry{
		Id:          m.Id,
		SenderId:    m.SenderId,
		ReceiverId:  m.ReceiverId,
		Content:     m.Content,
		ClientNonce: m.ClientNonce,
		CreatedAt:   m.CreatedAt,
		Sender:      m.Sender,
	}
}

// conversationState keeps confirmed entries in the order they were applied
// and never holds two entries with the same id.
type conversationState struct {
	entries []Entry
	ids     map[string]struct{}
}

func newConversationState() *conversationState {
	return &conversationState{ids: make(map[string]struct{})}
}

// load installs history sorted by createdAt. Entries already present that the
// history does not contain keep their relative order after it.
func (s *conversationState) load(history []Entry) {
	sorted := make([]Entry, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	previous := s.entries
	s.entries = make([]Entry, 0, len(sorted)+len(previous))
	s.ids = make(map[string]struct{}, len(sorted)+len(previous))
	for _, e := range sorted {
		if _, dup := s.ids[e.Id]; dup {
			continue
		}
		e.Status = Confirmed
		s.entries = append(s.entries, e)
		s.ids[e.Id] = struct{}{}
	}
	for _, e := range previous {
		if e.Pending() {
			if s.reconcile(e) {
				continue
			}
			s.entries = append(s.entries, e)
			s.ids[e.Id] = struct{}{}
			continue
		}
		if _, dup := s.ids[e.Id]; !dup {
			s.entries = append(s.entries, e)
			s.ids[e.Id] = struct{}{}
		}
	}
}

// reconcile reports whether a pending entry is already represented by a
// confirmed row from history.
func (s *conversationState) reconcile(pending Entry) bool {
	for _, e := range s.entries {
		if e.Pending() {
			continue
		}
		if pending.ClientNonce != "" && e.ClientNonce == pending.ClientNonce {
			return true
		}
	}
	return false
}

func (s *conversationState) has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// addPending appends an optimistic entry.
func (s *conversationState) addPending(e Entry) {
	e.Status = Pending
	s.entries = append(s.entries, e)
	s.ids[e.Id] = struct{}{}
}

// removePending drops the optimistic entry with tempId and reports whether it was there.
func (s *conversationState) removePending(tempId string) bool {
	for i, e := range s.entries {
		if e.Id == tempId && e.Pending() {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			delete(s.ids, tempId)
			return true
		}
	}
	return false
}

// confirm applies a committed row. A pending entry it matches is replaced in
// place. Otherwise the row is appended, unless its id is already present.
// It reports whether the state changed.
func (s *conversationState) confirm(row Entry) bool {
	if s.has(row.Id) {
		return false
	}
	row.Status = Confirmed

	if i := s.matchPending(row); i >= 0 {
		delete(s.ids, s.entries[i].Id)
		s.entries[i] = row
		s.ids[row.Id] = struct{}{}
		return true
	}

	s.entries = append(s.entries, row)
	s.ids[row.Id] = struct{}{}
	return true
}

// matchPending finds the pending entry a committed row stands for: by client
// nonce first, then by sender, identical content and a createdAt within echoWindow.
func (s *conversationState) matchPending(row Entry) int {
	if row.ClientNonce != "" {
		for i, e := range s.entries {
			if e.Pending() && e.ClientNonce == row.ClientNonce {
				return i
			}
		}
	}
	for i, e := range s.entries {
		if !e.Pending() || e.SenderId != row.SenderId || e.Content != row.Content {
			continue
		}
		if e.ClientNonce != "" && row.ClientNonce != "" {
			continue
		}
		drift := row.CreatedAt.Sub(e.CreatedAt)
		if drift < 0 {
			drift = -drift
		}
		if drift <= echoWindow {
			return i
		}
	}
	return -1
}

func (s *conversationState) snapshot() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
