package api

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyContent = errors.New("message content is empty")
	ErrUnauthorized = errors.New("unauthorized")
)

// Table names carried on insert events.
const (
	CommentsTable       = "comments"
	DirectMessagesTable = "direct_messages"
)

// GlobalPresenceChannel is the one process-wide presence channel every session joins.
const GlobalPresenceChannel = "global_presence"

type Profile struct {
	Name      string `db:"name" json:"name"`
	AvatarUrl string `db:"avatar_url" json:"avatarUrl"`
}

type Identity struct {
	Id        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	AvatarUrl string `db:"avatar_url" json:"avatarUrl"`
}

func (i Identity) Profile() Profile {
	return Profile{Name: i.Name, AvatarUrl: i.AvatarUrl}
}

// Message is a group chat row of a meeting.
type Message struct {
	Id          string    `json:"id"`
	MeetingId   string    `json:"meetingId"`
	SenderId    string    `json:"senderId"`
	Content     string    `json:"content"`
	ClientNonce string    `json:"clientNonce,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Sender      Profile   `json:"sender"`
}

// DirectMessage belongs to the unordered pair {SenderId, ReceiverId}.
type DirectMessage struct {
	Id          string    `json:"id"`
	SenderId    string    `json:"senderId"`
	ReceiverId  string    `json:"receiverId"`
	Content     string    `json:"content"`
	ClientNonce string    `json:"clientNonce,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Sender      Profile   `json:"sender"`
}

// Involves reports whether the message travels between a and b in either direction.
func (m DirectMessage) Involves(a, b string) bool {
	return (m.SenderId == a && m.ReceiverId == b) || (m.SenderId == b && m.ReceiverId == a)
}

type NewMessage struct {
	Content     string `json:"content"`
	ClientNonce string `json:"clientNonce,omitempty"`
}

// PresenceRecord is the liveness metadata a session tracks for its own user.
type PresenceRecord struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	AvatarUrl string    `json:"avatar_url"`
	OnlineAt  time.Time `json:"online_at"`
}

// CommentRow and DirectMessageRow are the raw rows published on insert events.
// They carry foreign keys only; sender profiles are not joined.
type CommentRow struct {
	Id          string    `db:"id" json:"id" firestore:"-"`
	MeetingId   string    `db:"meeting_id" json:"meeting_id" firestore:"meetingId"`
	UserId      string    `db:"user_id" json:"user_id" firestore:"userId"`
	Content     string    `db:"content" json:"content" firestore:"content"`
	ClientNonce *string   `db:"client_nonce" json:"client_nonce" firestore:"clientNonce"`
	CreatedAt   time.Time `db:"created_at" json:"created_at" firestore:"createdAt"`
}

type DirectMessageRow struct {
	Id          string    `db:"id" json:"id" firestore:"-"`
	SenderId    string    `db:"sender_id" json:"sender_id" firestore:"senderId"`
	ReceiverId  string    `db:"receiver_id" json:"receiver_id" firestore:"receiverId"`
	Content     string    `db:"content" json:"content" firestore:"content"`
	ClientNonce *string   `db:"client_nonce" json:"client_nonce" firestore:"clientNonce"`
	CreatedAt   time.Time `db:"created_at" json:"created_at" firestore:"createdAt"`
}

func (r CommentRow) Nonce() string {
	if r.ClientNonce == nil {
		return ""
	}
	return *r.ClientNonce
}

func (r DirectMessageRow) Nonce() string {
	if r.ClientNonce == nil {
		return ""
	}
	return *r.ClientNonce
}

// ToMessage attaches a sender profile to the row.
func (r CommentRow) ToMessage(sender Profile) Message {
	return Message{
		Id:          r.Id,
		MeetingId:   r.MeetingId,
		SenderId:    r.UserId,
		Content:     r.Content,
		ClientNonce: r.Nonce(),
		CreatedAt:   r.CreatedAt,
		Sender:      sender,
	}
}

func (r DirectMessageRow) ToDirectMessage(sender Profile) DirectMessage {
	return DirectMessage{
		Id:          r.Id,
		SenderId:    r.SenderId,
		ReceiverId:  r.ReceiverId,
		Content:     r.Content,
		ClientNonce: r.Nonce(),
		CreatedAt:   r.CreatedAt,
		Sender:      sender,
	}
}

// Requests sent from realtime clients to the broker.
const (
	Authenticate = 1
	Join         = 2
	Leave        = 3
	Track        = 4
	Untrack      = 5
	Heartbeat    = 6
)

// Events sent from the broker to realtime clients.
const (
	Reply         = 10
	PresenceState = 11
	Insert        = 12
	Error         = 13
)

// Reply statuses.
const (
	StatusOk         = "ok"
	StatusSubscribed = "SUBSCRIBED"
	StatusError      = "error"
)

// ChangeSpec selects insert events of one table, optionally narrowed by a
// filter of the form "column=eq.value".
type ChangeSpec struct {
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type IncomingEvent struct {
	Ref         string          `json:"ref,omitempty"`
	RequestType int             `json:"requestType"`
	Channel     string          `json:"channel,omitempty"`
	Token       string          `json:"token,omitempty"`
	Changes     []ChangeSpec    `json:"changes,omitempty"`
	PresenceKey string          `json:"presenceKey,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type OutgoingEvent struct {
	Ref         string                       `json:"ref,omitempty"`
	RequestType int                          `json:"requestType"`
	Channel     string                       `json:"channel,omitempty"`
	Status      string                       `json:"status,omitempty"`
	Table       string                       `json:"table,omitempty"`
	Record      json.RawMessage              `json:"record,omitempty"`
	State       map[string][]json.RawMessage `json:"state,omitempty"`
	Error       string                       `json:"error,omitempty"`
}
