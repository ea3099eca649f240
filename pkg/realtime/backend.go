package realtime

import (
	"context"

	"scheduleChat/pkg/api"
)

// Backend is the persistence and auth collaborator. *client.Client implements
// it over the REST API.
type Backend interface {
	// CurrentIdentity returns nil when nobody is signed in.
	CurrentIdentity(ctx context.Context) (*api.Identity, error)
	// MessageHistory returns a meeting's messages, oldest first.
	MessageHistory(ctx context.Context, meetingId string) ([]api.Message, error)
	// DirectHistory returns the messages between userA and userB, oldest first.
	DirectHistory(ctx context.Context, userA string, userB string) ([]api.DirectMessage, error)
	InsertMessage(ctx context.Context, meetingId string, senderId string, message api.NewMessage) (api.Message, error)
	InsertDirectMessage(ctx context.Context, senderId string, receiverId string, message api.NewMessage) (api.DirectMessage, error)
	// Profile fails with api.ErrNotFound for unknown users.
	Profile(ctx context.Context, userId string) (api.Profile, error)
}
