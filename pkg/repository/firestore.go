package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scheduleChat/pkg/api"
)

// firestoreMessages keeps comments and direct messages in Firestore while
// sender profiles stay in Postgres.
//
//	meetings/{meetingId}/comments/{id}
//	direct_messages/{id}   (pair = sorted "a:b" for the conversation query)
type firestoreMessages struct {
	client *firestore.Client
	users  api.UserRepository
}

func NewFirestoreStorage(client *firestore.Client, users api.UserRepository) api.ChatRepository {
	return &firestoreMessages{client: client, users: users}
}

// PairKey identifies the unordered pair {a, b}.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func (f *firestoreMessages) GetMessages(ctx context.Context, meetingId string) ([]api.Message, error) {
	query := f.client.Collection("meetings").Doc(meetingId).Collection(api.CommentsTable).OrderBy("createdAt", firestore.Asc)
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]api.Profile)
	messages := make([]api.Message, 0, len(docs))
	for _, doc := range docs {
		var row api.CommentRow
		if err := doc.DataTo(&row); err != nil {
			zap.S().Warnw("skipping unreadable comment", "id", doc.Ref.ID, "error", err)
			continue
		}
		row.Id = doc.Ref.ID
		messages = append(messages, row.ToMessage(f.profile(ctx, profiles, row.UserId)))
	}
	return messages, nil
}

func (f *firestoreMessages) AddMessage(ctx context.Context, row api.CommentRow) (api.CommentRow, error) {
	meetingRef := f.client.Collection("meetings").Doc(row.MeetingId)
	if _, err := meetingRef.Get(ctx); status.Code(err) == codes.NotFound {
		return row, fmt.Errorf("meeting %s: %w", row.MeetingId, api.ErrNotFound)
	} else if err != nil {
		return row, err
	}

	ref, wr, err := meetingRef.Collection(api.CommentsTable).Add(ctx, map[string]interface{}{
		"meetingId":   row.MeetingId,
		"userId":      row.UserId,
		"content":     row.Content,
		"clientNonce": row.ClientNonce,
		"createdAt":   firestore.ServerTimestamp,
	})
	if err != nil {
		return row, err
	}

	row.Id = ref.ID
	row.CreatedAt = wr.UpdateTime
	zap.S().Infow("created comment document", "id", ref.ID, "meetingId", row.MeetingId)
	return row, nil
}

func (f *firestoreMessages) GetDirectMessages(ctx context.Context, userId string, peerId string) ([]api.DirectMessage, error) {
	query := f.client.Collection(api.DirectMessagesTable).
		Where("pair", "==", PairKey(userId, peerId)).
		OrderBy("createdAt", firestore.Asc)
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]api.Profile)
	messages := make([]api.DirectMessage, 0, len(docs))
	for _, doc := range docs {
		var row api.DirectMessageRow
		if err := doc.DataTo(&row); err != nil {
			zap.S().Warnw("skipping unreadable direct message", "id", doc.Ref.ID, "error", err)
			continue
		}
		row.Id = doc.Ref.ID
		messages = append(messages, row.ToDirectMessage(f.profile(ctx, profiles, row.SenderId)))
	}
	return messages, nil
}

func (f *firestoreMessages) AddDirectMessage(ctx context.Context, row api.DirectMessageRow) (api.DirectMessageRow, error) {
	if _, err := f.users.GetIdentity(ctx, row.ReceiverId); err != nil {
		return row, err
	}

	ref, wr, err := f.client.Collection(api.DirectMessagesTable).Add(ctx, map[string]interface{}{
		"pair":        PairKey(row.SenderId, row.ReceiverId),
		"senderId":    row.SenderId,
		"receiverId":  row.ReceiverId,
		"content":     row.Content,
		"clientNonce": row.ClientNonce,
		"createdAt":   firestore.ServerTimestamp,
	})
	if err != nil {
		return row, err
	}

	row.Id = ref.ID
	row.CreatedAt = wr.UpdateTime
	zap.S().Infow("created direct message document", "id", ref.ID)
	return row, nil
}

// profile joins a sender profile from Postgres, once per user per call.
func (f *firestoreMessages) profile(ctx context.Context, seen map[string]api.Profile, userId string) api.Profile {
	if p, ok := seen[userId]; ok {
		return p
	}
	identity, err := f.users.GetIdentity(ctx, userId)
	if err != nil {
		zap.S().Warnw("sender profile unavailable", "userId", userId, "error", err)
	}
	seen[userId] = identity.Profile()
	return seen[userId]
}
