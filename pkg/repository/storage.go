package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"scheduleChat/pkg/api"
)

// Storage is the Postgres backed repository for profiles, meeting comments
// and direct messages.
type Storage interface {
	api.UserRepository
	api.ChatRepository
}

type storage struct {
	db *pgxpool.Pool
}

func NewStorage(db *pgxpool.Pool) Storage {
	return &storage{db: db}
}

// foreign_key_violation
const foreignKeyViolation = "23503"

type commentRecord struct {
	api.CommentRow
	SenderName      string `db:"sender_name"`
	SenderAvatarUrl string `db:"sender_avatar_url"`
}

type directMessageRecord struct {
	api.DirectMessageRow
	SenderName      string `db:"sender_name"`
	SenderAvatarUrl string `db:"sender_avatar_url"`
}

func (s *storage) GetIdentity(ctx context.Context, userId string) (api.Identity, error) {
	var identity api.Identity
	err := pgxscan.Get(ctx, s.db, &identity, `
		SELECT id::text AS id, COALESCE(name, '') AS name, COALESCE(avatar_url, '') AS avatar_url
		FROM profiles WHERE id = $1`, userId)
	if pgxscan.NotFound(err) {
		return identity, fmt.Errorf("profile %s: %w", userId, api.ErrNotFound)
	}
	if err != nil {
		return identity, err
	}
	return identity, nil
}

func (s *storage) GetMessages(ctx context.Context, meetingId string) ([]api.Message, error) {
	var records []*commentRecord
	if err := pgxscan.Select(ctx, s.db, &records, `
		SELECT c.id::text AS id, c.meeting_id::text AS meeting_id, c.user_id::text AS user_id,
		       c.content, c.client_nonce, c.created_at,
		       COALESCE(p.name, '') AS sender_name, COALESCE(p.avatar_url, '') AS sender_avatar_url
		FROM comments c
		LEFT JOIN profiles p ON p.id = c.user_id
		WHERE c.meeting_id = $1
		ORDER BY c.created_at ASC`, meetingId); err != nil {
		return nil, err
	}

	messages := make([]api.Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, r.ToMessage(api.Profile{Name: r.SenderName, AvatarUrl: r.SenderAvatarUrl}))
	}
	return messages, nil
}

func (s *storage) AddMessage(ctx context.Context, row api.CommentRow) (api.CommentRow, error) {
	var created api.CommentRow
	err := pgxscan.Get(ctx, s.db, &created, `
		INSERT INTO comments (meeting_id, user_id, content, client_nonce)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text AS id, meeting_id::text AS meeting_id, user_id::text AS user_id,
		          content, client_nonce, created_at`,
		row.MeetingId, row.UserId, row.Content, row.ClientNonce)
	if err != nil {
		return created, mapWriteError(err, "meeting "+row.MeetingId)
	}

	zap.S().Infow("created comment", "id", created.Id, "meetingId", created.MeetingId)
	return created, nil
}

func (s *storage) GetDirectMessages(ctx context.Context, userId string, peerId string) ([]api.DirectMessage, error) {
	var records []*directMessageRecord
	if err := pgxscan.Select(ctx, s.db, &records, `
		SELECT d.id::text AS id, d.sender_id::text AS sender_id, d.receiver_id::text AS receiver_id,
		       d.content, d.client_nonce, d.created_at,
		       COALESCE(p.name, '') AS sender_name, COALESCE(p.avatar_url, '') AS sender_avatar_url
		FROM direct_messages d
		LEFT JOIN profiles p ON p.id = d.sender_id
		WHERE (d.sender_id = $1 AND d.receiver_id = $2) OR (d.sender_id = $2 AND d.receiver_id = $1)
		ORDER BY d.created_at ASC`, userId, peerId); err != nil {
		return nil, err
	}

	messages := make([]api.DirectMessage, 0, len(records))
	for _, r := range records {
		messages = append(messages, r.ToDirectMessage(api.Profile{Name: r.SenderName, AvatarUrl: r.SenderAvatarUrl}))
	}
	return messages, nil
}

func (s *storage) AddDirectMessage(ctx context.Context, row api.DirectMessageRow) (api.DirectMessageRow, error) {
	var created api.DirectMessageRow
	err := pgxscan.Get(ctx, s.db, &created, `
		INSERT INTO direct_messages (sender_id, receiver_id, content, client_nonce)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text AS id, sender_id::text AS sender_id, receiver_id::text AS receiver_id,
		          content, client_nonce, created_at`,
		row.SenderId, row.ReceiverId, row.Content, row.ClientNonce)
	if err != nil {
		return created, mapWriteError(err, "user "+row.ReceiverId)
	}

	zap.S().Infow("created direct message", "id", created.Id)
	return created, nil
}

func mapWriteError(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%s: %w", what, api.ErrNotFound)
	}
	return err
}
