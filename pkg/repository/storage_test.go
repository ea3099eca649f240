package repository

import (
	"context"
	_ "embed"
	"os"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduleChat/pkg/api"
)

//go:embed schema.sql
var schema string

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.Equal(t, "a:b", PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

// testStorage connects to TEST_DATABASE_URL and resets the tables.
func testStorage(t *testing.T) (Storage, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := pgxpool.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Exec(ctx, schema)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `TRUNCATE direct_messages, comments, meetings, profiles CASCADE`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO profiles (id, email, name, avatar_url) VALUES
		('u1', 'ada@example.com', 'Ada', 'ada.png'),
		('u2', 'bo@example.com', 'Bo', NULL)`)
	require.NoError(t, err)
	return NewStorage(db), db
}

func TestStorageComments(t *testing.T) {
	storage, db := testStorage(t)
	ctx := context.Background()

	var meetingId string
	require.NoError(t, db.QueryRow(ctx, `INSERT INTO meetings (host_id, title, meeting_at) VALUES ('u1', 'standup', now()) RETURNING id::text`).Scan(&meetingId))

	nonce := "n1"
	first, err := storage.AddMessage(ctx, api.CommentRow{MeetingId: meetingId, UserId: "u2", Content: "first", ClientNonce: &nonce})
	require.NoError(t, err)
	assert.NotEmpty(t, first.Id)
	assert.Equal(t, "n1", first.Nonce())
	assert.False(t, first.CreatedAt.IsZero())

	_, err = storage.AddMessage(ctx, api.CommentRow{MeetingId: meetingId, UserId: "u1", Content: "second"})
	require.NoError(t, err)

	messages, err := storage.GetMessages(ctx, meetingId)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, api.Profile{Name: "Bo"}, messages[0].Sender)
	assert.Equal(t, "ada.png", messages[1].Sender.AvatarUrl)

	_, err = storage.AddMessage(ctx, api.CommentRow{MeetingId: "00000000-0000-0000-0000-000000000000", UserId: "u1", Content: "lost"})
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestStorageDirectMessages(t *testing.T) {
	storage, _ := testStorage(t)
	ctx := context.Background()

	_, err := storage.AddDirectMessage(ctx, api.DirectMessageRow{SenderId: "u1", ReceiverId: "u2", Content: "ping"})
	require.NoError(t, err)
	_, err = storage.AddDirectMessage(ctx, api.DirectMessageRow{SenderId: "u2", ReceiverId: "u1", Content: "pong"})
	require.NoError(t, err)

	messages, err := storage.GetDirectMessages(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "ping", messages[0].Content)
	assert.Equal(t, "Ada", messages[0].Sender.Name)

	_, err = storage.AddDirectMessage(ctx, api.DirectMessageRow{SenderId: "u1", ReceiverId: "nobody", Content: "?"})
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestStorageIdentity(t *testing.T) {
	storage, _ := testStorage(t)

	identity, err := storage.GetIdentity(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, api.Identity{Id: "u2", Name: "Bo"}, identity)

	_, err = storage.GetIdentity(context.Background(), "nobody")
	assert.ErrorIs(t, err, api.ErrNotFound)
}
