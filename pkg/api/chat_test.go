package api_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scheduleChat/pkg/api"
)

type chatRepository struct {
	mock.Mock
}

func (m *chatRepository) GetMessages(ctx context.Context, meetingId string) ([]api.Message, error) {
	args := m.Called(ctx, meetingId)
	return args.Get(0).([]api.Message), args.Error(1)
}

func (m *chatRepository) AddMessage(ctx context.Context, row api.CommentRow) (api.CommentRow, error) {
	args := m.Called(ctx, row)
	return args.Get(0).(api.CommentRow), args.Error(1)
}

func (m *chatRepository) GetDirectMessages(ctx context.Context, userId string, peerId string) ([]api.DirectMessage, error) {
	args := m.Called(ctx, userId, peerId)
	return args.Get(0).([]api.DirectMessage), args.Error(1)
}

func (m *chatRepository) AddDirectMessage(ctx context.Context, row api.DirectMessageRow) (api.DirectMessageRow, error) {
	args := m.Called(ctx, row)
	return args.Get(0).(api.DirectMessageRow), args.Error(1)
}

type publisher struct {
	mock.Mock
}

func (m *publisher) Publish(ctx context.Context, table string, record interface{}) bool {
	return m.Called(ctx, table, record).Bool(0)
}

func TestAddMessageStoresAndPublishesRow(t *testing.T) {
	repo := &chatRepository{}
	pub := &publisher{}
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	nonce := "n1"
	stored := api.CommentRow{Id: "c1", MeetingId: "m1", UserId: "u1", Content: "hello", ClientNonce: &nonce, CreatedAt: created}

	repo.On("AddMessage", mock.Anything, mock.MatchedBy(func(row api.CommentRow) bool {
		return row.MeetingId == "m1" && row.UserId == "u1" && row.Content == "hello" && row.Nonce() == "n1"
	})).Return(stored, nil)
	pub.On("Publish", mock.Anything, api.CommentsTable, stored).Return(true)

	message, err := api.NewChatService(repo, pub).AddMessage(context.Background(), "m1", "u1", api.NewMessage{Content: "  hello ", ClientNonce: "n1"})

	require.NoError(t, err)
	assert.Equal(t, "c1", message.Id)
	assert.Equal(t, "n1", message.ClientNonce)
	assert.Equal(t, created, message.CreatedAt)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestAddMessageRejectsBlankContent(t *testing.T) {
	repo := &chatRepository{}
	pub := &publisher{}

	_, err := api.NewChatService(repo, pub).AddMessage(context.Background(), "m1", "u1", api.NewMessage{Content: "   "})

	assert.ErrorIs(t, err, api.ErrEmptyContent)
	repo.AssertNotCalled(t, "AddMessage", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddMessageDoesNotPublishFailedWrites(t *testing.T) {
	repo := &chatRepository{}
	pub := &publisher{}
	repo.On("AddMessage", mock.Anything, mock.Anything).Return(api.CommentRow{}, api.ErrNotFound)

	_, err := api.NewChatService(repo, pub).AddMessage(context.Background(), "missing", "u1", api.NewMessage{Content: "hi"})

	assert.ErrorIs(t, err, api.ErrNotFound)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddDirectMessageKeepsCommitWhenPublishFails(t *testing.T) {
	repo := &chatRepository{}
	pub := &publisher{}
	stored := api.DirectMessageRow{Id: "d1", SenderId: "u1", ReceiverId: "u2", Content: "hey"}
	repo.On("AddDirectMessage", mock.Anything, mock.Anything).Return(stored, nil)
	pub.On("Publish", mock.Anything, api.DirectMessagesTable, stored).Return(false)

	message, err := api.NewChatService(repo, pub).AddDirectMessage(context.Background(), "u1", "u2", api.NewMessage{Content: "hey"})

	require.NoError(t, err)
	assert.Equal(t, "d1", message.Id)
	assert.Empty(t, message.ClientNonce)
}

func TestGetDirectMessagesNeedsBothUsers(t *testing.T) {
	repo := &chatRepository{}
	service := api.NewChatService(repo, &publisher{})

	_, err := service.GetDirectMessages(context.Background(), "u1", "")
	assert.Error(t, err)

	repo.On("GetDirectMessages", mock.Anything, "u1", "u2").Return([]api.DirectMessage{{Id: "d1"}}, nil)
	messages, err := service.GetDirectMessages(context.Background(), "u1", "u2")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestGetMessagesPassesStorageErrors(t *testing.T) {
	repo := &chatRepository{}
	boom := errors.New("db down")
	repo.On("GetMessages", mock.Anything, "m1").Return([]api.Message(nil), boom)

	_, err := api.NewChatService(repo, &publisher{}).GetMessages(context.Background(), "m1")
	assert.ErrorIs(t, err, boom)
}

func TestDirectMessageInvolves(t *testing.T) {
	m := api.DirectMessage{SenderId: "a", ReceiverId: "b"}
	assert.True(t, m.Involves("a", "b"))
	assert.True(t, m.Involves("b", "a"))
	assert.False(t, m.Involves("a", "c"))
}
