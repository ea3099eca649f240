package api

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

type ChatService interface {
	GetMessages(ctx context.Context, meetingId string) ([]Message, error)
	AddMessage(ctx context.Context, meetingId string, senderId string, newMessage NewMessage) (Message, error)
	GetDirectMessages(ctx context.Context, userId string, peerId string) ([]DirectMessage, error)
	AddDirectMessage(ctx context.Context, senderId string, receiverId string, newMessage NewMessage) (DirectMessage, error)
}

type ChatRepository interface {
	GetMessages(ctx context.Context, meetingId string) ([]Message, error)
	AddMessage(ctx context.Context, row CommentRow) (CommentRow, error)
	GetDirectMessages(ctx context.Context, userId string, peerId string) ([]DirectMessage, error)
	AddDirectMessage(ctx context.Context, row DirectMessageRow) (DirectMessageRow, error)
}

// Publisher fans committed rows out to realtime subscribers. *Hub satisfies it.
type Publisher interface {
	Publish(ctx context.Context, table string, record interface{}) bool
}

type chatService struct {
	storage   ChatRepository
	publisher Publisher
}

func NewChatService(storage ChatRepository, publisher Publisher) ChatService {
	return &chatService{storage: storage, publisher: publisher}
}

func (c *chatService) GetMessages(ctx context.Context, meetingId string) ([]Message, error) {
	if meetingId == "" {
		return nil, errors.New("meetingId is empty")
	}

	messages, err := c.storage.GetMessages(ctx, meetingId)
	if err != nil {
		return nil, err
	}

	return messages, nil
}

func (c *chatService) AddMessage(ctx context.Context, meetingId string, senderId string, newMessage NewMessage) (Message, error) {
	content := strings.TrimSpace(newMessage.Content)
	if content == "" {
		return Message{}, ErrEmptyContent
	}

	row := CommentRow{MeetingId: meetingId, UserId: senderId, Content: content}
	if newMessage.ClientNonce != "" {
		row.ClientNonce = &newMessage.ClientNonce
	}

	row, err := c.storage.AddMessage(ctx, row)
	if err != nil {
		return Message{}, err
	}

	if !c.publisher.Publish(ctx, CommentsTable, row) {
		zap.S().Warnw("comment committed but not published", "id", row.Id, "meetingId", meetingId)
	}

	return row.ToMessage(Profile{}), nil
}

func (c *chatService) GetDirectMessages(ctx context.Context, userId string, peerId string) ([]DirectMessage, error) {
	if userId == "" || peerId == "" {
		return nil, errors.New("direct conversation needs two users")
	}

	messages, err := c.storage.GetDirectMessages(ctx, userId, peerId)
	if err != nil {
		return nil, err
	}

	return messages, nil
}

func (c *chatService) AddDirectMessage(ctx context.Context, senderId string, receiverId string, newMessage NewMessage) (DirectMessage, error) {
	content := strings.TrimSpace(newMessage.Content)
	if content == "" {
		return DirectMessage{}, ErrEmptyContent
	}
	if receiverId == "" {
		return DirectMessage{}, errors.New("receiverId is empty")
	}

	row := DirectMessageRow{SenderId: senderId, ReceiverId: receiverId, Content: content}
	if newMessage.ClientNonce != "" {
		row.ClientNonce = &newMessage.ClientNonce
	}

	row, err := c.storage.AddDirectMessage(ctx, row)
	if err != nil {
		return DirectMessage{}, err
	}

	if !c.publisher.Publish(ctx, DirectMessagesTable, row) {
		zap.S().Warnw("direct message committed but not published", "id", row.Id)
	}

	return row.ToDirectMessage(Profile{}), nil
}
