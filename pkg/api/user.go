package api

import (
	"context"
	"errors"
)

type UserService interface {
	GetIdentity(ctx context.Context, userId string) (Identity, error)
	GetProfile(ctx context.Context, userId string) (Profile, error)
}

type UserRepository interface {
	GetIdentity(ctx context.Context, userId string) (Identity, error)
}

type userService struct {
	storage UserRepository
}

func NewUserService(repository UserRepository) UserService {
	return &userService{storage: repository}
}

func (u userService) GetIdentity(ctx context.Context, userId string) (Identity, error) {
	if userId == "" {
		return Identity{}, errors.New("userId is empty")
	}

	identity, err := u.storage.GetIdentity(ctx, userId)
	if err != nil {
		return Identity{}, err
	}

	return identity, nil
}

func (u userService) GetProfile(ctx context.Context, userId string) (Profile, error) {
	identity, err := u.GetIdentity(ctx, userId)
	if err != nil {
		return Profile{}, err
	}

	return identity.Profile(), nil
}
