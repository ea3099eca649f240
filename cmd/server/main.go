package main

import (
	"context"
	"log"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"scheduleChat/config"
	"scheduleChat/pkg/api"
	"scheduleChat/pkg/app"
	"scheduleChat/pkg/repository"
)

func main() {
	conf, err := config.New()
	if err != nil {
		log.Fatalf("Unable to load config: %v", err)
	}
	defer func() { _ = zap.L().Sync() }()

	ctx := context.Background()

	db, err := config.SetupDatabase(ctx, conf.DatabaseUrl)
	if err != nil {
		zap.S().Errorw("Unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	firebaseApp, err := config.SetupFirebase(ctx)
	if err != nil {
		zap.S().Fatalw("Unable to set up firebase", "error", err)
	}
	verifier, err := config.SetupAuth(ctx, firebaseApp)
	if err != nil {
		zap.S().Fatalw("Unable to set up firebase auth", "error", err)
	}

	storage := repository.NewStorage(db)

	var messages api.ChatRepository = storage
	if conf.MessageStore == config.MessageStoreFirestore {
		firestore, err := config.SetupFirestore(ctx, firebaseApp)
		if err != nil {
			zap.S().Fatalw("Unable to set up firestore", "error", err)
		}
		defer firestore.Close()
		messages = repository.NewFirestoreStorage(firestore, storage)
	}

	hub := api.NewHub()

	router := chi.NewRouter()

	userService := api.NewUserService(storage)

	chatService := api.NewChatService(messages, hub)

	server := app.NewServer(router, hub, userService, chatService, verifier, conf)

	if err = server.Run(); err != nil {
		zap.S().Errorw("server stopped with error", "error", err)
		os.Exit(1)
	}
}
