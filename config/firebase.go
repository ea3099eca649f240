package config

import (
	"context"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

// SetupFirebase builds the Firebase app from GOOGLE_APPLICATION_CREDENTIALS.
func SetupFirebase(ctx context.Context) (*firebase.App, error) {
	return firebase.NewApp(ctx, nil)
}

func SetupAuth(ctx context.Context, app *firebase.App) (*auth.Client, error) {
	return app.Auth(ctx)
}

func SetupFirestore(ctx context.Context, app *firebase.App) (*firestore.Client, error) {
	return app.Firestore(ctx)
}
