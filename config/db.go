package config

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

func SetupDatabase(ctx context.Context, databaseUrl string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, databaseUrl)
	if err != nil {
		return nil, err
	}
	zap.S().Info("Successfully connected to database")

	return pool, nil
}
