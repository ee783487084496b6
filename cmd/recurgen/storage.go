package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"recurring-planner/internal/config"
	"recurring-planner/internal/model"
	"recurring-planner/internal/repository"
	"recurring-planner/internal/repository/postgres"
	"recurring-planner/internal/store"
)

type categories interface {
	GetOrCreate(ctx context.Context, userID uint, name string) (*model.Category, error)
	Names(ctx context.Context, userID uint) (map[uint]string, error)
}

type users interface {
	UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error)
}

// backend is everything the commands need from the configured database.
type backend struct {
	store      store.Store
	categories categories
	users      users
	close      func()
}

func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		pg, err := postgres.Connect(ctx, cfg.DatabaseURL, log.Named("postgres"))
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return &backend{store: pg, categories: pg, users: pg, close: pg.Close}, nil
	default:
		db, err := repository.NewDB(cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		closeDB := func() {}
		if sqlDB, err := db.DB(); err == nil {
			closeDB = func() { _ = sqlDB.Close() }
		}
		return &backend{
			store:      repository.NewStore(db),
			categories: repository.NewCategoryRepository(db),
			users:      repository.NewUserRepository(db),
			close:      closeDB,
		}, nil
	}
}
