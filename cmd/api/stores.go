package main

import (
	"context"
	"fmt"

	"guardian.org/internal/auth"
	"guardian.org/internal/config"
	"guardian.org/internal/httpapi"
	"guardian.org/internal/ids"
	"guardian.org/internal/obs"
	"guardian.org/internal/store/memstore"
	"guardian.org/internal/store/pg"
	"guardian.org/internal/store/redisstore"
)

type backend struct {
	store  auth.Store
	probe  httpapi.ReadyProbe
	closer []func() error
}

func (b *backend) close() {
	for i := len(b.closer) - 1; i >= 0; i-- {
		_ = b.closer[i]()
	}
}

// openStores picks Postgres when a DSN is configured and the in-memory
// store otherwise. Redis, when configured, takes over revocations.
func openStores(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{}
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.store = pgStore
		b.probe.DB = pgStore.DB()
		b.closer = append(b.closer, pgStore.Close)
	} else {
		mem := memstore.New()
		if err := bootstrapMemory(mem, cfg); err != nil {
			return nil, err
		}
		b.store = mem
		obs.Warn("guardian: no database configured, using the in-memory store", nil)
	}

	if cfg.RedisURL != "" {
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.store = redisstore.WithRevocations(b.store, redisstore.NewRevocations(client))
		b.probe.Redis = client
		b.closer = append(b.closer, client.Close)
	}
	return b, nil
}

func bootstrapMemory(mem *memstore.Store, cfg config.Config) error {
	if cfg.BootstrapUsername == "" {
		return nil
	}
	hash, err := auth.HashPassword(cfg.BootstrapPassword)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}
	if err := mem.AddAdmin(auth.AdminIdentity{
		ID:           ids.New(),
		Username:     cfg.BootstrapUsername,
		PasswordHash: hash,
		IsSuperAdmin: true,
		Status:       auth.StatusActive,
	}); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	obs.Info("guardian: bootstrap super admin created", map[string]any{"username": cfg.BootstrapUsername})
	return nil
}
