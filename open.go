package availsync

import (
	"context"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Seann-Moser/availsync/config"
	"github.com/Seann-Moser/availsync/oauth/oclient"
	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/store"
)

// Open builds a Service and its backing connections from cfg. The returned
// close function waits for background work and releases connections.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, func(context.Context) error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func(context.Context) error
	closeAll := func(ctx context.Context) error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	st, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeStore)

	var rdb redis.Cmdable
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = closeAll(ctx)
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		rdb = client
		closers = append(closers, func(context.Context) error { return client.Close() })
	}

	var sealer oclient.Sealer
	key, _ := cfg.SealingKey()
	if key != nil {
		if sealer, err = oclient.NewSecretBoxSealer(key); err != nil {
			_ = closeAll(ctx)
			return nil, nil, err
		}
	}

	client := remote.NewHTTPClient(remote.HTTPConfig{
		APIBaseURL:     cfg.Remote.APIBaseURL,
		BookingBaseURL: cfg.Remote.BookingBaseURL,
		ClientID:       cfg.Remote.ClientID,
		ClientSecret:   cfg.Remote.ClientSecret,
		AuthURL:        cfg.Remote.AuthURL,
		TokenURL:       cfg.Remote.TokenURL,
		RedirectURL:    cfg.Remote.RedirectURL,
		Timeout:        cfg.Remote.Timeout,
	}, logger.With("component", "remote"))

	svc, err := New(Options{
		Store:           st,
		Client:          client,
		Redis:           rdb,
		Sealer:          sealer,
		DefaultTimezone: cfg.DefaultTimezone,
		SyncTimeout:     cfg.SyncTimeout,
		SigningKey:      cfg.Webhook.SigningKey,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		Tolerance:       cfg.Webhook.Tolerance,
		CallbackURL:     cfg.Webhook.CallbackURL,
		Logger:          logger,
	})
	if err != nil {
		_ = closeAll(ctx)
		return nil, nil, err
	}

	return svc, func(ctx context.Context) error {
		svc.Wait()
		return closeAll(ctx)
	}, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, func(context.Context) error, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("pinging mongo: %w", err)
		}
		return store.NewMongo(client.Database(cfg.Database)), client.Disconnect, nil
	case config.DriverSQLite:
		db, err := store.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return db, func(context.Context) error { return db.Close() }, nil
	default:
		return store.NewMemory(), func(context.Context) error { return nil }, nil
	}
}
