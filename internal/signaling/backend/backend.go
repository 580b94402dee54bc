// Package backend opens the signaling channel selected by configuration.
package backend

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"

	"lexhub-backend/internal/database"
	firestoreRepo "lexhub-backend/internal/repository/firestore"
	redisRepo "lexhub-backend/internal/repository/redis"
	"lexhub-backend/internal/signaling"
	"lexhub-backend/internal/signaling/memory"
	"lexhub-backend/pkg/config"
)

// Open returns the channel for backend and a func releasing it. app is
// required for firestore and redisDB for redis.
func Open(ctx context.Context, backend string, app *firebase.App, redisDB *database.RedisClient) (signaling.Channel, func() error, error) {
	switch backend {
	case config.BackendFirestore:
		if app == nil {
			return nil, nil, fmt.Errorf("firestore signaling requires a Firebase app")
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open Firestore: %w", err)
		}
		ch := firestoreRepo.NewChannel(client)
		return ch, ch.Close, nil
	case config.BackendRedis:
		if redisDB == nil {
			return nil, nil, fmt.Errorf("redis signaling requires a Redis client")
		}
		return redisRepo.NewChannel(redisDB), func() error { return nil }, nil
	case config.BackendMemory:
		return memory.New(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown signaling backend %q", backend)
}
