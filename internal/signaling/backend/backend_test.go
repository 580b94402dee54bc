package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/signaling/memory"
	"lexhub-backend/pkg/config"
)

func TestOpen_Memory(t *testing.T) {
	ch, closeFn, err := Open(context.Background(), config.BackendMemory, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, ch)
	assert.NoError(t, closeFn())
}

func TestOpen_MissingDependencies(t *testing.T) {
	_, _, err := Open(context.Background(), config.BackendFirestore, nil, nil)
	assert.Error(t, err)

	_, _, err = Open(context.Background(), config.BackendRedis, nil, nil)
	assert.Error(t, err)

	_, _, err = Open(context.Background(), "carrier-pigeon", nil, nil)
	assert.ErrorContains(t, err, "unknown signaling backend")
}
