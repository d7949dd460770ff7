package infra

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cofrap/cofrap_auth/internal/logging"
)

func TestOptionalRedis(t *testing.T) {
	ctx := context.Background()
	logger := logging.Discard()

	client, err := OptionalRedis(ctx, "", false, logger)
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = OptionalRedis(ctx, "", true, logger)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client, err = OptionalRedis(ctx, "redis://"+mr.Addr()+"/0", true, logger)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())

	addr := mr.Addr()
	mr.Close()
	client, err = OptionalRedis(ctx, "redis://"+addr+"/0", false, logger)
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = OptionalRedis(ctx, "redis://"+addr+"/0", true, logger)
	assert.Error(t, err)
}

func TestNewPostgresPoolRequiresURL(t *testing.T) {
	_, err := NewPostgresPool(context.Background(), "")
	assert.Error(t, err)
}
