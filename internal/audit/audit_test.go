package audit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiStampsOnce(t *testing.T) {
	a, b := NewMemoryRecorder(), NewMemoryRecorder()
	require.NoError(t, Multi{a, nil, b}.Record(context.Background(), Event{Trigger: "submit_username", From: "entry", To: "checking"}))

	ea, eb := a.Events(), b.Events()
	require.Len(t, ea, 1)
	require.Len(t, eb, 1)
	assert.NotEmpty(t, ea[0].ID)
	assert.Equal(t, ea[0].ID, eb[0].ID)
	assert.False(t, ea[0].At.IsZero())
}

func TestRedisRecorderAppendsToStream(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rec := NewRedisRecorder(client, "")
	ctx := context.Background()
	require.NoError(t, rec.Record(ctx, Event{Trigger: "register", From: "needs_registration", To: "credentials_issued", Username: "dave"}))
	require.NoError(t, rec.Record(ctx, Event{Trigger: "continue", From: "credentials_issued", To: "needs_password", Username: "dave"}))

	msgs, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "register", msgs[0].Values["trigger"])
	assert.Equal(t, "dave", msgs[1].Values["username"])
	assert.Equal(t, "needs_password", msgs[1].Values["to"])
}

func TestLoggerRecorderNilSafe(t *testing.T) {
	var rec *LoggerRecorder
	assert.NoError(t, rec.Record(context.Background(), Event{}))
}
