package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLoginOverwrites(t *testing.T) {
	s := NewStore("k", nil, 0)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, Identity{UserID: "1", Username: "alice"}))
	require.NoError(t, s.Login(ctx, Identity{UserID: "2", Username: "bob"}))

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "bob", cur.Username)
	assert.Equal(t, "2", cur.UserID)
	assert.False(t, cur.AuthenticatedAt.IsZero())
}

func TestLoginRequiresUsername(t *testing.T) {
	s := NewStore("k", nil, 0)
	assert.ErrorIs(t, s.Login(context.Background(), Identity{UserID: "1"}), ErrNoIdentity)
}

func TestLogoutWithoutSessionIsNoop(t *testing.T) {
	_, client := newRedis(t)
	s := NewStore("k", NewRedisPersister(client), time.Hour)

	require.NoError(t, s.Logout(context.Background()))
	require.NoError(t, s.Logout(context.Background()))
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestLogoutClearsPersistedTrace(t *testing.T) {
	mr, client := newRedis(t)
	s := NewStore("abc", NewRedisPersister(client), time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, Identity{UserID: "7", Username: "carol"}))
	assert.True(t, mr.Exists("session:v1:abc"))
	assert.Equal(t, time.Hour, mr.TTL("session:v1:abc"))

	require.NoError(t, s.Logout(ctx))
	assert.False(t, mr.Exists("session:v1:abc"))
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestRestoreFromPersister(t *testing.T) {
	_, client := newRedis(t)
	p := NewRedisPersister(client)
	ctx := context.Background()

	require.NoError(t, NewStore("abc", p, time.Hour).Login(ctx, Identity{UserID: "7", Username: "carol"}))

	fresh := NewStore("abc", p, time.Hour)
	ok, err := fresh.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	cur, ok := fresh.Current()
	require.True(t, ok)
	assert.Equal(t, "carol", cur.Username)

	ok, err = NewStore("other", p, time.Hour).Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCurrentExpiresAfterTTL(t *testing.T) {
	s := NewStore("k", nil, time.Minute)
	require.NoError(t, s.Login(context.Background(), Identity{Username: "dave", AuthenticatedAt: time.Now().Add(-2 * time.Minute)}))

	_, ok := s.Current()
	assert.False(t, ok)
}

func TestManagerAndHandler(t *testing.T) {
	_, client := newRedis(t)
	mgr := NewManager(NewRedisPersister(client), time.Hour, nil)
	require.NoError(t, mgr.Store(context.Background(), "sess").Login(context.Background(), Identity{UserID: "1", Username: "alice"}))

	h := NewHandler(mgr, func(c *fiber.Ctx) string { return c.Get("X-Session") })
	app := fiber.New()
	app.Get("/api/session", h.Current)
	app.Post("/api/session/logout", h.Logout)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("X-Session", "sess")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/session/logout", nil)
	req.Header.Set("X-Session", "sess")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("X-Session", "sess")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Logging out an unknown session still succeeds.
	req = httptest.NewRequest(http.MethodPost, "/api/session/logout", nil)
	req.Header.Set("X-Session", "nobody")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestLookupDoesNotRetainUnknownSessions(t *testing.T) {
	_, client := newRedis(t)
	mgr := NewManager(NewRedisPersister(client), time.Hour, nil)
	h := NewHandler(mgr, func(c *fiber.Ctx) string { return c.Get("X-Session") })
	app := fiber.New()
	app.Get("/api/session", h.Current)

	for i := 0; i < 25; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.Header.Set("X-Session", fmt.Sprintf("anon-%d", i))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.Zero(t, mgr.Len())
}

func TestLookupAdoptsPersistedSession(t *testing.T) {
	_, client := newRedis(t)
	p := NewRedisPersister(client)
	ctx := context.Background()
	require.NoError(t, NewStore("sess", p, time.Hour).Login(ctx, Identity{UserID: "1", Username: "alice"}))

	mgr := NewManager(p, time.Hour, nil)
	id, ok := mgr.Lookup(ctx, "sess")
	require.True(t, ok)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, 1, mgr.Len())
	assert.Same(t, mgr.Store(ctx, "sess"), mgr.Store(ctx, "sess"))
}

func TestManagerSweepsIdleVacantStores(t *testing.T) {
	now := time.Now()
	mgr := NewManager(nil, time.Hour, nil)
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	mgr.Store(ctx, "empty")
	require.NoError(t, mgr.Store(ctx, "live").Login(ctx, Identity{UserID: "2", Username: "bob"}))
	require.Equal(t, 2, mgr.Len())

	now = now.Add(2 * time.Hour)
	mgr.Store(ctx, "fresh")

	assert.Equal(t, 2, mgr.Len())
	_, ok := mgr.Lookup(ctx, "live")
	assert.True(t, ok)
	_, ok = mgr.Lookup(ctx, "empty")
	assert.False(t, ok)
}

func TestLoginReattachesSweptStore(t *testing.T) {
	now := time.Now()
	mgr := NewManager(nil, time.Hour, nil)
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	held := mgr.Store(ctx, "sess")
	now = now.Add(2 * time.Hour)
	mgr.Store(ctx, "other")
	require.Equal(t, 1, mgr.Len())

	require.NoError(t, held.Login(ctx, Identity{UserID: "3", Username: "carol"}))
	id, ok := mgr.Lookup(ctx, "sess")
	require.True(t, ok)
	assert.Equal(t, "carol", id.Username)
}
