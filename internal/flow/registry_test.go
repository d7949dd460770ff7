package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryKeepsOneFlowPerSession(t *testing.T) {
	reg := NewRegistry(func(string) *Machine { return New(&fakeGateway{}, nil) }, 0)

	first := reg.Start("s1")
	second := reg.Start("s1")
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get("s1")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, reg.Abandon("s1"))
	assert.False(t, reg.Abandon("s1"))
	_, ok = reg.Get("s1")
	assert.False(t, ok)
}

func TestRegistryDropsIdleFlows(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(func(string) *Machine { return New(&fakeGateway{}, nil) }, time.Minute)
	reg.now = func() time.Time { return now }

	reg.Start("old")
	now = now.Add(2 * time.Minute)
	reg.Start("new")

	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get("old")
	assert.False(t, ok)
	_, ok = reg.Get("new")
	assert.True(t, ok)
}
