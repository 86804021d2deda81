package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p-arndt/sandkasten/internal/config"
)

func TestTakeOnUnconfiguredImageMisses(t *testing.T) {
	cfg := &config.Config{Pool: config.PoolConfig{Enabled: false}}
	p := New(cfg, nil, nil)

	result, ok := p.Take(context.Background(), "python:latest")
	require.False(t, ok)
	require.Nil(t, result)
}

func TestStartDisabledPoolLeavesPoolsEmpty(t *testing.T) {
	cfg := &config.Config{Pool: config.PoolConfig{Enabled: false, Images: map[string]int{"python:latest": 2}}}
	p := New(cfg, nil, nil)
	p.Start(context.Background())

	_, ok := p.Take(context.Background(), "python:latest")
	require.False(t, ok)
}

func TestStopBeforeStartIsSafe(t *testing.T) {
	cfg := &config.Config{Pool: config.PoolConfig{Enabled: false}}
	p := New(cfg, nil, nil)
	p.Stop(context.Background())
}
