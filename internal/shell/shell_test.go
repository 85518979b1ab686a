//go:build !windows

package shell

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenIsIdempotent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only shell test")
	}
	s := New(t.TempDir(), minBufferBytes, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.Open(ctx)
	require.NoError(t, err)
	require.True(t, s.IsOpen())

	snap, err := s.Open(ctx)
	require.NoError(t, err)
	assert.True(t, s.IsOpen())
	_ = snap

	require.NoError(t, s.Close())
}

func TestEnqueueProducesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only shell test")
	}
	s := New(t.TempDir(), minBufferBytes, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Enqueue(ctx, "echo marker-hello", 500*time.Millisecond))
	assert.Contains(t, s.Snapshot(), "marker-hello")

	require.NoError(t, s.Close())
}
