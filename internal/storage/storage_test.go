package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 7_000_000, time.FixedZone("EAT", 3*3600))
	assert.Equal(t, "campaigns/12/companies/34/20260203T010506.007Z.png", ObjectName(12, 34, at))
}

func TestLocalStore_Save(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	ref, err := s.Save(context.Background(), "campaigns/1/companies/2/x.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "campaigns", "1", "companies", "2", "x.png"), ref)

	got, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)
}

func TestLocalStore_StaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	ref, err := s.Save(context.Background(), "../../escape.png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.png"), ref)
}

func TestLocalStore_CancelledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, "a.png", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_SelectsBackend(t *testing.T) {
	s, err := New(context.Background(), Config{Backend: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = New(context.Background(), Config{Backend: "s3"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Backend: BackendGCS})
	assert.Error(t, err, "bucket required")
}
