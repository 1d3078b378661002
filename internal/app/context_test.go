package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voteline/internal/config"
	"voteline/internal/engine"
)

func TestOpenRequiresConfig(t *testing.T) {
	_, _, err := Open(context.Background(), t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vl init")
}

func TestInitThenOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	wrote, err := Init(ctx, dir)
	require.NoError(t, err)
	assert.True(t, wrote)
	_, err = os.Stat(config.Path(dir))
	require.NoError(t, err)

	wrote, err = Init(ctx, dir)
	require.NoError(t, err)
	assert.False(t, wrote, "existing config is kept")

	e, closeFn, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	defer closeFn()
	p, err := e.CreateProject(ctx, engine.CreateProjectOptions{ID: "p1", Name: "main", ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("shouting")
	assert.Error(t, err)
}
