package container

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gohts/internal/config"
	"gohts/internal/errors"
)

func TestNewWithoutDatabase(t *testing.T) {
	cfg := config.Defaults()
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.InitDatabase(context.Background()))
	assert.Nil(t, c.Repo)
	assert.Nil(t, c.Strategy)
	assert.NotNil(t, c.Pipeline(nil))
	assert.NoError(t, c.Close())
}

func TestInitDatabaseSQLite(t *testing.T) {
	cfg := config.Defaults()
	cfg.Database.Driver = "sqlite"
	cfg.Database.URL = filepath.Join(t.TempDir(), "gohts.db")
	cfg.Engine.Reconciler = "bottom-up"

	c, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, c.Strategy)
	assert.Equal(t, "bottom-up", c.Strategy.String())

	require.NoError(t, c.InitDatabase(context.Background()))
	defer c.Close()
	assert.NotNil(t, c.Repo)
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := config.Defaults()
	cfg.Engine.DecisionFunction = "0.5*r2"
	_, err = New(cfg)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
