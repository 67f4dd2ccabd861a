package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pbaille/dramabot/internal/catalog"
	"github.com/pbaille/dramabot/internal/store"
)

const catalogPath = "/srv/dramabot/catalog.csv"

const catalogCSV = "text;author;type\n" +
	"Il finale mi convince.;gubiani;feedback\n" +
	"Chi lo dice?;tollis;critica\n"

func TestLoadCatalogOnRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dramabot.db")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, catalogPath, []byte(catalogCSV), 0o644))
	logger := zerolog.Nop()

	for boot := 1; boot <= 2; boot++ {
		db, err := store.New(dbPath)
		require.NoError(t, err)

		var g errgroup.Group
		g.Go(loadCatalog(catalog.NewSynchronizer(db, fs, []string{catalogPath}, nil), &logger))
		require.NoError(t, g.Wait())

		n, err := db.Count()
		require.NoError(t, err)
		assert.Equal(t, 2, n, "boot %d", boot)
		require.NoError(t, db.Close())
	}
}

func TestLoadCatalogFailureKeepsServing(t *testing.T) {
	db, err := store.New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	task := loadCatalog(catalog.NewSynchronizer(db, afero.NewMemMapFs(), []string{catalogPath}, nil), &logger)
	assert.NoError(t, task())
	assert.Contains(t, buf.String(), "catalog could not be read")
}
