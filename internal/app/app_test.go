package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/config"
	"github.com/dvloznov/statement-categorizer/internal/infra/sqlite"
	"github.com/dvloznov/statement-categorizer/internal/overrides"
	"github.com/dvloznov/statement-categorizer/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := config.NewViper()
	v.Set("gemini.api_key", "test-key")
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

func TestPipelineOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Partition = config.PartitionBySize
	cfg.Pipeline.MaxUnitChars = 5000
	cfg.Pipeline.DirectThreshold = 0
	cfg.Overrides.WriteTimeout = 5 * time.Second

	opts := PipelineOptions(cfg)
	assert.Equal(t, pipeline.PartitionBySize, opts.Partition)
	assert.Equal(t, 5000, opts.MaxUnitChars)
	assert.Equal(t, 0, opts.DirectThreshold)
	assert.Equal(t, cfg.Pipeline.MaxConcurrency, opts.MaxConcurrency)
	assert.Equal(t, 5*time.Second, opts.PersistTimeout)
}

func TestBuild_DefaultsWithoutCloud(t *testing.T) {
	cfg := testConfig(t)

	a, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Fetcher)
	assert.Nil(t, a.Storage)
	assert.Equal(t, overrides.Nop{}, a.Overrides)
}

func TestBuild_SQLiteOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.Overrides.Backend = config.OverridesSQLite
	cfg.Overrides.SQLitePath = filepath.Join(t.TempDir(), "overrides.db")
	cfg.OCR.Provider = config.OCRProviderTesseract

	a, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	_, ok := a.Overrides.(*sqlite.Store)
	assert.True(t, ok)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

func TestBuild_BadTaxonomy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Taxonomy.Path = filepath.Join(t.TempDir(), "nope.yaml")

	_, err := Build(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
