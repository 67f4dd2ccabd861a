package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pbaille/dramabot/internal/catalog"
	"github.com/pbaille/dramabot/internal/classifier"
	"github.com/pbaille/dramabot/internal/config"
	"github.com/pbaille/dramabot/internal/fetcher"
	"github.com/pbaille/dramabot/internal/logging"
	"github.com/pbaille/dramabot/internal/objectstore"
	"github.com/pbaille/dramabot/internal/store"
)

var (
	dbPath     string
	configFile string
	logLevel   string

	cfg    *config.Config
	logger zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "dramabot",
		Short:             "Catalog-backed reply bot for writing workshops",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "database path")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.dramabot.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(publishCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and lets explicit flags override it
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		c.DBPath = dbPath
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c

	logger = logging.New(&logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	logging.SetDefault(logger)

	if cfg.ConfigFile != "" {
		logger.Debug().Str("file", cfg.ConfigFile).Msg("config loaded")
	}
	return nil
}

func getStore() (*store.Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return store.New(cfg.DBPath)
}

func newSynchronizer(st *store.Store) *catalog.Synchronizer {
	return catalog.NewSynchronizer(st, afero.NewOsFs(), cfg.CatalogPaths, &logger)
}

func newClassifier() (*classifier.Classifier, error) {
	if cfg.RulesFile == "" {
		return classifier.New(nil, nil), nil
	}
	rules, err := classifier.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	return classifier.New(rules, nil), nil
}

func newObjectStore() (*objectstore.Client, error) {
	if !cfg.S3.Enabled() {
		return nil, fmt.Errorf("object store not configured (set s3.endpoint and s3.bucket)")
	}
	return objectstore.New(cfg.S3, cfg.Fetch.MaxBytes)
}

// newSource resolves catalog sources: URLs, s3:// objects when an object
// store is configured, and local files
func newSource() *fetcher.Router {
	router := &fetcher.Router{
		HTTP: fetcher.NewClient(fetcher.Options{
			Token:    cfg.Fetch.Token,
			Timeout:  cfg.Fetch.Timeout,
			MaxBytes: cfg.Fetch.MaxBytes,
		}),
		FS: afero.NewOsFs(),
	}
	if cfg.S3.Enabled() {
		objects, err := newObjectStore()
		if err != nil {
			logger.Warn().Err(err).Msg("object store unavailable, s3:// sources disabled")
		} else {
			router.Objects = objects
		}
	}
	return router
}

func printInit(res *catalog.InitResult) {
	if res == nil {
		return
	}
	if imp := res.Import; imp != nil {
		printImport(imp)
	}
	if exp := res.Export; exp != nil {
		printExport(exp)
	}
}

func printImport(res *catalog.ImportResult) {
	fmt.Printf("Imported %d entries from %s\n", len(res.Imported), res.Path)
	if len(res.Skipped) > 0 {
		fmt.Printf("Skipped %d malformed rows\n", len(res.Skipped))
		for _, rowErr := range res.Skipped {
			fmt.Printf("  line %d: %s\n", rowErr.Line, rowErr.Reason)
		}
	}
	fmt.Printf("Store holds %d entries\n", res.StoreCount)
	if res.Warning != "" {
		fmt.Printf("Warning: %s\n", res.Warning)
	}
}

func printExport(res *catalog.ExportResult) {
	if res.Path == "" {
		return
	}
	fmt.Printf("Wrote %d entries to %s\n", res.Written, res.Path)
	for _, rowErr := range res.Failed {
		fmt.Printf("  row %d not written: %s\n", rowErr.Line, rowErr.Reason)
	}
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
