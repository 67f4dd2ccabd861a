package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pbaille/dramabot/internal/api"
	"github.com/pbaille/dramabot/internal/catalog"
	"github.com/pbaille/dramabot/internal/catalogfile"
	"github.com/pbaille/dramabot/internal/classifier"
	"github.com/pbaille/dramabot/internal/domain"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the catalog and start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			sync := newSynchronizer(s)

			clf, err := newClassifier()
			if err != nil {
				return err
			}
			responder := classifier.NewResponder(s, clf, &logger)

			server := api.New(sync, responder, s, api.Options{
				AdminToken:    cfg.AdminToken,
				RatePerMinute: cfg.RateLimit.PerMinute,
				RateBurst:     cfg.RateLimit.Burst,

				TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
				Source:        newSource(),
				MaxUpload:     cfg.Fetch.MaxBytes,
				Logger:        &logger,
			})

			// The catalog loads while the listener comes up; uploads that
			// arrive meanwhile wait on the synchronizer lock.
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Run(gctx, cfg.Addr)
			})
			g.Go(loadCatalog(sync, &logger))
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "server address")
	return cmd
}

// loadCatalog reloads the store from the catalog file. A failure is logged
// and never stops the server.
func loadCatalog(sync *catalog.Synchronizer, logger *zerolog.Logger) func() error {
	return func() error {
		res, err := sync.InitializeFresh()
		if err != nil {
			logger.Error().Err(err).Msg("catalog could not be read")
			return nil
		}
		logger.Info().
			Str("path", res.Import.Path).
			Int("entries", res.Import.StoreCount).
			Msg("catalog initialized")
		return nil
	}
}

func initCmd() *cobra.Command {
	var keep bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Load the catalog file into an emptied store and rewrite it in canonical form",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			sync := newSynchronizer(s)
			load := sync.InitializeFresh
			if keep {
				load = sync.InitializeFromFile
			}
			res, err := load()
			printInit(res)
			return err
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "append to the current store contents instead of replacing them")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Append the catalog file rows to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := newSynchronizer(s).Import()
			if res != nil {
				printImport(res)
			}
			return err
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Overwrite the catalog file with the store contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := newSynchronizer(s).ExportStore()
			if res != nil {
				printExport(res)
			}
			return err
		},
	}
}

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update [file|url|s3://bucket/key]",
		Short: "Replace the catalog file with a new one and load it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := newSource().Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := newSynchronizer(s).UpdateFromExternalSource(raw)
			printInit(res)
			return err
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [message]",
		Short: "Answer a message from the current catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			clf, err := newClassifier()
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			reply := classifier.NewResponder(s, clf, &logger).Respond(text)

			if reply.Icon != "" {
				fmt.Printf("%s ", reply.Icon)
			}
			fmt.Println(reply.Text)
			if reply.Visibility == domain.VisibilityPrivate {
				fmt.Println("(only visible to you)")
			}
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.ListAll()
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No entries yet. Use 'dramabot init' to load the catalog.")
				return nil
			}

			table := tablewriter.NewTable(os.Stdout)
			table.Header("#", "Text", "Author", "Type", "Category")
			for i, e := range entries {
				if kind != "" && string(e.Category()) != kind {
					continue
				}
				if err := table.Append(i+1, truncate(e.Text, 60), e.Author, e.Type, string(e.Category())); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVarP(&kind, "category", "c", "", "only show one category (feedback, critique, explain, other)")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count entries per type",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			counts, err := s.CountByType()
			if err != nil {
				return err
			}

			labels := make([]string, 0, len(counts))
			for label := range counts {
				labels = append(labels, label)
			}
			sort.Strings(labels)

			table := tablewriter.NewTable(os.Stdout)
			table.Header("Type", "Category", "Entries")
			total := 0
			for _, label := range labels {
				category := domain.CatalogEntry{Type: label}.Category()
				if err := table.Append(label, string(category), counts[label]); err != nil {
					return err
				}
				total += counts[label]
			}
			if err := table.Render(); err != nil {
				return err
			}
			fmt.Printf("Total: %d\n", total)
			return nil
		},
	}
}

func publishCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the stored catalog to the object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = cfg.S3.Key
			}

			objects, err := newObjectStore()
			if err != nil {
				return err
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.ListAll()
			if err != nil {
				return err
			}
			content, failed := catalogfile.Encode(entries)
			for _, rowErr := range failed {
				logger.Warn().Int("row", rowErr.Line).Str("reason", rowErr.Reason).Msg("catalog row not published")
			}

			ref, err := objects.Upload(cmd.Context(), key, content)
			if err != nil {
				return err
			}
			fmt.Printf("Published %d entries to %s\n", len(entries)-len(failed), ref)
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "object key (default s3.key)")
	return cmd
}
