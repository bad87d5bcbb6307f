// Command notifyctl is the operator CLI for the listing notifier.
//
// Usage:
//
//	notifyctl migrate
//	notifyctl resend --id 3f1c...
//	notifyctl replay --change-id 42
//	notifyctl detect --before old.json --after new.json
//	notifyctl seed --file fixtures.json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/landandplot/notifier/internal/app"
	"github.com/landandplot/notifier/internal/config"
	"github.com/landandplot/notifier/internal/db"
	"github.com/landandplot/notifier/internal/listener"
	"github.com/landandplot/notifier/internal/model"
	"github.com/landandplot/notifier/internal/notifications"
	"github.com/landandplot/notifier/internal/seed"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "notifyctl",
		Short:        "Listing notifier operator CLI",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(resendCmd())
	root.AddCommand(replayCmd())
	root.AddCommand(detectCmd())
	root.AddCommand(seedCmd())
	return root
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema (documents, change feed, triggers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.StoreBackend != config.BackendPostgres {
				return fmt.Errorf("migrate applies to the postgres backend, STORE_BACKEND is %q", cfg.StoreBackend)
			}
			start := time.Now()
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Schema applied", "duration", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// resend command
// --------------------------------------------------------------------------

func resendCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Push an existing notification record again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			return runPipeline(func(ctx context.Context, _ *config.Config, _ *app.Backend, p *notifications.Pipeline) error {
				res, err := p.SendNotification(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Notification record id")
	return cmd
}

// --------------------------------------------------------------------------
// replay command
// --------------------------------------------------------------------------

func replayCmd() *cobra.Command {
	var changeID int64
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run the pipeline for a stored Postgres change row",
		Long: "Loads a document_changes row and runs it through the pipeline. " +
			"Records already written for the change are not written or pushed again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if changeID <= 0 {
				return fmt.Errorf("--change-id is required")
			}
			return runPipeline(func(ctx context.Context, cfg *config.Config, b *app.Backend, p *notifications.Pipeline) error {
				if b.Pool == nil {
					return fmt.Errorf("replay needs the postgres backend, STORE_BACKEND is %q", cfg.StoreBackend)
				}
				feed := listener.New(p, 1, logger)
				defer feed.Stop()

				rep, err := feed.ProcessStored(ctx, listener.NewPGChanges(b.Pool.Pool), changeID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().Int64Var(&changeID, "change-id", 0, "document_changes row id")
	return cmd
}

// --------------------------------------------------------------------------
// detect command
// --------------------------------------------------------------------------

func detectCmd() *cobra.Command {
	var before, after string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Print the events a listing change would raise (dry run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if after == "" {
				return fmt.Errorf("--after is required")
			}
			current, err := readListing(after)
			if err != nil {
				return err
			}
			var previous *model.Listing
			if before != "" {
				prev, err := readListing(before)
				if err != nil {
					return err
				}
				previous = &prev
			}
			return printDetection(cmd.OutOrStdout(), previous, current)
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Listing JSON before the change (omit for a new listing)")
	cmd.Flags().StringVar(&after, "after", "", "Listing JSON after the change")
	return cmd
}

func readListing(path string) (model.Listing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Listing{}, err
	}
	return model.DecodeListing("cli", data)
}

func printDetection(w io.Writer, previous *model.Listing, current model.Listing) error {
	n := 0
	for ev := range notifications.Detect(previous, current) {
		n++
		switch ev.Kind {
		case notifications.NewListingInArea:
			fmt.Fprintf(w, "%s\ttype=%s\tarea=%q\n", ev.Kind, ev.Kind.RecordType(), ev.Area)
		case notifications.AgentAssigned:
			fmt.Fprintf(w, "%s\ttype=%s\n", ev.Kind, ev.Kind.RecordType())
		default:
			fmt.Fprintf(w, "%s\ttype=%s\tbuyer=%d\tstatus=%q\n", ev.Kind, ev.Kind.RecordType(), ev.BuyerIndex, ev.Buyer.Status)
		}
	}
	for _, note := range notifications.Ambiguities(previous, current) {
		fmt.Fprintf(w, "ambiguity\t%s\n", note)
	}
	if n == 0 {
		fmt.Fprintln(w, "no events")
	}
	return nil
}

// --------------------------------------------------------------------------
// seed command
// --------------------------------------------------------------------------

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load fixture documents into the document store",
		Long: "Upserts documents from a JSON file shaped {collection: {id: document}}. " +
			"Property writes go through the change feed like any other write.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			fh, err := os.Open(file)
			if err != nil {
				return err
			}
			defer fh.Close()
			fixture, err := seed.Decode(fh)
			if err != nil {
				return err
			}

			return runStore(func(ctx context.Context, _ *config.Config, b *app.Backend) error {
				start := time.Now()
				result := seed.Load(ctx, b.Store, fixture, logger)
				logger.Info("Seed finished", "duration", time.Since(start).Round(time.Millisecond), "summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("seed error", "error", e)
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("%d batches failed", len(result.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Fixture JSON file")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// runStore handles config loading, store connection, and context cancellation.
func runStore(fn func(ctx context.Context, cfg *config.Config, b *app.Backend) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	b, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer b.Close()

	return fn(ctx, cfg, b)
}

// runPipeline is runStore plus a push transport and pipeline.
func runPipeline(fn func(ctx context.Context, cfg *config.Config, b *app.Backend, p *notifications.Pipeline) error) error {
	return runStore(func(ctx context.Context, cfg *config.Config, b *app.Backend) error {
		transport, err := app.NewTransport(ctx, cfg, logger)
		if err != nil {
			return err
		}
		p, err := app.NewPipeline(cfg, b.Store, transport, logger)
		if err != nil {
			return err
		}
		return fn(ctx, cfg, b, p)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
