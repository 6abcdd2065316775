package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/services"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that syncs platform orders and refreshes shipment tracking on a schedule`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	application, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer application.close()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Incremental order sync on a fixed interval
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Sync.Interval),
			gocron.NewTask(func() {
				log.Info().Msg("Running scheduled order sync")
				results := application.syncService.SyncAll(ctx, services.SyncOptions{})
				for _, result := range results {
					log.Info().
						Str("platform", result.Platform).
						Int("synced", result.Synced).
						Int("failed", len(result.Errors)).
						Msg("Scheduled sync result")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Tracking refresh for shipments due for a carrier poll
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Tracking.RefreshInterval),
			gocron.NewTask(func() {
				log.Info().Msg("Running scheduled tracking refresh")
				if _, err := application.trackingService.RefreshAll(ctx); err != nil {
					log.Error().Err(err).Msg("Scheduled tracking refresh failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Daily summary email at 07:00 UTC
		_, err = scheduler.NewJob(
			gocron.CronJob("0 7 * * *", false),
			gocron.NewTask(func() {
				log.Info().Msg("Sending daily summary")
				if err := application.notifier.SendDailySummary(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to send daily summary")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Start the scheduler
		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
