package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/driplabs/drip-api/config"
	"github.com/driplabs/drip-api/internal/lifecycle"
	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
	"github.com/driplabs/drip-api/internal/repository/postgres"
	"github.com/driplabs/drip-api/internal/schedule"
	"github.com/driplabs/drip-api/internal/scheduler"
	reconcileService "github.com/driplabs/drip-api/internal/service/reconcile"
	subscriptionService "github.com/driplabs/drip-api/internal/service/subscription"
	"github.com/driplabs/drip-api/pkg/logger"
	"github.com/driplabs/drip-api/pkg/metrics"
)

type appContext struct {
	cfg           *config.Config
	projector     *lifecycle.Projector
	reconcile     reconcileService.Service
	subscriptions subscriptionService.Service
	subs          repository.SubscriptionRepository
	cleanup       func()
}

func newAppContext() (*appContext, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	appLogger := logger.FromZerolog(log.Logger)
	m := metrics.NewMetrics("drip", "ctl")

	scheduleRepo := postgres.NewScheduleRepository(db)
	messageSetRepo := postgres.NewMessageSetRepository(db)
	messageRepo := postgres.NewMessageRepository(db)
	subscriptionRepo := postgres.NewSubscriptionRepository(db)
	behindRepo := postgres.NewBehindSubscriptionRepository(db)
	failureRepo := postgres.NewSendFailureRepository(db)
	resendRepo := postgres.NewResendRequestRepository(db)

	mirror := scheduler.NewHTTPMirror(scheduler.Config{
		BaseURL: cfg.External.SchedulerBaseURL,
		Token:   cfg.External.SchedulerToken,
		Timeout: cfg.External.Timeout,
	})

	projector := lifecycle.NewProjector(scheduleRepo, messageSetRepo, messageRepo, subscriptionRepo, appLogger)
	reconcileSvc := reconcileService.NewService(
		subscriptionRepo, behindRepo, failureRepo,
		projector, nil, mirror, m, appLogger,
		reconcileService.Config{DuplicateWindow: cfg.Reconcile.DuplicateWindow},
	)

	// Reset and other CLI ops never enqueue, so no broker is wired.
	subscriptionSvc := subscriptionService.NewService(
		subscriptionRepo, messageSetRepo, messageRepo, resendRepo,
		projector, nil, m, appLogger,
	)

	return &appContext{
		cfg:           cfg,
		projector:     projector,
		reconcile:     reconcileSvc,
		subscriptions: subscriptionSvc,
		subs:          subscriptionRepo,
		cleanup:       func() { db.Close() },
	}, nil
}

func parseAt(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC3339: %w", value, err)
	}
	return at, nil
}

func newDedupeCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Find duplicate subscriptions, optionally removing all but the earliest",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			defer app.cleanup()

			ctx := cmd.Context()
			clusters, err := app.reconcile.FindDuplicates(ctx)
			if err != nil {
				return err
			}
			if fix {
				clusters, err = app.reconcile.FixDuplicates(ctx)
				if err != nil {
					return err
				}
			}

			for _, cluster := range clusters {
				fmt.Printf("%s set=%s lang=%s (%d subscriptions, keeping %s)\n",
					cluster.Identity, cluster.MessageSetID, cluster.Lang,
					len(cluster.Subscriptions), cluster.Keeper().ID)
				for _, sub := range cluster.Subscriptions[1:] {
					verb := "duplicate"
					if fix {
						verb = "removed"
					}
					fmt.Printf("  %s %s created=%s\n", verb, sub.ID, sub.CreatedAt.Format(time.RFC3339))
				}
			}
			fmt.Printf("%d duplicate cluster(s)\n", len(clusters))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "delete every duplicate except the earliest")
	return cmd
}

func newFastForwardCmd() *cobra.Command {
	var atFlag string
	var save bool
	cmd := &cobra.Command{
		Use:   "fastforward <subscription-id>",
		Short: "Project a subscription to where its schedule says it should be",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid subscription id: %w", err)
			}
			at, err := parseAt(atFlag)
			if err != nil {
				return err
			}

			app, err := newAppContext()
			if err != nil {
				return err
			}
			defer app.cleanup()

			ctx := cmd.Context()
			sub, err := app.subs.Get(ctx, id)
			if err != nil {
				return err
			}
			chain, err := app.projector.FastForwardLifecycle(ctx, sub, at, save)
			if err != nil {
				return err
			}

			for _, s := range chain {
				state := "active"
				if s.Completed {
					state = "completed"
				}
				fmt.Printf("set=%s next=%d %s\n", s.MessageSetID, s.NextSequenceNumber, state)
			}
			if !save {
				fmt.Println("dry run, nothing persisted (use --save)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&atFlag, "at", "", "projection time (RFC3339, default now)")
	cmd.Flags().BoolVar(&save, "save", false, "persist the projected positions")
	return cmd
}

func newBehindCmd() *cobra.Command {
	var atFlag string
	cmd := &cobra.Command{
		Use:   "behind",
		Short: "Scan for subscriptions lagging their schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseAt(atFlag)
			if err != nil {
				return err
			}

			app, err := newAppContext()
			if err != nil {
				return err
			}
			defer app.cleanup()

			found, err := app.reconcile.FindBehindSubscriptions(cmd.Context(), at)
			if err != nil {
				return err
			}
			for _, b := range found {
				fmt.Printf("%s behind=%d current=%d expected=%d\n",
					b.SubscriptionID, b.MessagesBehind,
					b.CurrentSequenceNumber, b.ExpectedSequenceNumber)
			}
			fmt.Printf("%d subscription(s) behind\n", len(found))
			return nil
		},
	}
	cmd.Flags().StringVar(&atFlag, "at", "", "scan time (RFC3339, default now)")
	return cmd
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <subscription-id>",
		Short: "Return a parked or stuck subscription to ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid subscription id: %w", err)
			}

			app, err := newAppContext()
			if err != nil {
				return err
			}
			defer app.cleanup()

			if err := app.subscriptions.Reset(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("%s reset to ready\n", id)
			return nil
		},
	}
}

func newCronCmd() *cobra.Command {
	var fromFlag, untilFlag string
	cmd := &cobra.Command{
		Use:   "cron <minute> <hour> <day-of-week> <day-of-month> <month>",
		Short: "Evaluate a schedule expression and print its run times",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := &model.Schedule{
				Minute:      args[0],
				Hour:        args[1],
				DayOfWeek:   args[2],
				DayOfMonth:  args[3],
				MonthOfYear: args[4],
			}
			if _, err := schedule.Parse(s); err != nil {
				return err
			}

			from, err := parseAt(fromFlag)
			if err != nil {
				return err
			}
			until := from.Add(24 * time.Hour)
			if untilFlag != "" {
				if until, err = parseAt(untilFlag); err != nil {
					return err
				}
			}

			runs, err := schedule.RunTimesBetween(s, from, until)
			if err != nil {
				return err
			}

			fmt.Printf("cron: %s\n", schedule.CronString(s))
			for _, run := range runs {
				fmt.Println(run.Format(time.RFC3339))
			}
			fmt.Printf("%d run(s) in (%s, %s]\n", len(runs), from.Format(time.RFC3339), until.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFlag, "from", "", "interval start, exclusive (RFC3339, default now)")
	cmd.Flags().StringVar(&untilFlag, "until", "", "interval end, inclusive (RFC3339, default from+24h)")
	return cmd
}

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	root := &cobra.Command{
		Use:           "dripctl",
		Short:         "Operations tooling for the drip campaign engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newDedupeCmd(),
		newFastForwardCmd(),
		newBehindCmd(),
		newResetCmd(),
		newCronCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
