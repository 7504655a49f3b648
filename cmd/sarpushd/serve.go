package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SardineFish/sar-push-service/config"
	"github.com/SardineFish/sar-push-service/dispatch"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch service",
		Long: `Run the dispatch service until SIGINT or SIGTERM.

Notifications are kept in PostgreSQL if database.dsn is set, or in memory
otherwise. Notification requests are read from the AMQP queue if amqp.dsn is
set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (dispatch.Store, func(), error) {
	if cfg.Database.DSN == "" {
		log.Warn("database.dsn not set; notifications are kept in memory")
		return dispatch.NewMemoryStore(), func() {}, nil
	}

	pool, err := dispatch.ConnectPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	store := dispatch.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

// addProfiles adds the profiles from the configuration that aren't in the
// store yet.
func addProfiles(ctx context.Context, store dispatch.Store, profiles []config.Profile, log logrus.FieldLogger) error {
	for _, p := range profiles {
		_, err := store.Profile(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, dispatch.ErrNoRecord) {
			return err
		}
		err = store.AddProfile(ctx, dispatch.Profile{
			ID:           p.ID,
			SMTPAddress:  p.SMTPAddress,
			TLS:          p.TLS,
			Username:     p.Username,
			Password:     p.Password,
			EmailAddress: p.EmailAddress,
			Name:         p.Name,
		})
		if err != nil {
			return err
		}
		log.WithField("profile", p.ID).Info("added sender profile")
	}
	return nil
}

func newSender(cfg config.Dispatch, log logrus.FieldLogger) dispatch.Sender {
	if cfg.DryRun {
		return dispatch.NewWriterSender(os.Stdout)
	}
	return dispatch.SMTPSender{
		Timeout:   cfg.Timeout,
		LocalName: cfg.HeloDomain,
		Log:       log,
	}
}

func amqpConfig(cfg config.AMQP) dispatch.AMQPConfig {
	return dispatch.AMQPConfig{
		DSN:        cfg.DSN,
		Exchange:   cfg.Exchange,
		Queue:      cfg.Queue,
		RoutingKey: cfg.RoutingKey,
	}
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := addProfiles(ctx, store, cfg.Profiles, log); err != nil {
		return err
	}

	svc := dispatch.New(store, newSender(cfg.Dispatch, log),
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithLogger(log),
		dispatch.WithSendTimeout(cfg.Dispatch.Timeout),
		dispatch.WithPollInterval(cfg.Dispatch.PollInterval))
	svc.Start(ctx)
	defer svc.Stop()
	log.WithField("workers", cfg.Dispatch.Workers).Info("dispatch service started")

	consumerErr := make(chan error, 1)
	if cfg.AMQP.DSN != "" {
		c := dispatch.NewConsumer(amqpConfig(cfg.AMQP), svc, log)
		go func() { consumerErr <- c.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-consumerErr:
		return err
	}
}
