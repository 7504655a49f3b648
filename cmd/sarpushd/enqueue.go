package main

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/SardineFish/sar-push-service/dispatch"
)

func newEnqueueCmd() *cobra.Command {
	var (
		r    dispatch.Request
		body string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a notification request over AMQP",
		Long: `Publish a notification request to the AMQP queue that "sarpushd serve"
consumes. The body is read from --body, or from stdin if it's not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.AMQP.DSN == "" {
				return errors.New("amqp.dsn is not set")
			}

			var b []byte
			if body != "" {
				b, err = os.ReadFile(body)
			} else {
				b, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			r.Body = string(b)
			if err := r.Validate(); err != nil {
				return err
			}

			if err := dispatch.Publish(cmd.Context(), amqpConfig(cfg.AMQP), r); err != nil {
				return err
			}
			log.WithField("to", r.To).Info("queued notification request")
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&r.ProfileID, "profile", "", "Sender profile ID")
	fl.StringVar(&r.To, "to", "", "Recipient")
	fl.StringVar(&r.Subject, "subject", "", "Subject")
	fl.StringVar(&r.ContentType, "content-type", "text/plain", "Content type of the body")
	fl.StringVar(&body, "body", "", "Read the body from this file instead of stdin")
	return cmd
}
