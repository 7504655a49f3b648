// Command sarpushd sends email notifications.
//
// Run "sarpushd serve" to start the dispatch service, which delivers
// notifications that are stored in PostgreSQL or received over AMQP. The
// "send" and "enqueue" commands send a single message directly or through
// the service.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SardineFish/sar-push-service/config"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sarpushd",
		Short:         "Email notification service",
		Long:          "sarpushd delivers email notifications through per-sender SMTP profiles.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newServeCmd(), newSendCmd(), newEnqueueCmd(), newKeygenCmd())
	return root
}

// loadConfig reads the configuration and creates the logger.
func loadConfig(cmd *cobra.Command) (config.Config, *logrus.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sarpushd:", err)
		os.Exit(1)
	}
}
