package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/ferriqa/webhooks/src/internal/config"
	"github.com/ferriqa/webhooks/src/internal/database"
	"github.com/ferriqa/webhooks/src/internal/webhook"
	"github.com/ferriqa/webhooks/src/pkg/utils"
)

var (
	cfg    *viper.Viper
	logger *slog.Logger
	db     *gorm.DB
)

var rootCmd = &cobra.Command{
	Use:           "webhookadmin",
	Short:         "Manage webhook subscriptions and inspect delivery history",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		logger = utils.NewLoggerWithLevel(cfg.GetString("log.level"))

		db, err = database.Initialize(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		return database.MigrateDB(db)
	},
}

// Execute runs the CLI, returning the first error encountered.
func Execute() error {
	return rootCmd.Execute()
}

func registry() *webhook.Registry {
	return webhook.NewRegistry(db, logger)
}

func historyStore() *webhook.HistoryStore {
	return webhook.NewHistoryStore(db)
}

func dispatcher() *webhook.Dispatcher {
	queue := webhook.NewQueue(logger)
	return webhook.NewDispatcher(registry(), queue, webhook.NewDeliverer(), historyStore(), logger)
}
