package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rinha-payment-gateway/internal/config"
	"rinha-payment-gateway/internal/logger"
	"rinha-payment-gateway/internal/repository"
)

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica as migrations do banco e sai",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			log.Info("aplicando migrations", zap.String("database", config.MaskPassword(cfg.DatabaseURL)))
			return repository.Migrate(cfg.DatabaseURL, log)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Imprime as estatísticas de pagamentos em JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.Storage != config.StoragePostgres {
				return fmt.Errorf("stats exige STORAGE=%s", config.StoragePostgres)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			db, err := repository.OpenDatabase(ctx, cfg.DatabaseURL, 1)
			if err != nil {
				return err
			}
			defer db.Close()

			return printStats(ctx, db, log)
		},
	}
}

func printStats(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	stats, err := repository.NewPostgresPaymentRepository(db, log).GetStats(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
