package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the metadata schema (SQL tables or Mongo indexes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			b, err := openBackend(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.metadata.Migrate(ctx); err != nil {
				return err
			}
			log.Printf("Schema ready for %s backend", cfg.StorageBackend)
			return nil
		},
	}
}
