package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/maneesh/musicbox/internal/models"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login keys",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var key, username string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a login key, or rename the user of an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" || strings.TrimSpace(username) == "" {
				return errors.New("--key and --username are required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			b, err := openBackend(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.metadata.UpsertCredential(ctx, &models.Credential{Key: key, Username: username}); err != nil {
				return err
			}
			log.Printf("Key saved for user %s", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "shared login key (matched exactly)")
	cmd.Flags().StringVar(&username, "username", "", "display name returned on login")
	return cmd
}
