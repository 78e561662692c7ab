package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/config"
	"github.com/questlog/questlog/internal/database"
	"github.com/spf13/cobra"
)

// NewSweepCmd creates the sweep command with pause and resume subcommands.
func NewSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Manage recurrence sweeps",
		Long:  "Pause or resume the scheduled recurrence sweep for a user.",
	}
	cmd.AddCommand(newSweepPauseCmd(true))
	cmd.AddCommand(newSweepPauseCmd(false))
	return cmd
}

func newSweepPauseCmd(pause bool) *cobra.Command {
	use := "pause"
	short := "Pause recurrence sweeps for a user"
	if !pause {
		use = "resume"
		short = "Resume recurrence sweeps for a user"
	}

	var userFlag string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("--user must be a valid user id: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer func() {
				_ = db.Close()
			}()

			repo := database.NewUserActivityRepository(db)
			if err := repo.SetSweepPaused(context.Background(), userID, pause); err != nil {
				return fmt.Errorf("update sweep state: %w", err)
			}

			if pause {
				fmt.Printf("Recurrence sweeps paused for user %s\n", userID)
			} else {
				fmt.Printf("Recurrence sweeps resumed for user %s\n", userID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "User id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
