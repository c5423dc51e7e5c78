package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

func newSettleCommand(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "settle",
		Short: "Run one settlement batch and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgFile, appOptions{withKafka: true})
			if err != nil {
				return err
			}
			defer a.Close()
			a.loadRules(ctx)

			result, ran, err := a.scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !ran {
				return fmt.Errorf("settlement run already in progress")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

func newExportCommand(cfgFile *string) *cobra.Command {
	var (
		out    string
		userID string
		status string
		from   string
		to     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export settlements as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := exportFilter(userID, status, from, to)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgFile, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := a.processor.ExportSettlements(ctx, filter, w)
			if err != nil {
				return err
			}
			a.logger.Info("settlements exported", "rows", n, "out", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&userID, "user", "", "only settlements of this user id")
	cmd.Flags().StringVar(&status, "status", "", "pending, completed or failed")
	cmd.Flags().StringVar(&from, "from", "", "created at or after, RFC 3339")
	cmd.Flags().StringVar(&to, "to", "", "created before, RFC 3339")
	return cmd
}

func exportFilter(userID, status, from, to string) (storage.SettlementFilter, error) {
	var filter storage.SettlementFilter
	if userID != "" {
		id, err := uuid.Parse(userID)
		if err != nil {
			return filter, fmt.Errorf("invalid --user: %w", err)
		}
		filter.UserID = &id
	}
	switch s := storage.SettlementStatus(status); s {
	case "", storage.SettlementStatusPending, storage.SettlementStatusCompleted, storage.SettlementStatusFailed:
		filter.Status = s
	default:
		return filter, fmt.Errorf("invalid --status %q", status)
	}
	var err error
	if from != "" {
		if filter.From, err = time.Parse(time.RFC3339, from); err != nil {
			return filter, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if filter.To, err = time.Parse(time.RFC3339, to); err != nil {
			return filter, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return filter, nil
}

func newMigrateCommand(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgFile, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := storage.Migrate(cmd.Context(), a.pool, a.logger)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	}
}
