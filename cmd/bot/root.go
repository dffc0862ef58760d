package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stepbystep_bot/internal/catalog"
	"stepbystep_bot/internal/config"
	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/logging"
	"stepbystep_bot/internal/policy"
)

const serviceName = "step-bot"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bot",
		Short:         "Step-by-step content delivery bot",
		Long:          "Delivers a published sequence of lessons to paid Telegram users, one step at a time.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}

			logger.WithFields(logging.Fields{
				"event":        "startup",
				"store_driver": cfg.StoreDriver,
				"payments":     cfg.PaymentsEnabled(),
			}).Info("configuration loaded")

			if err := runBot(cmd.Context(), cfg, logger); err != nil {
				logger.WithError(err).Error("bot stopped with error")
				return err
			}
			return nil
		},
	}

	cmd.AddCommand(newCheckConfigCommand())
	cmd.AddCommand(newValidateContentCommand())
	cmd.AddCommand(newLogsCommand())

	return cmd
}

func loadRuntime() (config.Config, *logrus.Entry, error) {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		return config.Config{}, nil, fmt.Errorf("configuration error: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		return config.Config{}, nil, fmt.Errorf("logger setup error: %w", err)
	}

	return cfg, logger, nil
}

func newCheckConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and print the redacted configuration, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadRuntime()
			if err != nil {
				return err
			}

			logging.Info("configuration check", logging.Fields{"event": "config_only"})
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration check: ok")
			fmt.Fprintln(out, config.FormatRedacted(cfg))
			return nil
		},
	}
}

func newValidateContentCommand() *cobra.Command {
	var scriptPath, settingsPath, timezone string

	cmd := &cobra.Command{
		Use:   "validate-content",
		Short: "Parse the catalog and policy documents and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("invalid timezone: %w", err)
			}

			ctx := cmd.Context()
			data, err := catalog.FileSource{Path: scriptPath}.Read(ctx)
			if err != nil {
				return err
			}
			cat, err := catalog.Parse(data)
			if err != nil {
				return err
			}

			data, err = policy.FileSource{Path: settingsPath}.Read(ctx)
			if err != nil {
				return err
			}
			pol, err := policy.Parse(data, loc)
			if err != nil {
				return err
			}
			if _, err := pol.Delay.Plan(time.Now()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "catalog: %d steps\n", cat.Len())
			for i, step := range cat.Steps() {
				if len(step.Content) == 0 {
					fmt.Fprintf(out, "  warning: step %d (%s) has no content\n", i+1, step.Title)
				}
			}
			fmt.Fprintf(out, "policy: delay %s %s, create paid users %t\n", pol.Delay.Kind, pol.Delay.Value, pol.CreatePaidUsers)
			return nil
		},
	}

	cmd.Flags().StringVar(&scriptPath, "script", envOr(config.KeyScriptPath, config.DefaultScriptPath), "catalog document path")
	cmd.Flags().StringVar(&settingsPath, "settings", envOr(config.KeySettingsPath, config.DefaultSettingsPath), "policy document path")
	cmd.Flags().StringVar(&timezone, "timezone", envOr(config.KeyTimezone, config.DefaultTimezone), "timezone for fixed-time delays")

	return cmd
}

func newLogsCommand() *cobra.Command {
	var query domain.LogQuery

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the audit trail, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeBackend(b, logger)

			entries, err := b.logs.ListLogs(cmd.Context(), query)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tLEVEL\tEVENT\tUSER\tMESSAGE")
			for _, e := range entries {
				user := "-"
				if e.UserID != 0 {
					user = fmt.Sprint(e.UserID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Level, e.Event, user, e.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int64Var(&query.UserID, "user", 0, "only entries for this user id")
	cmd.Flags().IntVar(&query.Limit, "limit", domain.DefaultLogLimit, "maximum number of entries")
	cmd.Flags().IntVar(&query.Offset, "offset", 0, "entries to skip")

	return cmd
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
