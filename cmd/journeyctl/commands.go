package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eitanko/Suggesty-backend/config"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/pipeline"
)

// opener builds the services a command needs from the resolved config.
type opener func(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pipeline.Services, error)

func openServices(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pipeline.Services, error) {
	return pipeline.Open(ctx, cfg, log)
}

type rootOptions struct {
	tuningFile string
	verbose    bool
}

func newRootCmd(open opener) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "journeyctl",
		Short:         "Run journey matching and analytics batches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.tuningFile, "tuning", "", "YAML file overriding pipeline tuning (default $TUNING_FILE)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(newProcessCmd(opts, open), newFailStaleCmd(opts, open), newResetCmd(opts, open))
	return root
}

// setup resolves config and tuning, then opens the services.
func setup(cmd *cobra.Command, opts *rootOptions, open opener, mutate func(*config.Tuning)) (*pipeline.Services, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if opts.tuningFile != "" {
		if cfg.Tuning, err = config.LoadTuning(opts.tuningFile); err != nil {
			return nil, nil, err
		}
	}
	if mutate != nil {
		mutate(&cfg.Tuning)
		if err := cfg.Tuning.Validate(); err != nil {
			return nil, nil, err
		}
	}

	log := logger.Nop()
	if opts.verbose {
		if log, err = logger.New(cfg.Mode); err != nil {
			return nil, nil, err
		}
	}
	svc, err := open(cmd.Context(), cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return svc, log, nil
}

func newProcessCmd(opts *rootOptions, open opener) *cobra.Command {
	var (
		accounts string
		narrate  bool
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run every batch pass for the given accounts (all when omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseAccounts(accounts)
			if err != nil {
				return err
			}
			svc, _, err := setup(cmd, opts, open, func(t *config.Tuning) {
				if narrate {
					t.Narrate = true
				}
			})
			if err != nil {
				return err
			}
			defer svc.Close()

			rep, runErr := svc.Runner.Run(cmd.Context(), ids)
			if rep != nil {
				if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if failed := rep.FailedAccounts(); len(failed) > 0 {
				return fmt.Errorf("%d account(s) failed: %v", len(failed), failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&accounts, "accounts", "", "comma separated account ids")
	cmd.Flags().BoolVar(&narrate, "narrate", false, "generate a narrated insight per account")
	return cmd
}

func newFailStaleCmd(opts *rootOptions, open opener) *cobra.Command {
	var (
		account int64
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "fail-stale",
		Short: "Mark idle in-progress journeys as failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(cmd, opts, open, func(t *config.Tuning) {
				if timeout > 0 {
					t.FailureTimeout = timeout
				}
			})
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := svc.Runner.FailStale(cmd.Context(), account)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"account": account, "failed": n})
		},
	}
	cmd.Flags().Int64Var(&account, "account", 0, "account id (0 sweeps every account)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "inactivity timeout (default from tuning)")
	return cmd
}

func newResetCmd(opts *rootOptions, open opener) *cobra.Command {
	var (
		account int64
		passes  string
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear processed flags and derived rows so an account can be reprocessed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account <= 0 {
				return errors.New("--account is required")
			}
			list, err := parsePasses(passes)
			if err != nil {
				return err
			}
			if !yes {
				return errors.New("reset deletes derived data; pass --yes to confirm")
			}
			svc, _, err := setup(cmd, opts, open, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Runner.Reset(cmd.Context(), account, list); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"account": account, "passes": list})
		},
	}
	cmd.Flags().Int64Var(&account, "account", 0, "account id")
	cmd.Flags().StringVar(&passes, "passes", "", "comma separated passes (default all): "+joinPasses(models.AllPasses))
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func parseAccounts(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid account id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parsePasses(s string) ([]models.Pass, error) {
	var out []models.Pass
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p := models.Pass(part)
		if !p.Valid() {
			return nil, fmt.Errorf("unknown pass %q (want one of %s)", part, joinPasses(models.AllPasses))
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = append(out, models.AllPasses...)
	}
	return out, nil
}

func joinPasses(passes []models.Pass) string {
	names := make([]string, len(passes))
	for i, p := range passes {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
