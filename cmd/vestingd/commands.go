package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/api"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(app *application) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			server, err := api.NewServer(api.Config{
				Reader:         ledger.engine,
				Logger:         app.logger,
				RequestTimeout: app.cfg.API.RequestTimeout,
			})
			if err != nil {
				return err
			}

			addr := app.cfg.API.Listen
			if listen != "" {
				addr = listen
			}

			serveErr := make(chan error, 1)
			go func() { serveErr <- server.Listen(addr) }()

			select {
			case err := <-serveErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("query API stopped: %w", err)
				}
				return nil
			case <-cmd.Context().Done():
			}

			app.logger.Info("shutting down query API")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down query API: %w", err)
			}
			return <-serveErr
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides api.listen)")
	return cmd
}

func newInitCommand(app *application) *cobra.Command {
	var admins []string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Seed the admin registry (once per ledger)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			if len(admins) == 0 {
				caller, err := app.callerID()
				if err != nil {
					return err
				}
				admins = []string{caller}
			}
			status, err := ledger.engine.Initialize(cmd.Context(), admins)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().StringSliceVar(&admins, "admin", nil, "initial admin account (repeatable; defaults to the caller)")
	return cmd
}

func newScheduleCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Create, inspect and manage vesting schedules",
	}
	cmd.AddCommand(
		newScheduleCreateCommand(app),
		newScheduleGetCommand(app),
		newScheduleListCommand(app),
		newScheduleReleasableCommand(app),
		newSchedulePauseCommand(app, true),
		newSchedulePauseCommand(app, false),
		newScheduleRevokeCommand(app),
		newScheduleRecoverCommand(app),
		newScheduleReconcileCommand(app),
	)
	return cmd
}

func newScheduleCreateCommand(app *application) *cobra.Command {
	var (
		beneficiary string
		amount      string
		start       string
		cliff       string
		duration    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule (admin only)",
		Example: `  vestingd schedule create --beneficiary 0.0.2002 --amount 1000000 \
    --start 2025-01-01T00:00:00Z --cliff 30d --duration 120d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := app.callerID()
			if err != nil {
				return err
			}
			totalAmount, err := parseAmount(amount)
			if err != nil {
				return err
			}
			cliffDuration, err := parseSpan(cliff)
			if err != nil {
				return err
			}
			vestingDuration, err := parseSpan(duration)
			if err != nil {
				return err
			}

			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			startTime, err := parseInstant(start, ledger.engine.Now())
			if err != nil {
				return err
			}

			schedule, err := ledger.engine.CreateSchedule(cmd.Context(), vesting.CreateScheduleParams{
				Beneficiary:     beneficiary,
				TotalAmount:     totalAmount,
				StartTime:       startTime,
				CliffDuration:   cliffDuration,
				VestingDuration: vestingDuration,
				Caller:          caller,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), schedule)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&beneficiary, "beneficiary", "", "account entitled to claim")
	flags.StringVar(&amount, "amount", "", "total amount in token base units")
	flags.StringVar(&start, "start", "", "vesting start, RFC 3339 (defaults to now)")
	flags.StringVar(&cliff, "cliff", "0", "cliff length, e.g. 720h or 30d")
	flags.StringVar(&duration, "duration", "", "vesting length from start, e.g. 120d")
	_ = cmd.MarkFlagRequired("beneficiary")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func newScheduleGetCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "get <schedule-id>",
		Short: "Show one schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			schedule, err := ledger.engine.GetSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), schedule)
		},
	}
}

func newScheduleListCommand(app *application) *cobra.Command {
	var beneficiary string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules, optionally for one beneficiary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			var schedules []vesting.Schedule
			if beneficiary != "" {
				schedules, err = ledger.engine.ListSchedules(cmd.Context(), beneficiary)
			} else {
				schedules, err = ledger.engine.ListAllSchedules(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), schedules)
		},
	}
	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "only schedules for this account")
	return cmd
}

func newScheduleReleasableCommand(app *application) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "releasable <schedule-id>",
		Short: "Show vested and claimable amounts at an instant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			instant, err := parseInstant(at, ledger.engine.Now())
			if err != nil {
				return err
			}
			info, err := ledger.engine.Releasable(cmd.Context(), args[0], instant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluation instant, RFC 3339 (defaults to now)")
	return cmd
}

func newSchedulePauseCommand(app *application, pause bool) *cobra.Command {
	use, short := "pause <schedule-id>", "Block claims on one schedule (admin only)"
	if !pause {
		use, short = "unpause <schedule-id>", "Allow claims on one schedule again (admin only)"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := app.callerID()
			if err != nil {
				return err
			}
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			var schedule vesting.Schedule
			if pause {
				schedule, err = ledger.engine.PauseSchedule(cmd.Context(), args[0], caller)
			} else {
				schedule, err = ledger.engine.UnpauseSchedule(cmd.Context(), args[0], caller)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), schedule)
		},
	}
}

func newScheduleRevokeCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <schedule-id>",
		Short: "Stop all further release to the beneficiary (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := app.callerID()
			if err != nil {
				return err
			}
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			schedule, err := ledger.engine.Revoke(cmd.Context(), args[0], caller)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), schedule)
		},
	}
}

func newScheduleRecoverCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <schedule-id>",
		Short: "Return the unvested remainder of a revoked schedule (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := app.callerID()
			if err != nil {
				return err
			}
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			result, err := ledger.engine.RecoverUnvested(cmd.Context(), args[0], caller)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newScheduleReconcileCommand(app *application) *cobra.Command {
	var settled bool

	cmd := &cobra.Command{
		Use:   "reconcile <schedule-id>",
		Short: "Record the outcome of a transfer whose result was unknown (admin only)",
		Long: `reconcile clears a schedule's pending transfer after the operator has looked
it up. Pass --settled when the tokens reached the recipient; without it the
transfer is treated as failed and the schedule can be claimed again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := app.callerID()
			if err != nil {
				return err
			}
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			schedule, err := ledger.engine.ReconcileTransfer(cmd.Context(), vesting.ReconcileParams{
				ScheduleID: args[0],
				Caller:     caller,
				Settled:    settled,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), schedule)
		},
	}
	cmd.Flags().BoolVar(&settled, "settled", false, "the transfer reached the recipient")
	return cmd
}

func newClaimCommand(app *application) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "claim <schedule-id>",
		Short: "Release everything currently due to the beneficiary",
		Long: `claim transfers the releasable amount from the vault to the beneficiary.
The caller (--as) must be the schedule's beneficiary. "Nothing to claim" is
reported without a non-zero exit status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := app.callerID()
			if err != nil {
				return err
			}
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}

			result, err := ledger.engine.Claim(cmd.Context(), args[0], caller)
			if vesting.IsNothingToClaim(err) {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"scheduleId": args[0],
					"amount":     0,
					"message":    "nothing to claim",
				})
			}
			if err != nil {
				return err
			}

			if confirm && ledger.htsClient != nil {
				credited, err := ledger.htsClient.ConfirmTransfer(cmd.Context(), result.TransactionID, result.Beneficiary)
				if err != nil {
					app.logger.Warn("transfer confirmation failed", zap.String("transaction_id", result.TransactionID), zap.Error(err))
				} else {
					app.logger.Info("transfer confirmed by mirror node",
						zap.String("transaction_id", result.TransactionID),
						zap.Int64("credited", credited),
					)
				}
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "check the mirror node for the settled transfer")
	return cmd
}

func newPauseCommand(app *application, pause bool) *cobra.Command {
	use, short := "pause", "Globally pause claims and schedule changes (admin only)"
	if !pause {
		use, short = "unpause", "Lift the global pause (admin only)"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := app.callerID()
			if err != nil {
				return err
			}
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			var status vesting.Status
			if pause {
				status, err = ledger.engine.Pause(cmd.Context(), caller)
			} else {
				status, err = ledger.engine.Unpause(cmd.Context(), caller)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newAdminCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin registry",
	}

	edit := func(use string, short string, apply func(engine *vesting.Engine, ctx context.Context, address string, caller string) (vesting.Status, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := app.callerID()
				if err != nil {
					return err
				}
				ledger, err := app.openLedger(cmd.Context())
				if err != nil {
					return err
				}
				status, err := apply(ledger.engine, cmd.Context(), args[0], caller)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			},
		}
	}

	cmd.AddCommand(
		edit("add <account>", "Grant admin rights", (*vesting.Engine).AddAdmin),
		edit("remove <account>", "Revoke admin rights (the last admin cannot be removed)", (*vesting.Engine).RemoveAdmin),
		&cobra.Command{
			Use:   "list",
			Short: "List admins",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ledger, err := app.openLedger(cmd.Context())
				if err != nil {
					return err
				}
				admins, err := ledger.engine.Admins(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), admins)
			},
		},
	)
	return cmd
}

func newStatusCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pause state and admins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			status, err := ledger.engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newVaultCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Inspect the token vault",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Show the vault token balance and outstanding obligations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			if ledger.htsClient == nil {
				return fmt.Errorf("vault balance requires operator credentials and token.token_id")
			}
			balance, err := ledger.htsClient.VaultBalance(cmd.Context())
			if err != nil {
				return err
			}
			schedules, err := ledger.engine.ListAllSchedules(cmd.Context())
			if err != nil {
				return err
			}
			report := map[string]any{
				"vaultAccountId": ledger.htsClient.VaultAccountID(),
				"tokenId":        ledger.htsClient.TokenID(),
				"balance":        balance,
				"outstanding":    outstandingObligations(schedules),
			}
			token, err := ledger.htsClient.MirrorClient().GetTokenInfo(cmd.Context(), ledger.htsClient.TokenID())
			if err != nil {
				app.logger.Warn("token metadata unavailable", zap.String("token_id", ledger.htsClient.TokenID()), zap.Error(err))
			} else {
				report["symbol"] = token.Symbol
				report["decimals"] = token.Decimals
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	})
	return cmd
}

// outstandingObligations sums what the vault still owes beneficiaries. A
// revoked schedule owes nothing more.
func outstandingObligations(schedules []vesting.Schedule) uint64 {
	var total uint64
	for _, schedule := range schedules {
		if schedule.Revoked || schedule.TotalAmount <= schedule.ReleasedAmount {
			continue
		}
		owed := schedule.TotalAmount - schedule.ReleasedAmount
		if total > math.MaxUint64-owed {
			return math.MaxUint64
		}
		total += owed
	}
	return total
}
