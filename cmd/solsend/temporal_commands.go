package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/brojonat/solsend/service/temporal"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/urfave/cli/v2"
)

// newStarter connects to Temporal. Tests replace it.
var newStarter = func(c *cli.Context) (temporal.Starter, func(), error) {
	tc, err := getTemporalClient(c)
	if err != nil {
		return nil, nil, err
	}
	return tc, tc.Close, nil
}

func temporalSendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Run a durable transfer on the Temporal worker",
		Description: `Starts a TransferWorkflow for the worker's wallet and waits for its outcome.
Temporal refuses a second attempt for the same account while one is running.

Example:
  solsend temporal send --account <worker account> --to <destination> --amount 0.01`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "account",
				Usage:    "Account the worker's wallet controls",
				EnvVars:  []string{"SOLSEND_ACCOUNT"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Destination address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount in SOL",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the outcome",
				Value: 15 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			starter, closer, err := newStarter(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			handle, err := starter.StartTransfer(ctx, temporal.TransferInput{
				Account:     c.String("account"),
				Destination: c.String("to"),
				Amount:      c.String("amount"),
				Cluster:     c.String("cluster"),
			})
			if errors.Is(err, transfer.ErrAttemptInFlight) {
				return fmt.Errorf("a transfer for %s is still running", c.String("account"))
			}
			if err != nil {
				return err
			}
			if !c.Bool("json") {
				fmt.Fprintf(c.App.ErrWriter, "Started %s (attempt %s)\n", handle.WorkflowID, handle.AttemptID)
			}

			awaitCtx := ctx
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancelTimeout context.CancelFunc
				awaitCtx, cancelTimeout = context.WithTimeout(ctx, timeout)
				defer cancelTimeout()
			}
			result, err := starter.AwaitTransfer(awaitCtx, handle)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				if err := outputJSON(c.App.Writer, result); err != nil {
					return err
				}
			} else {
				printResult(c.App.Writer, result)
			}
			if !result.Succeeded() {
				return fmt.Errorf("transfer %s: %s", result.State, result.Kind)
			}
			return nil
		},
	}
}

func temporalStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the latest transfer workflow for an account",
		ArgsUsage: "ACCOUNT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for a running attempt to finish and show its result",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			status, err := tc.DescribeTransfer(c.Context, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("wait") || !status.Running() {
				result, err := tc.AwaitTransfer(c.Context, &temporal.TransferHandle{
					WorkflowID: status.WorkflowID,
					RunID:      status.RunID,
				})
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(c.App.Writer, result)
				}
				printResult(c.App.Writer, result)
				return nil
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, status)
			}
			fmt.Fprintf(c.App.Writer, "Workflow: %s\n", status.WorkflowID)
			fmt.Fprintf(c.App.Writer, "Run:      %s\n", status.RunID)
			fmt.Fprintf(c.App.Writer, "Status:   %s\n", status.Status)
			fmt.Fprintf(c.App.Writer, "Started:  %s\n", status.StartTime.Format(time.RFC3339))
			return nil
		},
	}
}

func printResult(w io.Writer, r *temporal.TransferResult) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Attempt:     %s\n", r.AttemptID)
	fmt.Fprintf(w, "State:       %s\n", r.State)
	if r.Kind != "" {
		fmt.Fprintf(w, "Kind:        %s\n", r.Kind)
	}
	fmt.Fprintf(w, "Status:      %s\n", r.Status)
	fmt.Fprintf(w, "Destination: %s\n", r.Destination)
	fmt.Fprintf(w, "Amount:      %s SOL\n", transfer.FormatLamports(r.Lamports))
	if r.Signature != "" {
		fmt.Fprintf(w, "Signature:   %s\n", r.Signature)
	}
	if r.Details != "" {
		fmt.Fprintf(w, "Details:     %s\n", r.Details)
	}
	if r.ExplorerURL != "" {
		fmt.Fprintf(w, "Explorer:    %s\n", r.ExplorerURL)
	}
	if r.Balance != "" {
		fmt.Fprintf(w, "Balance:     %s SOL\n", r.Balance)
	}
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// getTemporalClient connects to Temporal using the global flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		newLogger(c),
	)
}
