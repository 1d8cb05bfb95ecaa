package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solsend/service/transfer"
	"github.com/brojonat/solsend/service/wallet"
	"github.com/urfave/cli/v2"
)

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Connect the keypair wallet and show its balance",
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			session, err := connectLocal(ctx, c, wallet.AutoApprover{Approved: true})
			if err != nil {
				return err
			}
			defer session.Disconnect(context.Background())

			b, _ := session.Balance()
			logger.Debug("balance loaded", "account", session.Account.String(), "lamports", b.Lamports)

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]any{
					"account":  session.Account.String(),
					"lamports": b.Lamports,
					"sol":      b.String(),
				})
			}
			fmt.Fprintf(c.App.Writer, "Account: %s\n", session.Account)
			fmt.Fprintf(c.App.Writer, "Balance: %s SOL\n", b)
			return nil
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Send SOL from the keypair wallet, approving on this terminal",
		Description: `Runs one transfer attempt in process: validate, prepare, sign, submit,
await finalization and verify. Signing waits for a y/n answer on stdin.

Example:
  solsend --keypair ~/.config/solana/id.json send --to 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin --amount 0.01`,
		Flags: []cli.Flag{
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
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Approve without asking",
			},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			var approver wallet.Approver = wallet.NewTerminalApprover(os.Stdin, c.App.ErrWriter)
			if c.Bool("yes") {
				approver = wallet.AutoApprover{Approved: true}
			}

			session, err := connectLocal(ctx, c, approver)
			if err != nil {
				return err
			}
			defer session.Disconnect(context.Background())

			jsonOutput := c.Bool("json")
			var observer transfer.Observer
			if !jsonOutput {
				observer = progressPrinter(c.App.ErrWriter)
			}

			workflow := transfer.NewWorkflow(c.String("cluster"), observer, logger)
			out := workflow.Run(ctx, session, c.String("to"), c.String("amount"))

			if jsonOutput {
				if err := outputJSON(c.App.Writer, out); err != nil {
					return err
				}
			} else {
				printOutcome(c.App.Writer, out)
			}
			if !out.Succeeded() {
				return fmt.Errorf("transfer %s: %s", out.State, out.Kind)
			}
			return nil
		},
	}
}

// connectLocal loads the keypair wallet and connects it to the RPC endpoint.
func connectLocal(ctx context.Context, c *cli.Context, approver wallet.Approver) (*transfer.Session, error) {
	path := c.String("keypair")
	if path == "" {
		return nil, fmt.Errorf("keypair is required (set WALLET_KEYPAIR_PATH env var or use --keypair)")
	}

	logger := newLogger(c)
	provider, err := wallet.LoadKeypairProvider(path, approver, logger)
	if err != nil {
		return nil, err
	}
	return transfer.Connect(ctx, provider, newLedger(c, logger), wallet.ConnectOptions{})
}

// progressPrinter writes each status line as the attempt advances.
func progressPrinter(w io.Writer) transfer.Observer {
	return transfer.ObserverFunc(func(ctx context.Context, ev transfer.Event) {
		if ev.State.Terminal() {
			return
		}
		fmt.Fprintf(w, "[%s] %s\n", ev.At.Local().Format(time.TimeOnly), ev.Status)
	})
}

func printOutcome(w io.Writer, out *transfer.Outcome) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if out.Succeeded() {
		fmt.Fprintln(w, "✓ Transfer finalized")
	} else {
		fmt.Fprintf(w, "✗ Transfer %s (%s)\n", out.State, out.Kind)
	}
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Attempt:     %s\n", out.AttemptID)
	fmt.Fprintf(w, "Status:      %s\n", out.Status)
	if out.Destination != "" {
		fmt.Fprintf(w, "Destination: %s\n", out.Destination)
		fmt.Fprintf(w, "Amount:      %s SOL\n", transfer.FormatLamports(out.Lamports))
	}
	if out.Signature != "" {
		fmt.Fprintf(w, "Signature:   %s\n", out.Signature)
	}
	if out.Details != "" {
		fmt.Fprintf(w, "Details:     %s\n", out.Details)
	}
	if out.ExplorerURL != "" {
		fmt.Fprintf(w, "Explorer:    %s\n", out.ExplorerURL)
	}
	if out.Balance != nil {
		fmt.Fprintf(w, "Balance:     %s SOL\n", out.Balance)
	}
}

// signalContext cancels on interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
