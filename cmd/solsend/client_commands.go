package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solsend/client"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for a running solsend server",
		Subcommands: []*cli.Command{
			clientConnectCommand(),
			clientDisconnectCommand(),
			clientBalanceCommand(),
			clientSendCommand(),
			clientStatusCommand(),
			clientHistoryCommand(),
			clientApprovalsCommand(),
			clientDecideCommand("approve", true),
			clientDecideCommand("decline", false),
		},
	}
}

func newClient(c *cli.Context, timeout time.Duration) *client.Client {
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: timeout}, newLogger(c))
}

func clientConnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect the server's wallet",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "only-if-trusted",
				Usage: "Connect only if the wallet was approved before",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the wallet owner",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			cl := newClient(c, c.Duration("timeout"))
			s, err := cl.Connect(c.Context, c.Bool("only-if-trusted"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, s)
			}
			fmt.Fprintf(c.App.Writer, "✓ Connected %s on %s\n", s.Account, s.Cluster)
			if s.Balance != nil {
				fmt.Fprintf(c.App.Writer, "  Balance: %s SOL\n", s.Balance.SOL)
			}
			return nil
		},
	}
}

func clientDisconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Disconnect the server's wallet",
		Action: func(c *cli.Context) error {
			if err := newClient(c, 30*time.Second).Disconnect(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "✓ Disconnected")
			return nil
		},
	}
}

func clientBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Refresh the connected account's balance",
		Action: func(c *cli.Context) error {
			b, err := newClient(c, 30*time.Second).Balance(c.Context)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, b)
			}
			fmt.Fprintf(c.App.Writer, "%s SOL\n", b.SOL)
			return nil
		},
	}
}

func clientSendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Start a transfer and wait for its outcome",
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
				Name:  "no-wait",
				Usage: "Return once the attempt is accepted",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for a terminal state",
				Value: 10 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "How often to poll the attempt's status",
				Value: client.DefaultPollInterval,
			},
		},
		Action: func(c *cli.Context) error {
			jsonOutput := c.Bool("json")
			cl := newClient(c, 30*time.Second).WithPollInterval(c.Duration("poll-interval"))

			t, err := cl.Transfer(c.Context, c.String("to"), c.String("amount"))
			if err != nil {
				if client.IsStatus(err, http.StatusConflict) {
					return fmt.Errorf("another transfer is still in flight: %w", err)
				}
				return err
			}
			if c.Bool("no-wait") {
				if jsonOutput {
					return outputJSON(c.App.Writer, t)
				}
				fmt.Fprintf(c.App.Writer, "Attempt %s accepted\n", t.AttemptID)
				return nil
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancelTimeout context.CancelFunc
				ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
				defer cancelTimeout()
			}

			var onUpdate func(*client.Transfer)
			if !jsonOutput {
				onUpdate = func(t *client.Transfer) {
					if !t.Terminal {
						fmt.Fprintf(c.App.ErrWriter, "%s\n", t.Status)
					}
				}
			}
			final, err := cl.AwaitTransfer(ctx, t.AttemptID, onUpdate)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := outputJSON(c.App.Writer, final); err != nil {
					return err
				}
			} else {
				printTransfer(c.App.Writer, final)
			}
			if !final.Succeeded() {
				return fmt.Errorf("transfer %s: %s", final.State, final.Kind)
			}
			return nil
		},
	}
}

func clientStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a transfer attempt's status",
		ArgsUsage: "ATTEMPT_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("attempt id is required")
			}
			t, err := newClient(c, 30*time.Second).GetTransfer(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, t)
			}
			printTransfer(c.App.Writer, t)
			return nil
		},
	}
}

func clientHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded transfer attempts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "account",
				Usage: "Account address (defaults to the connected one)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of attempts",
				Value: 20,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Attempts to skip",
			},
		},
		Action: func(c *cli.Context) error {
			transfers, err := newClient(c, 30*time.Second).ListTransfers(c.Context, c.String("account"), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, transfers)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ATTEMPT\tSTATE\tKIND\tAMOUNT\tDESTINATION\tUPDATED")
			for _, t := range transfers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.AttemptID,
					t.State,
					orDash(t.Kind),
					orDash(t.Amount),
					orDash(t.Destination),
					t.UpdatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func clientApprovalsCommand() *cli.Command {
	return &cli.Command{
		Name:  "approvals",
		Usage: "List requests waiting on the wallet owner",
		Action: func(c *cli.Context) error {
			approvals, err := newClient(c, 30*time.Second).ListApprovals(c.Context)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, approvals)
			}
			if len(approvals) == 0 {
				fmt.Fprintln(c.App.Writer, "No pending approvals")
				return nil
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSUMMARY\tCREATED")
			for _, a := range approvals {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Kind, a.Summary, a.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func clientDecideCommand(name string, approve bool) *cli.Command {
	usage := "Decline a pending request"
	if approve {
		usage = "Approve a pending request"
	}
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "APPROVAL_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("approval id is required")
			}
			id := c.Args().First()
			if err := newClient(c, 30*time.Second).Decide(c.Context, id, approve); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ %s %sd\n", id, name)
			return nil
		},
	}
}

func printTransfer(w io.Writer, t *client.Transfer) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Attempt:     %s\n", t.AttemptID)
	fmt.Fprintf(w, "State:       %s\n", t.State)
	if t.Kind != "" {
		fmt.Fprintf(w, "Kind:        %s\n", t.Kind)
	}
	fmt.Fprintf(w, "Status:      %s\n", t.Status)
	if t.Destination != "" {
		fmt.Fprintf(w, "Destination: %s\n", t.Destination)
	}
	if t.Amount != "" {
		fmt.Fprintf(w, "Amount:      %s SOL\n", t.Amount)
	}
	if t.Signature != "" {
		fmt.Fprintf(w, "Signature:   %s\n", t.Signature)
	}
	if t.Details != "" {
		fmt.Fprintf(w, "Details:     %s\n", t.Details)
	}
	if t.ExplorerURL != "" {
		fmt.Fprintf(w, "Explorer:    %s\n", t.ExplorerURL)
	}
	if t.Balance != nil {
		fmt.Fprintf(w, "Balance:     %s SOL\n", t.Balance.SOL)
	}
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
