package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solsend/service/db"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-transfers",
		Usage:     "List recorded transfer attempts for an account",
		Aliases:   []string{"ls"},
		ArgsUsage: "ACCOUNT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state",
				Aliases: []string{"s"},
				Usage:   "Filter by state (succeeded, rejected, failed, ...)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of attempts to show",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transfers, err := store.ListTransfersByAccount(context.Background(), db.ListTransfersByAccountParams{
				Account: c.Args().First(),
				Limit:   int32(c.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}
			transfers = filterByState(transfers, c.String("state"))

			if c.Bool("json") {
				return outputJSON(c.App.Writer, transfers)
			}
			printTransferTable(c.App.Writer, transfers)
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func getTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transfer",
		Usage:     "Show one recorded transfer attempt",
		ArgsUsage: "ATTEMPT_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("attempt id is required")
			}
			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid attempt id: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			t, err := store.GetTransfer(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, t)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Attempt:     %s\n", t.ID)
			fmt.Fprintf(w, "Account:     %s\n", t.Account)
			fmt.Fprintf(w, "Destination: %s\n", t.Destination)
			fmt.Fprintf(w, "Amount:      %s SOL\n", transfer.FormatLamports(uint64(t.Lamports)))
			fmt.Fprintf(w, "State:       %s\n", t.State)
			fmt.Fprintf(w, "Kind:        %s\n", deref(t.Kind))
			fmt.Fprintf(w, "Status:      %s\n", t.Status)
			fmt.Fprintf(w, "Signature:   %s\n", deref(t.Signature))
			fmt.Fprintf(w, "Details:     %s\n", deref(t.Details))
			fmt.Fprintf(w, "Created:     %s\n", t.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Updated:     %s\n", t.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func filterByState(transfers []*db.Transfer, state string) []*db.Transfer {
	if state == "" {
		return transfers
	}
	filtered := make([]*db.Transfer, 0, len(transfers))
	for _, t := range transfers {
		if t.State == state {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func printTransferTable(out io.Writer, transfers []*db.Transfer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ATTEMPT\tSTATE\tKIND\tAMOUNT\tDESTINATION\tSIGNATURE\tUPDATED")
	for _, t := range transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.State,
			deref(t.Kind),
			transfer.FormatLamports(uint64(t.Lamports)),
			t.Destination,
			deref(t.Signature),
			t.UpdatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
}

// deref formats an optional column.
func deref(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
