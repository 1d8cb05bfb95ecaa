package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	natspkg "github.com/brojonat/solsend/service/nats"
	"github.com/urfave/cli/v2"
)

func sseCommands() *cli.Command {
	return &cli.Command{
		Name:  "sse",
		Usage: "Server-Sent Events (SSE) streaming commands",
		Subcommands: []*cli.Command{
			streamCommand(),
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream transfer events via SSE (HTTP)",
		ArgsUsage: "[account]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter the event must satisfy (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := newEventFilter(c.StringSlice("jq"), newLogger(c))
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			return readSSE(ctx, c.App.Writer, c.App.ErrWriter, sseURL(c.String("server-url"), c.Args().First()), filter, c.Bool("json"))
		},
	}
}

func sseURL(serverURL, account string) string {
	if account != "" {
		return fmt.Sprintf("%s/api/v1/stream/transfers/%s", serverURL, account)
	}
	return fmt.Sprintf("%s/api/v1/stream/transfers", serverURL)
}

// readSSE prints transfer events from the stream at url until it closes or ctx is done.
func readSSE(ctx context.Context, out, errOut io.Writer, url string, filter *eventFilter, jsonOutput bool) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if currentEvent != "" && currentData != "" {
				if err := handleSSEEvent(out, errOut, currentEvent, currentData, filter, jsonOutput); err != nil {
					return err
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func handleSSEEvent(out, errOut io.Writer, eventType, data string, filter *eventFilter, jsonOutput bool) error {
	switch eventType {
	case "connected":
		if !jsonOutput {
			var info map[string]string
			if err := json.Unmarshal([]byte(data), &info); err != nil {
				return err
			}
			fmt.Fprintf(errOut, "✓ Subscribed to %s\n\n", info["account"])
		}
		return nil

	case "transfer":
		if !filter.Match([]byte(data)) {
			return nil
		}
		if jsonOutput {
			fmt.Fprintln(out, data)
			return nil
		}
		var ev natspkg.TransferEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return err
		}
		printEvent(out, &ev)
		return nil

	case "error":
		var errInfo map[string]interface{}
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return err
		}
		return fmt.Errorf("server error: %v", errInfo["error"])
	}
	// Unknown event type, ignore
	return nil
}
