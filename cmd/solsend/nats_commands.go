package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	natspkg "github.com/brojonat/solsend/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to transfer events for an account.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to transfer events for an account",
		ArgsUsage: "[account]",
		Description: `Subscribe to transfer state changes published to NATS JetStream.

Events are published to the subject: transfers.{account}. Without an account
every account's events are shown. Each --jq filter is evaluated against the
event JSON and must be truthy for the event to be shown.

Example:
  solsend nats subscribe DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --jq '.terminal' --until-terminal`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "solsend-cli",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter the event must satisfy (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "until-terminal",
				Usage: "Exit after the first matching terminal event",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := newEventFilter(c.StringSlice("jq"), newLogger(c))
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			return streamEvents(ctx, c.App.Writer, c.App.ErrWriter, streamOptions{
				natsURL:       c.String("nats-url"),
				account:       c.Args().First(),
				durable:       c.Bool("durable"),
				consumerName:  c.String("consumer-name"),
				jsonOutput:    c.Bool("json"),
				untilTerminal: c.Bool("until-terminal"),
				filter:        filter,
			})
		},
	}
}

type streamOptions struct {
	natsURL       string
	account       string
	durable       bool
	consumerName  string
	jsonOutput    bool
	untilTerminal bool
	filter        *eventFilter
}

// streamEvents connects to NATS and prints transfer events until ctx is done.
func streamEvents(ctx context.Context, out, errOut io.Writer, opts streamOptions) error {
	nc, js, err := natspkg.Connect(opts.natsURL, "solsend-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	subject := natspkg.Subject(opts.account)
	if !opts.jsonOutput {
		fmt.Fprintf(errOut, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(errOut, "   NATS: %s\n", opts.natsURL)
		if opts.durable {
			fmt.Fprintf(errOut, "   Consumer: %s (durable)\n", opts.consumerName)
		}
		fmt.Fprintf(errOut, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if opts.durable {
		consumerConfig.Durable = opts.consumerName
		consumerConfig.Name = opts.consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			msg.Ack()
			if !opts.filter.Match(msg.Data()) {
				continue
			}

			var event natspkg.TransferEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(errOut, "Error parsing event: %v\n", err)
				continue
			}
			count++

			if opts.jsonOutput {
				fmt.Fprintln(out, string(msg.Data()))
			} else {
				printEvent(out, &event)
			}
			if opts.untilTerminal && event.Terminal {
				return nil
			}

		case <-ctx.Done():
			if !opts.jsonOutput {
				fmt.Fprintf(errOut, "\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

func printEvent(w io.Writer, ev *natspkg.TransferEvent) {
	fmt.Fprintf(w, "[%s] %s %s", ev.Timestamp.Local().Format(time.TimeOnly), ev.AttemptID, ev.State)
	if ev.Kind != "" {
		fmt.Fprintf(w, " (%s)", ev.Kind)
	}
	fmt.Fprintf(w, ": %s\n", ev.Status)
	if ev.Signature != "" {
		fmt.Fprintf(w, "    Signature: %s\n", ev.Signature)
	}
	if ev.Details != "" {
		fmt.Fprintf(w, "    Details:   %s\n", ev.Details)
	}
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the TRANSFERS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, js, err := natspkg.Connect(c.String("nats-url"), "solsend-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
