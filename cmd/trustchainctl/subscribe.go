package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/mesh"
)

func newSubscribeCmd() *cobra.Command {
	var (
		addr  string
		since string
	)
	cmd := &cobra.Command{
		Use:   "subscribe <chain-key>",
		Short: "Subscribe to a chain over the mesh wire protocol and print each event as it arrives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainKey := args[0]
			fromMS, err := resolveSince(since)
			if err != nil {
				return fmt.Errorf("parse --since: %w", err)
			}

			client, err := mesh.Dial(cmd.Context(), addr, chainKey, fromMS, event.FormatJSON)
			if err != nil {
				return err
			}
			defer client.Close()

			return streamEvents(cmd.Context(), client)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5000", "trustchaind mesh address")
	cmd.Flags().StringVar(&since, "since", "", `how far back to replay history, e.g. "2 hours ago" or "yesterday at 9am" (default: now)`)
	return cmd
}

// resolveSince turns a natural-language time expression into the
// epoch-millisecond cursor mesh.Dial expects; an empty expression
// means "subscribe from now" (a zero FromTimeMS replays all history).
func resolveSince(expr string) (int64, error) {
	if expr == "" {
		return time.Now().UnixMilli(), nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(expr, time.Now())
	if err != nil {
		return 0, err
	}
	if r == nil {
		return 0, fmt.Errorf("could not understand %q", expr)
	}
	return r.Time.UnixMilli(), nil
}

func streamEvents(ctx context.Context, client *mesh.Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := client.Recv()
		if err != nil {
			return err
		}

		switch msg.Kind {
		case mesh.KindStartOfHistory:
			if !jsonOutput {
				fmt.Printf("%s replaying %d events (integrity: %s)\n", renderLabel("==>"), msg.Size, msg.Integrity)
			}
		case mesh.KindEvents:
			for _, we := range msg.Events {
				printWireEvent(we)
			}
		case mesh.KindEndOfHistory:
			if !jsonOutput {
				fmt.Println(renderLabel("==>"), "caught up, waiting for new events")
			}
		case mesh.KindFatalTerminate:
			return fmt.Errorf("server terminated the subscription: %s", renderFail(msg.Err))
		case mesh.KindNotFound, mesh.KindNotThisRoot:
			return fmt.Errorf("server rejected subscription: %s", renderFail(msg.Kind.String()))
		}
	}
}

func printWireEvent(we mesh.WireEvent) {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(we.Meta)
		return
	}
	key, _ := we.Meta.DataKey()
	ts, _ := we.Meta.Timestamp()
	typeName, _ := we.Meta.TypeName()
	fmt.Printf("%s  %-20s  %s\n", renderMuted(time.UnixMilli(ts).Format(time.RFC3339)), typeName, key)
}
