package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/handoff-relay/handoff/internal/client"
	"github.com/handoff-relay/handoff/internal/pkg/logger"
	"github.com/handoff-relay/handoff/internal/pkg/models"
)

type probeOptions struct {
	url      string
	device   string
	name     string
	username string
	kind     string
	code     string
	register bool
	timeout  time.Duration
}

var probeOpts probeOptions

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Connect to a relay as a device and print what it receives",
	Long: `Connect to a running relay as a device. Without --code a new session is
created and its code printed; with --code the session is joined. Every event
received afterwards is printed until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runProbe(ctx, probeOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := probeCmd.Flags()
	f.StringVar(&probeOpts.url, "url", "ws://localhost:9000/api/v1", "relay base URL")
	f.StringVar(&probeOpts.device, "device", "", "device id to connect as")
	f.StringVar(&probeOpts.name, "name", "", "display name")
	f.StringVar(&probeOpts.username, "username", "", "directory username")
	f.StringVar(&probeOpts.kind, "kind", string(models.DeviceKindDesktop), "device kind: phone, laptop, desktop or tablet")
	f.StringVar(&probeOpts.code, "code", "", "join this 6-digit session code instead of creating one")
	f.BoolVar(&probeOpts.register, "register", false, "also register in the global directory")
	f.DurationVar(&probeOpts.timeout, "timeout", 10*time.Second, "timeout for connect, create and join")
	probeCmd.MarkFlagRequired("device")
	probeCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(probeCmd)
}

func runProbe(ctx context.Context, opts probeOptions, out io.Writer) error {
	kind := models.DeviceKind(opts.kind)
	if !kind.Valid() {
		return fmt.Errorf("invalid --kind %q", opts.kind)
	}

	log := logger.New(logger.Config{Level: "info", Output: os.Stderr})
	info := models.DeviceInfo{DisplayName: opts.name, Username: opts.username, Kind: kind}

	setupCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	c, err := client.Dial(setupCtx, opts.url, opts.device, info, client.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	defer c.Close()

	if opts.register {
		if err := c.Register(setupCtx); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		fmt.Fprintln(out, "registered in directory")
	}

	if opts.code == "" {
		created, err := c.CreateSession(setupCtx)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		fmt.Fprintf(out, "session %s created, code %s (expires %s)\n",
			created.SessionID, created.Code, created.ExpiresAt.Format(time.RFC3339))
	} else {
		joined, err := c.JoinSession(setupCtx, opts.code)
		if err != nil {
			return fmt.Errorf("join session: %w", err)
		}
		fmt.Fprintf(out, "joined session %s with %d devices\n", joined.SessionID, len(joined.Devices))
	}

	return printEvents(ctx, c, out)
}

func printEvents(ctx context.Context, c *client.Client, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.Events():
			if !ok {
				if c.State() == client.Errored {
					return errors.New("connection lost")
				}
				return nil
			}
			fmt.Fprintln(out, formatEvent(ev))
		}
	}
}

func formatEvent(ev *client.Event) string {
	ts := time.UnixMilli(ev.Timestamp).UTC().Format("15:04:05.000")
	if len(ev.Payload) == 0 {
		return fmt.Sprintf("%s %s", ts, ev.Type)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, ev.Payload); err != nil {
		return fmt.Sprintf("%s %s <undecodable payload>", ts, ev.Type)
	}
	return fmt.Sprintf("%s %s %s", ts, ev.Type, compact.String())
}
