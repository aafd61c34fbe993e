package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/transport/ws"
)

var (
	logsNode string
	logsJSON bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Follow the live log stream of the core or a node",
	Long: "Prints every line the panel streams until interrupted. The stream\n" +
		"reconnects on drop and gives up after logs.reconnect_attempts failures.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := connect()
		if err != nil {
			return err
		}
		defer p.logger.Sync()

		target, err := core.ParseTarget(logsNode)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return followLogs(ctx, cmd, p, target)
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsNode, "node", "", "node ID (default: the main core)")
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "print one JSON object per line")
}

func followLogs(ctx context.Context, cmd *cobra.Command, p *panel, target core.Target) error {
	endpoint := ws.Endpoint{
		BaseAPI:  p.cfg.BaseAPI,
		Origin:   p.cfg.Origin,
		Interval: p.cfg.Logs.Interval,
		Token:    p.token,
	}
	url, err := endpoint.URL(target)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	stream := ws.NewStream(url, nil, ws.Policy{
		MaxAttempts: p.cfg.Logs.ReconnectAttempts,
		Interval:    p.cfg.Logs.ReconnectInterval.D(),
	}, p.logger)
	stream.OnState = func(state core.ConnState) {
		p.logger.Info("log stream", zap.Stringer("target", target), zap.String("state", string(state)))
	}
	stream.OnMessage = func(data string) {
		// A batched message packs several lines.
		for _, line := range strings.Split(data, "\n") {
			if line == "" {
				continue
			}
			if logsJSON {
				_ = writeJSON(out, core.LogLine{Target: target, TsUnixMs: time.Now().UnixMilli(), Line: line})
				continue
			}
			fmt.Fprintln(out, line)
		}
	}

	err = stream.Run(ctx)
	if errors.Is(err, ws.ErrRetriesExhausted) {
		return fmt.Errorf("log stream for %s: %w", target, err)
	}
	return err
}
