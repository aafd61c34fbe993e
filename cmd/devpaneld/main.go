package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/modoterra/panelctl/internal/buildinfo"
	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/devpanel"
	"github.com/modoterra/panelctl/pkg/logging"
	"github.com/modoterra/panelctl/pkg/service"
)

var (
	listenAddr   string
	token        string
	adminToken   string
	seedPath     string
	tailPath     string
	tailNode     string
	journalUnit  string
	readStdin    bool
	demoInterval time.Duration
	demoBurst    int
	history      int
	logLevel     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "devpaneld",
	Short:        "Local stand-in for the panel backend",
	Long:         "devpaneld serves the panel REST API and live log WebSockets from memory, for development and tests.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "devpaneld %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&listenAddr, "listen", "127.0.0.1:8000", "listen address")
	f.StringVar(&token, "token", "", "sudo admin bearer token (empty disables auth)")
	f.StringVar(&adminToken, "admin-token", "", "bearer token of a non-sudo admin (read-only, no log access)")
	f.StringVar(&seedPath, "seed", "", "YAML seed with core config, nodes, templates and users")
	f.StringVar(&tailPath, "tail", "", "log file to follow into the stream")
	f.StringVar(&tailNode, "tail-target", "main", "target the tailed file or journal feeds (main or a node ID)")
	f.StringVar(&journalUnit, "journal", "", "systemd unit whose journal feeds the tail target")
	f.BoolVar(&readStdin, "stdin", false, "publish lines read from stdin to the main core stream")
	f.DurationVar(&demoInterval, "demo-interval", 0, "emit synthetic access lines at this interval (0 disables)")
	f.IntVar(&demoBurst, "demo-burst", 1, "synthetic lines per target per interval")
	f.IntVar(&history, "history", devpanel.DefaultHistory, "recent lines replayed to new subscribers")
	f.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serviceCmd)
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the devpaneld systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install [-- daemon flags...]",
	Short: "Install and start a user unit running devpaneld with the given flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.Install(args); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "devpaneld service installed ✓")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the user unit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "devpaneld service removed ✓")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show listener and unit state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(listenAddr))
	},
}

func init() {
	serviceStatusCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8000", "address the daemon listens on")
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := logging.NewStderr(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tailTarget, err := core.ParseTarget(tailNode)
	if err != nil {
		return err
	}

	seed := devpanel.DefaultSeed()
	if seedPath != "" {
		if seed, err = devpanel.LoadSeed(seedPath); err != nil {
			return err
		}
		logger.Info("seed loaded", zap.String("path", seedPath), zap.Int("nodes", len(seed.Nodes)), zap.Int("templates", len(seed.Templates)))
	}

	panel, err := devpanel.New(devpanel.Options{Token: token, AdminToken: adminToken, Seed: seed, History: history, Logger: logger})
	if err != nil {
		return err
	}
	defer panel.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: panel, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Closing the hubs first ends the long-lived log sockets.
		panel.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if tailPath != "" {
		g.Go(func() error {
			return devpanel.Tail(ctx, tailPath, tailTarget, panel, 250*time.Millisecond, logger)
		})
	}
	if journalUnit != "" {
		g.Go(func() error {
			return devpanel.Journal(ctx, journalUnit, tailTarget, panel, logger)
		})
	}
	if readStdin {
		go func() {
			err := devpanel.PublishLines(os.Stdin, core.MainTarget, panel)
			logger.Info("stdin closed", zap.Error(err))
		}()
	}
	if demoInterval > 0 {
		gen := devpanel.NewGenerator(panel, panel.Targets, demoInterval, demoBurst, logger)
		g.Go(func() error {
			gen.Run(ctx)
			return nil
		})
	}

	logger.Info("starting devpaneld",
		zap.String("version", buildinfo.Version),
		zap.String("addr", ln.Addr().String()),
		zap.Bool("auth", token != ""),
	)
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", zap.Error(err))
	} else if ok {
		logger.Debug("notified systemd")
	}

	return g.Wait()
}
