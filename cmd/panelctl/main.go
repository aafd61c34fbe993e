package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/modoterra/panelctl/pkg/api"
	"github.com/modoterra/panelctl/pkg/config"
	"github.com/modoterra/panelctl/pkg/logging"
	"github.com/modoterra/panelctl/pkg/logstream"
	tuimodel "github.com/modoterra/panelctl/pkg/tui/model"
)

const defaultConfigPath = "panelctl.yaml"

// settings merges flags with PANELCTL_* environment variables.
var settings = viper.New()

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "panelctl",
	Short: "Terminal console for a proxy panel",
	Long: "panelctl follows the live logs of the proxy core or a node, manages core config\n" +
		"templates, and runs the panel's maintenance actions.",
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", defaultConfigPath, "path to panelctl.yaml")
	flags.String("base-api", "", "panel API root, overrides base_api")
	flags.String("origin", "", "origin for a relative base_api")
	flags.String("token", "", "API token, overrides token and token_file")
	flags.String("log-level", "", "debug, info, warn or error")

	settings.SetEnvPrefix("PANELCTL")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	for _, name := range []string{"config", "base-api", "origin", "token", "log-level"} {
		_ = settings.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(coreCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file, applies overrides and validates. A
// missing file at the default path falls back to defaults.
func loadConfig() (*config.Config, error) {
	path := settings.GetString("config")
	c, err := config.Load(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath:
		c = config.Default()
	default:
		return nil, err
	}

	if s := settings.GetString("base-api"); s != "" {
		c.BaseAPI = s
	}
	if s := settings.GetString("origin"); s != "" {
		c.Origin = s
	}
	if s := settings.GetString("token"); s != "" {
		c.Token, c.TokenFile = s, ""
	}
	if s := settings.GetString("log-level"); s != "" {
		c.LogLevel = s
	}

	if errs := config.Validate(c); len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", path, errors.Join(errs...))
	}
	return c, nil
}

// panel is what every panel command needs.
type panel struct {
	cfg    *config.Config
	token  string
	client *api.Client
	logger *zap.Logger
}

func connect() (*panel, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewStderr(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return newPanel(cfg, logger)
}

func newPanel(cfg *config.Config, logger *zap.Logger) (*panel, error) {
	token, err := cfg.ResolveToken()
	if err != nil {
		return nil, err
	}
	client, err := api.New(api.Options{
		BaseAPI: cfg.BaseAPI,
		Origin:  cfg.Origin,
		Token:   token,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return &panel{cfg: cfg, token: token, client: client, logger: logger}, nil
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logPath := cfg.LogFile
	if logPath == "" {
		logPath = logging.DefaultFilePath()
	}
	logger, closeLog, err := logging.NewFile(logPath, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()
	defer logger.Sync()

	p, err := newPanel(cfg, logger)
	if err != nil {
		return err
	}

	opts := logstream.FromConfig(cfg, p.token)
	opts.Logger = logger
	session := logstream.NewSession(opts)
	defer session.Close()

	app := tuimodel.New(tuimodel.Options{
		Backend:      p.client,
		Session:      session,
		PinTolerance: cfg.Logs.PinTolerance,
		Logger:       logger,
	})
	logger.Info("console started", zap.String("base_api", p.client.BaseURL()))
	_, err = tea.NewProgram(app, tea.WithAltScreen()).Run()
	return err
}
