package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/panelctl/pkg/api"
	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/units"
)

const requestTimeout = 30 * time.Second

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, requestTimeout)
}

// failure prefers the server's detail over the transport error.
func failure(err error, what string) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", what, api.Message(err, "request failed"))
	}
	return fmt.Errorf("%s: %w", what, err)
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid template id %q", s)
	}
	return id, nil
}

func readConfigFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := core.ValidateConfigObject(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// --- Core ---

var coreCmd = &cobra.Command{
	Use:   "core",
	Short: "Inspect and control the proxy core",
}

var coreStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show core version and state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		stats, err := p.client.CoreStats(ctx)
		if err != nil {
			return failure(err, "core status")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Version: %s\n", stats.Version)
		fmt.Fprintf(out, "State:   %s\n", startedLabel(stats.Started))
		if stats.LogsWebsocket != "" {
			fmt.Fprintf(out, "Logs:    %s\n", stats.LogsWebsocket)
		}
		return nil
	},
}

var coreConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or replace the core config",
}

var coreConfigGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current core config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		raw, err := p.client.CoreConfig(ctx)
		if err != nil {
			return failure(err, "core config")
		}
		return writeRaw(cmd.OutOrStdout(), raw)
	},
}

var coreConfigSetCmd = &cobra.Command{
	Use:   "set <file>",
	Short: "Replace the core config with a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfigFile(args[0])
		if err != nil {
			return err
		}
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if _, err := p.client.UpdateCoreConfig(ctx, cfg); err != nil {
			return failure(err, "update core config")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "core config updated from %s ✓\n", args[0])
		return nil
	},
}

var coreRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the core",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := p.client.RestartCore(ctx); err != nil {
			return failure(err, "restart core")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "core restarted ✓")
		return nil
	},
}

func init() {
	coreConfigCmd.AddCommand(coreConfigGetCmd)
	coreConfigCmd.AddCommand(coreConfigSetCmd)
	coreCmd.AddCommand(coreStatusCmd)
	coreCmd.AddCommand(coreConfigCmd)
	coreCmd.AddCommand(coreRestartCmd)
}

// --- Templates ---

var templatesCmd = &cobra.Command{
	Use:     "templates",
	Aliases: []string{"template", "tpl"},
	Short:   "Manage core config templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		list, err := p.client.Templates(ctx)
		if err != nil {
			return failure(err, "list templates")
		}
		rows := make([][]string, 0, len(list))
		for _, t := range list {
			created := "-"
			if !t.CreatedAt.IsZero() {
				created = t.CreatedAt.Local().Format("2006-01-02 15:04")
			}
			rows = append(rows, []string{
				strconv.Itoa(t.ID),
				t.Name,
				strconv.Itoa(t.NodesCount),
				units.FormatBytes(uint64(len(t.Config)), 1),
				created,
			})
		}
		return renderTable(cmd.OutOrStdout(), "no templates", []string{"ID", "NAME", "NODES", "SIZE", "CREATED"}, rows)
	},
}

var templatesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a template's config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		t, err := p.client.Template(ctx, id)
		if err != nil {
			return failure(err, "get template")
		}
		return writeRaw(cmd.OutOrStdout(), t.Config)
	},
}

var (
	templateName string
	templateFile string
)

var templatesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Save a template from a file or the current core config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := core.ValidateTemplateName(templateName); err != nil {
			return err
		}
		var cfg json.RawMessage
		if templateFile != "" {
			var err error
			if cfg, err = readConfigFile(templateFile); err != nil {
				return err
			}
		}
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if cfg == nil {
			if cfg, err = p.client.CoreConfig(ctx); err != nil {
				return failure(err, "core config")
			}
		}
		t, err := p.client.CreateTemplate(ctx, core.TemplateInput{Name: templateName, Config: cfg})
		if err != nil {
			return failure(err, "create template")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "template %q created (id %d) ✓\n", t.Name, t.ID)
		return nil
	},
}

var templatesUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Rename a template or replace its config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var patch core.TemplatePatch
		if cmd.Flags().Changed("name") {
			name := templateName
			patch.Name = &name
		}
		if templateFile != "" {
			if patch.Config, err = readConfigFile(templateFile); err != nil {
				return err
			}
		}
		if patch.Name == nil && patch.Config == nil {
			return fmt.Errorf("nothing to update: pass --name or --file")
		}
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		t, err := p.client.UpdateTemplate(ctx, id, patch)
		if err != nil {
			return failure(err, "update template")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "template %q updated ✓\n", t.Name)
		return nil
	},
}

var templatesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := p.client.DeleteTemplate(ctx, id); err != nil {
			return failure(err, "delete template")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "template %d deleted ✓\n", id)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{templatesCreateCmd, templatesUpdateCmd} {
		c.Flags().StringVar(&templateName, "name", "", "template name")
		c.Flags().StringVar(&templateFile, "file", "", "JSON config file")
	}
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesGetCmd)
	templatesCmd.AddCommand(templatesCreateCmd)
	templatesCmd.AddCommand(templatesUpdateCmd)
	templatesCmd.AddCommand(templatesDeleteCmd)
}

// --- Nodes ---

var nodesJSON bool

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Inspect remote nodes",
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		nodes, err := p.client.Nodes(ctx)
		if err != nil {
			return failure(err, "list nodes")
		}
		if nodesJSON {
			return writeJSON(cmd.OutOrStdout(), nodes)
		}
		rows := make([][]string, 0, len(nodes))
		for _, n := range nodes {
			rows = append(rows, []string{strconv.Itoa(n.ID), n.Name, n.Address, nodeStatus(n.Status), n.XrayVersion})
		}
		return renderTable(cmd.OutOrStdout(), "no nodes", []string{"ID", "NAME", "ADDRESS", "STATUS", "XRAY"}, rows)
	},
}

func init() {
	nodesListCmd.Flags().BoolVar(&nodesJSON, "json", false, "output as JSON")
	nodesCmd.AddCommand(nodesListCmd)
}

// --- Users ---

var (
	expiredDays int
	resetYes    bool
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "User maintenance actions",
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <username>...",
	Short: "Delete users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := p.client.DeleteUsers(ctx, args); err != nil {
			return failure(err, "delete users")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s user(s) deleted ✓\n", units.WithCommas(int64(len(args))))
		return nil
	},
}

var usersDeleteExpiredCmd = &cobra.Command{
	Use:   "delete-expired",
	Short: "Delete users that expired at least --days ago",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if expiredDays < 0 {
			return fmt.Errorf("--days must not be negative, got %d", expiredDays)
		}
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		removed, err := p.client.DeleteExpiredUsers(ctx, expiredDays, time.Now())
		if err != nil {
			return failure(err, "delete expired users")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s expired user(s) deleted ✓\n", units.WithCommas(int64(len(removed))))
		for _, name := range removed {
			fmt.Fprintf(out, "  • %s\n", name)
		}
		return nil
	},
}

var usersResetUsageCmd = &cobra.Command{
	Use:   "reset-usage",
	Short: "Reset the traffic usage of every user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !resetYes {
			return fmt.Errorf("this resets usage for all users; pass --yes to confirm")
		}
		p, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := p.client.ResetAllUsage(ctx); err != nil {
			return failure(err, "reset usage")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "usage reset for all users ✓")
		return nil
	},
}

func init() {
	usersDeleteExpiredCmd.Flags().IntVar(&expiredDays, "days", 0, "minimum days since expiry")
	usersResetUsageCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm the reset")
	usersCmd.AddCommand(usersDeleteCmd)
	usersCmd.AddCommand(usersDeleteExpiredCmd)
	usersCmd.AddCommand(usersResetUsageCmd)
}
