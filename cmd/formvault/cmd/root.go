package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/config"
	"github.com/wesm/formvault/internal/export"
	"github.com/wesm/formvault/internal/fileutil"
	"github.com/wesm/formvault/internal/prefs"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/results"
	"github.com/wesm/formvault/internal/search"
	"github.com/wesm/formvault/internal/store"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	noColor bool
	asUser  string // configured user name the CLI acts as
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "formvault",
	Short: "Form submission browser and exporter",
	Long: `formvault stores form definitions and their submissions in a local
SQLite database and lets you search forms, page through results and export
them as CSV, JSON or ZIP.

The same functionality is available over an HTTP API (serve) and as an MCP
server (mcp).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			disableColor()
		}
		if cmd.Name() == "version" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		// --home influences where config.toml is loaded from, like
		// FORMVAULT_HOME.
		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", cfg.ConfigFilePath(), err)
		}

		if err := fileutil.MkdirPrivate(cfg.Data.DataDir); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}
		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// localViewer is the identity used when --as is not given: whoever can
// open the database file is treated as an administrator.
var localViewer = authz.Viewer{ID: 0, Name: "local", Roles: []string{authz.AdminRole}}

// currentViewer resolves --as to a configured user.
func currentViewer() (authz.Viewer, error) {
	if asUser == "" {
		return localViewer, nil
	}
	for _, u := range cfg.Users {
		if u.Name == asUser {
			return authz.Viewer{ID: u.ID, Name: u.Name, Roles: u.Roles}, nil
		}
	}
	return authz.Viewer{}, fmt.Errorf("no user named %q in %s", asUser, cfg.ConfigFilePath())
}

func authzRoles(roles []config.RoleConfig) []authz.Role {
	out := make([]authz.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, authz.Role{Name: r.Name, Permissions: r.Permissions, Inherits: r.Inherits})
	}
	return out
}

// app bundles the components a command works with. Close releases the
// database.
type app struct {
	store    *store.Store
	engine   *query.SQLiteEngine
	prefs    prefs.Store
	enforcer *authz.Enforcer
	lister   *results.Lister
}

// openApp opens the database, ensures the schema and wires the lister from
// configuration.
func openApp() (*app, error) {
	s, err := store.Open(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	enf, err := authz.NewEnforcer(authzRoles(cfg.Roles), logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load roles: %w", err)
	}

	tr := search.NewTranslator(cfg.Search.Locale)
	engine := query.NewSQLiteEngine(s.DB(), tr)
	ps := prefs.NewSQLiteStore(s.DB())
	opts := results.Options{
		PageLimit:       cfg.Results.PageLimit,
		DefaultOrderBy:  cfg.Results.DefaultOrderBy,
		DefaultOrderDir: query.ParseSortDirection(cfg.Results.DefaultOrderDir),
	}
	lister := results.NewLister(engine, ps, enf, export.NewRegistry(), tr, opts, logger)

	return &app{store: s, engine: engine, prefs: ps, enforcer: enf, lister: lister}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.formvault/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides FORMVAULT_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&asUser, "as", "", "act as the named configured user (default: local administrator)")
}
