package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tordrt/tablegw"
	"github.com/tordrt/tablegw/internal/api"
	"github.com/tordrt/tablegw/internal/config"
	"github.com/tordrt/tablegw/internal/db"
	"github.com/tordrt/tablegw/internal/gateway"
	"github.com/tordrt/tablegw/internal/logging"
	"github.com/tordrt/tablegw/internal/metrics"
	"github.com/tordrt/tablegw/internal/seed"
)

// app carries the state shared by all commands of one invocation
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
}

func newApp() *app {
	return &app{
		cfg:      config.Default(),
		logger:   slog.Default(),
		closeLog: func() {},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "tablegw",
		Short: "Generic table gateway over SQLite",
		Long: `tablegw serves the tables of a SQLite database over HTTP: list tables, read rows,
insert, update and delete rows, add, delete and rename columns, and search by name.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			logger, closeLog, err := logging.New(a.cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}
			a.logger, a.closeLog = logger, closeLog
			slog.SetDefault(logger)
			return nil
		},
	}

	a.cfg.AddLogFlags(root.PersistentFlags())
	a.cfg.AddDatabaseFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(a),
		newSeedCmd(a),
		newDescribeCmd(a),
		newImportCmd(a),
	)
	return root
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the database over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateServer(); err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
	a.cfg.AddServerFlags(cmd.Flags())
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	client, err := db.NewSQLiteClient(ctx, a.cfg.DatabasePath, a.cfg.SQLiteOptions()...)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}()

	gw, err := gateway.New(client, gateway.Options{SearchField: a.cfg.SearchField})
	if err != nil {
		return err
	}
	m := metrics.New()
	gw.AddObserver(m)
	gw.AddObserver(gateway.NewLoggingObserver(a.logger))

	server := api.NewServer(api.Options{
		Gateway:     gw,
		DB:          client,
		Metrics:     m,
		Logger:      a.logger,
		CORSOrigins: a.cfg.CORSOrigins,
	})

	a.logger.Info("starting table gateway", "db", a.cfg.DatabasePath, "addr", a.cfg.ListenAddr)
	return server.Run(ctx, a.cfg.ListenAddr, a.cfg.ShutdownTimeout)
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the demo tables ABC and EDF if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := db.NewSQLiteClient(ctx, a.cfg.DatabasePath, a.cfg.SQLiteOptions()...)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = client.Close() }()

			result, err := seed.Seed(ctx, client, a.logger)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created: %s\nskipped: %s\n",
				listOrNone(result.Created), listOrNone(result.Skipped))
			return nil
		},
	}
}

func newDescribeCmd(a *app) *cobra.Command {
	var (
		format     string
		outputFile string
		outputDir  string
		tables     string
		exclude    string
	)

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the schema of the served tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir != "" && outputFile != "" {
				return fmt.Errorf("cannot use both --output-dir and --output flags")
			}

			out := &tablegw.OutputOptions{
				Writer:    cmd.OutOrStdout(),
				OutputDir: outputDir,
				Format:    format,
			}
			if outputFile != "" {
				f, err := os.Create(outputFile)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() {
					if err := f.Close(); err != nil {
						a.logger.Warn("failed to close output file", "error", err)
					}
				}()
				out.Writer = f
			}

			opts := &tablegw.Options{
				Tables:        parseTableList(tables),
				ExcludeTables: parseTableList(exclude),
			}
			if err := tablegw.Describe(cmd.Context(), a.cfg.DatabasePath, opts, out); err != nil {
				return fmt.Errorf("failed to describe database: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text or markdown")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "d", "", "Output directory for multi-file output")
	cmd.Flags().StringVarP(&tables, "tables", "t", "", "Specific tables (comma-separated, optional)")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Tables to leave out (comma-separated)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		from       string
		tables     string
		exclude    string
		schemaName string
		replace    bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy tables from PostgreSQL, MySQL or SQLite into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &tablegw.ImportOptions{
				Options: tablegw.Options{
					Tables:        parseTableList(tables),
					ExcludeTables: parseTableList(exclude),
				},
				SchemaName: schemaName,
				Replace:    replace,
				Logger:     a.logger,
			}

			report, err := tablegw.ImportTables(cmd.Context(), from, a.cfg.DatabasePath, opts)
			if report != nil {
				for _, t := range report.Tables {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows\n", t.Name, t.Rows)
				}
			}
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d tables, %d rows\n", len(report.Tables), report.TotalRows())
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Source database URL (postgres://, mysql:// or sqlite://)")
	cmd.Flags().StringVarP(&tables, "tables", "t", "", "Specific tables (comma-separated, optional)")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Tables to leave out (comma-separated)")
	cmd.Flags().StringVarP(&schemaName, "schema", "s", "", "Source schema name (default: public for PostgreSQL, the URL's database for MySQL)")
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace tables that already exist")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func parseTableList(tables string) []string {
	if tables == "" {
		return nil
	}
	list := strings.Split(tables, ",")
	for i, t := range list {
		list[i] = strings.TrimSpace(t)
	}
	return list
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := newApp()
	err := newRootCmd(a).ExecuteContext(ctx)
	a.closeLog()
	stop()
	if err != nil {
		os.Exit(1)
	}
}
