package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"

	"github.com/zombor/cost-tracker/internal/archive"
	"github.com/zombor/cost-tracker/internal/extraction"
	"github.com/zombor/cost-tracker/internal/ledger"
	"github.com/zombor/cost-tracker/internal/pipeline"
	"github.com/zombor/cost-tracker/internal/store"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// config holds the flags shared by every command
type config struct {
	logLevel    *string
	logFormat   *string
	backend     *string
	dbPath      *string
	storagePath *string
	layouts     *string
	concurrency *int
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	// Decimals travel as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	rootFlags := ff.NewFlagSet("cost-tracker")
	cfg := config{
		logLevel:    rootFlags.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat:   rootFlags.StringLong("log-format", "text", "Log format: text or json"),
		backend:     rootFlags.StringLong("store", "bolt", "Store backend: bolt or sqlite"),
		dbPath:      rootFlags.StringLong("db", "cost-tracker.db", "Database file path"),
		storagePath: rootFlags.StringLong("storage", "./documents", "Document archive directory"),
		layouts:     rootFlags.StringLong("layouts", "", "YAML file overriding the built-in PDF layouts (optional)"),
		concurrency: rootFlags.IntLong("concurrency", 1, "Documents extracted in parallel"),
	}

	root := &ff.Command{
		Name:      "cost-tracker",
		Usage:     "cost-tracker [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "Track raw material costs from fiscal invoices",
		Flags:     rootFlags,
		Subcommands: []*ff.Command{
			serveCommand(cfg, rootFlags),
			ingestCommand(cfg, rootFlags),
			importItemsCommand(cfg, rootFlags),
			importAttributesCommand(cfg, rootFlags),
			exportCommand(cfg, rootFlags),
		},
		Exec: func(ctx context.Context, args []string) error {
			return ff.ErrHelp
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.Parse(os.Args[1:], ff.WithEnvVarPrefix("COST_TRACKER"))
	if err == nil {
		if err = setupLogging(*cfg.logLevel, *cfg.logFormat); err == nil {
			err = root.Run(ctx)
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("invalid log format %q, valid: text or json", format)
	}
	return nil
}

// openService wires the store, pipeline and archive into a ledger service.
// The returned close function releases the store.
func openService(cfg config) (*ledger.Service, func(), error) {
	slog.Info("Initializing store...", "backend", *cfg.backend, "path", *cfg.dbPath)
	st, err := store.Open(*cfg.backend, *cfg.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing store: %w", err)
	}

	layouts := extraction.DefaultLayouts()
	if *cfg.layouts != "" {
		layouts, err = extraction.LoadLayoutsFile(*cfg.layouts)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("loading layouts: %w", err)
		}
	}
	dispatcher := extraction.NewDispatcher(layouts)
	slog.Info("Layouts loaded", "layouts", strings.Join(dispatcher.Layouts(), ","))

	slog.Info("Initializing storage...", "path", *cfg.storagePath)
	storage, err := archive.NewLocalStorage(*cfg.storagePath)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("initializing storage: %w", err)
	}

	processor := pipeline.NewConcurrent(extraction.NewPDFTableReader(), dispatcher, *cfg.concurrency)
	service := ledger.NewService(st, processor, storage, archive.FitzPreviewer{})

	return service, func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}, nil
}

func serveCommand(cfg config, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		origins  = fs.StringListLong("cors-origin", "Allowed CORS origin (repeatable, default any)")
		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "cost-tracker serve [FLAGS]",
		ShortHelp: "Run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			service, closeStore, err := openService(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			basicAuth := ledger.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			}
			server := ledger.NewServer(service, basicAuth, *origins)

			addr := fmt.Sprintf(":%d", *port)
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			if err := server.Start(ctx, addr); err != nil {
				return fmt.Errorf("serving: %w", err)
			}
			slog.Info("Shutting down...")
			return nil
		},
	}
}

func ingestCommand(cfg config, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("ingest").SetParent(parent)

	return &ff.Command{
		Name:      "ingest",
		Usage:     "cost-tracker ingest [FLAGS] <file> ...",
		ShortHelp: "Extract line items from XML and PDF invoices",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("at least one invoice file is required")
			}

			docs := make([]pipeline.Document, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				docs = append(docs, pipeline.Document{Filename: filepath.Base(path), Data: data})
			}

			service, closeStore, err := openService(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			result, err := service.Upload(ctx, docs)
			if err != nil {
				return err
			}
			for _, doc := range result.Documents {
				slog.Info("Document processed", "filename", doc.Filename, "route", doc.Route, "layout", doc.Layout, "rows", doc.Rows)
			}
			fmt.Println(result.Message)
			return nil
		},
	}
}

// importer runs one of the service's bulk imports against a file
type importer func(s *ledger.Service, ctx context.Context, r io.Reader, filename string) (*ledger.ImportResult, error)

func importCommand(cfg config, parent *ff.FlagSet, name, help string, run importer) *ff.Command {
	fs := ff.NewFlagSet(name).SetParent(parent)

	return &ff.Command{
		Name:      name,
		Usage:     fmt.Sprintf("cost-tracker %s [FLAGS] <file>", name),
		ShortHelp: help,
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one CSV or XLSX file is required")
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			service, closeStore, err := openService(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			result, err := run(service, ctx, f, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(result.Message)
			return nil
		},
	}
}

func importItemsCommand(cfg config, parent *ff.FlagSet) *ff.Command {
	return importCommand(cfg, parent, "import-items", "Load an initial line item spreadsheet", (*ledger.Service).ImportLineItems)
}

func importAttributesCommand(cfg config, parent *ff.FlagSet) *ff.Command {
	return importCommand(cfg, parent, "import-attributes", "Load attribute mappings from a spreadsheet", (*ledger.Service).ImportMappings)
}

func exportCommand(cfg config, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("export").SetParent(parent)
	var (
		format = fs.StringLong("format", "csv", "Export format: csv or xlsx")
		output = fs.StringLong("output", "", "Output file (default stdout)")
	)

	return &ff.Command{
		Name:      "export",
		Usage:     "cost-tracker export [FLAGS]",
		ShortHelp: "Write every line item in the canonical column order",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			exportFormat := ledger.ExportFormat(*format)
			if exportFormat != ledger.FormatCSV && exportFormat != ledger.FormatXLSX {
				return fmt.Errorf("invalid format %q, valid: csv or xlsx", *format)
			}

			service, closeStore, err := openService(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			var w io.Writer = os.Stdout
			if *output != "" {
				f, err := os.Create(*output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", *output, err)
				}
				defer f.Close()
				w = f
			}
			return service.Export(ctx, w, exportFormat)
		},
	}
}
