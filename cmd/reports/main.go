package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/spektr-org/reports/config"
	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/logger"
	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// REPORTS CLI — Saved reports and charts over configured entities
// ============================================================================

const version = "0.3.0"

type options struct {
	Config   string `short:"c" long:"config" env:"REPORTS_CONFIG" description:"path to the YAML configuration"`
	Report   string `short:"r" long:"report" description:"report id to fetch"`
	Chart    string `long:"chart" description:"chart id to compute"`
	Locate   string `long:"locate" description:"list the entities behind a chart bucket locator"`
	Discover string `long:"discover" value-name:"FILE" description:"print the entity type discovered from a CSV file and exit"`
	Type     string `long:"type" default:"record" description:"entity type key for --discover"`
	User     string `short:"u" long:"user" description:"configured user id to run as (default: unrestricted)"`
	Format   string `short:"f" long:"format" choice:"table" choice:"csv" choice:"json" default:"table" description:"output format"`
	Limit    int    `short:"n" long:"limit" description:"max rows, 0 for all"`
	Out      string `short:"o" long:"out" description:"write output to file instead of stdout"`
	Version  bool   `short:"v" long:"version" description:"display the version and exit"`
}

func parseOptions(args []string) (*options, error) {
	opts := &options{}
	parser := flags.NewParser(opts, flags.Default)
	parser.Name = "reports"
	parser.Usage = `[OPTIONS]

Examples:
  reports -c reports.yaml                       list saved reports and charts
  reports -c reports.yaml -r orgs -f csv        fetch a report as CSV
  reports -c reports.yaml --chart by-sector     compute a chart
  reports --discover orgs.csv --type org        discover an entity type`

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("--limit cannot be negative")
	}
	return opts, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("reports %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Output writer ─────────────────────────────────────────────────────
	var w io.Writer = os.Stdout
	if opts.Out != "" {
		f, err := os.Create(opts.Out)
		if err != nil {
			fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		w = f
	}

	if err := run(ctx, opts, w, os.Stderr); err != nil {
		stop()
		fatalf("%v", err)
	}
}

func run(ctx context.Context, opts *options, stdout, stderr io.Writer) error {
	if opts.Discover != "" {
		return discover(opts, stdout)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}

	logger.Level.SetByName(cfg.Log.Level)
	log := logger.New(logger.Format(cfg.Log.Format), stderr)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.user(opts.User)
	if err != nil {
		return err
	}
	out := newOutput(stdout, opts.Format, cfg.LocaleTag())

	switch {
	case opts.Report != "":
		table, err := a.fetcher.Fetch(ctx, opts.Report, user, engine.FetchOptions{Limit: opts.Limit})
		if err != nil {
			return fmt.Errorf("fetch report %s: %w", opts.Report, err)
		}
		log.Debug("report fetched", "report", opts.Report, "rows", len(table.Rows))
		return out.table(table)

	case opts.Chart != "":
		chart, err := a.charter.Fetch(ctx, opts.Chart, user)
		if err != nil {
			return fmt.Errorf("compute chart %s: %w", opts.Chart, err)
		}
		return out.chart(chart)

	case opts.Locate != "":
		cur, err := engine.Locate(ctx, a.env, opts.Locate, user)
		if err != nil {
			return fmt.Errorf("locate: %w", err)
		}
		defer cur.Close()
		return out.entities(ctx, cur, opts.Limit)

	default:
		return out.catalog(cfg)
	}
}

// discover prints the entity type inferred from a CSV file.
func discover(opts *options, w io.Writer) error {
	data, err := os.ReadFile(opts.Discover)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.Discover, err)
	}
	et, err := schema.DiscoverFromCSV(data, schema.DefaultDiscoverOptions(opts.Type))
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(et)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(et)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
