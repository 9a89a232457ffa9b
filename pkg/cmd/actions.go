package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"safelink/pkg/config"
	"safelink/pkg/extract"
	"safelink/pkg/fetch"
	"safelink/pkg/model"
	"safelink/pkg/probe"
	"safelink/pkg/rank"
	"safelink/pkg/server"
	"safelink/pkg/store"
)

// Runtime is the process-wide state built once at start-up and read-only
// afterwards.
type Runtime struct {
	Config     *config.Config
	Log        zerolog.Logger
	Registry   *probe.Registry
	Extractor  *extract.Extractor
	Classifier model.Classifier
}

// NewLogger returns a console logger on w at the named level.
func NewLogger(w io.Writer, level string, quiet bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if quiet {
		lvl = zerolog.ErrorLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// NewRuntime wires configuration, schema, sources and classifier.
func NewRuntime(cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	bl, err := rank.LoadBlocklist(cfg.Blocklist.FeedPath)
	if err != nil {
		return nil, err
	}
	reg, err := probe.NewDefaultRegistry(bl)
	if err != nil {
		return nil, fmt.Errorf("feature schema: %w", err)
	}
	clf, err := model.Load(cfg.Model.Path, reg.Len())
	if err != nil {
		return nil, err
	}
	if cfg.Rank.APIKey == "" {
		log.Warn().Msgf("%s not set; traffic and page rank probes will use neutral fallbacks", config.EnvAPIKey)
	}
	log.Debug().Int("features", reg.Len()).Int("feed_hosts", bl.Size()).Str("model", cfg.Model.Path).Msg("runtime ready")

	src := fetch.NewFetcher(cfg, log)
	return &Runtime{
		Config:     cfg,
		Log:        log,
		Registry:   reg,
		Extractor:  extract.New(reg, src, cfg.Extraction, log),
		Classifier: clf,
	}, nil
}

func runtimeFrom(c *cli.Context) (*Runtime, error) {
	if err := config.LoadDotEnv(c.StringSlice("env-file")...); err != nil {
		return nil, err
	}
	log, err := NewLogger(os.Stderr, c.String("log-level"), c.Bool("quiet"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("workers") {
		cfg.Extraction.Workers = c.Int("workers")
	}
	return NewRuntime(cfg, log)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// ExtractAction prints the vector and verdict of each URL argument.
func ExtractAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("usage: safelink extract <url>...", 2)
	}
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	for _, rawURL := range c.Args().Slice() {
		report := rt.Extractor.Extract(ctx, rawURL)
		label, err := rt.Classifier.Predict(report.Vector)
		if err != nil {
			return err
		}
		proba, err := rt.Classifier.PredictProba(report.Vector)
		if err != nil {
			return err
		}

		if c.Bool("json") {
			out := struct {
				*config.Report
				Result      string  `json:"result"`
				Probability float64 `json:"probability"`
			}{report, label.String(), proba[1]}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, string(data))
			continue
		}
		printReport(c.App.Writer, report, label, proba[1])
	}
	return nil
}

func printReport(w io.Writer, r *config.Report, label model.Label, pLegit float64) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)

	cyan.Fprintf(w, "%s\n", r.URL)
	for i, name := range r.Names {
		slot := r.Slots[name]
		var paint *color.Color
		switch r.Vector[i] {
		case config.Legitimate:
			paint = green
		case config.Phishing:
			paint = red
		default:
			paint = yellow
		}
		suffix := ""
		if slot.FallbackUsed {
			suffix = "  (fallback)"
		}
		fmt.Fprintf(w, "  %2d %-20s ", i, name)
		paint.Fprintf(w, "%2g", r.Vector[i])
		fmt.Fprintln(w, suffix)
	}

	verdict := green
	if label == model.Phishing {
		verdict = red
	}
	fmt.Fprint(w, "  verdict: ")
	verdict.Fprintf(w, "%s", label)
	fmt.Fprintf(w, " (p_legitimate=%.3f, %d fallbacks, %s)\n", pLegit, r.FallbackCount(), r.Duration.Round(time.Millisecond))
}

// ServeAction runs the HTTP API until SIGINT or SIGTERM.
func ServeAction(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	addr := rt.Config.Server.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	srv := server.New(rt.Extractor, rt.Classifier, rt.Config.Server.AllowedOrigins, rt.Log)
	return srv.ListenAndServe(ctx, addr)
}

// DatasetAction extracts a labelled URL list into the training CSV layout.
func DatasetAction(c *cli.Context) error {
	urlsFile, phishtankFile := c.String("urls"), c.String("phishtank")
	if (urlsFile == "") == (phishtankFile == "") {
		return cli.Exit("exactly one of --urls or --phishtank is required", 2)
	}

	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}

	var seeds []Seed
	if phishtankFile != "" {
		rt.Log.Info().Str("file", phishtankFile).Msg("reading phishtank export")
		if seeds, err = ReadPhishTankFile(phishtankFile); err != nil {
			return err
		}
	} else {
		class, err := ParseClass(c.String("label"))
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		rt.Log.Info().Str("file", urlsFile).Int("class", class).Msg("reading url list")
		urls, err := ReadURLsFromFile(urlsFile)
		if err != nil {
			return err
		}
		for _, u := range urls {
			seeds = append(seeds, Seed{URL: u, Class: class})
		}
	}

	writer, isNew, err := NewCSVWriter(c.String("out"))
	if err != nil {
		return err
	}
	defer writer.Close()
	if isNew {
		if err := writer.WriteHeader(rt.Registry.Names()); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	var db *store.DB
	if path := c.String("db"); path != "" {
		if db, err = store.Open(path); err != nil {
			return err
		}
		defer db.Close()
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	start := time.Now()
	crawler := NewCrawler(rt.Extractor, c.Int("w"), rt.Log)
	n, err := crawler.Run(ctx, seeds, func(res Result) error {
		if err := writer.WriteReport(res.Job.Index, res.Report, res.Job.Seed.Class); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		if db != nil {
			if err := db.SaveReport(ctx, res.Report, res.Job.Seed.Class); err != nil {
				return err
			}
		}
		return nil
	})
	rt.Log.Info().
		Int("rows", n).
		Int("seeds", len(seeds)).
		Str("out", c.String("out")).
		Dur("took", time.Since(start)).
		Msg("dataset finished")
	if db != nil {
		logStoreTotals(db, rt.Log)
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// logStoreTotals reports the class balance recorded in db so far.
func logStoreTotals(db *store.DB, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	phishing, err := db.Count(ctx, config.ClassPhishing)
	if err != nil {
		log.Warn().Err(err).Str("db", db.Path()).Msg("could not count recorded runs")
		return
	}
	legitimate, err := db.Count(ctx, config.ClassLegitimate)
	if err != nil {
		log.Warn().Err(err).Str("db", db.Path()).Msg("could not count recorded runs")
		return
	}
	log.Info().
		Str("db", db.Path()).
		Int("phishing", phishing).
		Int("legitimate", legitimate).
		Msg("runs recorded")
}

// RunsAction lists runs recorded by dataset --db, oldest first.
func RunsAction(c *cli.Context) error {
	db, err := store.Open(c.String("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.Runs(c.Context, c.Int("n"))
	if err != nil {
		return err
	}
	printRuns(c.App.Writer, runs)
	return nil
}

func printRuns(w io.Writer, runs []store.Run) {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	for _, r := range runs {
		class := green.Sprint("legitimate")
		if r.Class == config.ClassPhishing {
			class = red.Sprint("phishing")
		}
		fmt.Fprintf(w, "%s  %-10s  %2d fallbacks  %8s  %s\n",
			r.CreatedAt.Format(time.DateTime), class, r.Fallbacks, r.Duration.Round(time.Millisecond), r.URL)
	}
}

// App returns the command-line application.
func App() *cli.App {
	return &cli.App{
		Name:  "safelink",
		Usage: "score URLs for phishing from a fixed feature vector",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", Value: "safelink.yaml", EnvVars: []string{"SAFELINK_CONFIG"}},
			&cli.StringSliceFlag{Name: "env-file", Usage: "dotenv files to load", Value: cli.NewStringSlice(".env")},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Value: "info"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log errors"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent probes per extraction"},
		},
		Commands: []*cli.Command{
			{
				Name:      "extract",
				Usage:     "extract features and classify URLs",
				ArgsUsage: "<url>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the full report as JSON"},
				},
				Action: ExtractAction,
			},
			{
				Name:  "serve",
				Usage: "run the detection HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address (overrides config)"},
				},
				Action: ServeAction,
			},
			{
				Name:  "dataset",
				Usage: "extract a labelled URL list into a training CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "urls", Usage: "file with one URL per line"},
					&cli.StringFlag{Name: "phishtank", Usage: "PhishTank CSV export (verified, online entries)"},
					&cli.StringFlag{Name: "label", Usage: "class for --urls: phishing or legitimate", Value: "phishing"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output CSV", Value: "phishing.csv"},
					&cli.StringFlag{Name: "db", Usage: "also record runs in this SQLite database"},
					&cli.IntFlag{Name: "w", Usage: "concurrent URLs", Value: 4},
				},
				Action: DatasetAction,
			},
			{
				Name:  "runs",
				Usage: "list runs recorded by dataset --db",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "SQLite database written by dataset", Required: true},
					&cli.IntFlag{Name: "n", Usage: "number of runs to show (0 for all)", Value: 20},
				},
				Action: RunsAction,
			},
		},
	}
}
