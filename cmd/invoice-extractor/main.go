package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/invoice-extractor/internal/acquire"
	"github.com/zombor/invoice-extractor/internal/amount"
	"github.com/zombor/invoice-extractor/internal/business"
	"github.com/zombor/invoice-extractor/internal/dates"
	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// options holds the flags shared by every command
type options struct {
	dbPath    *string
	storeKind *string
	logLevel  *string
	logFormat *string

	strategies  *string
	recognizer  *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
	tesseract   *string
	ocrLang     *string
	maxPages    *int
	minText     *int
	retries     *int
	budget      *time.Duration
	concurrency *int

	fuzzyThreshold *float64
	policy         *string
	monthFirst     *bool
	minTotal       *string
	maxTotal       *string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	root := newRootCommand()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("INVOICE_EXTRACTOR"))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp), errors.Is(err, ff.ErrNoExec):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *ff.Command {
	fs := ff.NewFlagSet("invoice-extractor")
	opts := &options{
		dbPath:    fs.StringLong("db", "invoice-extractor.db", "Business registry database file path"),
		storeKind: fs.StringLong("store", "bolt", "Registry storage: 'bolt' or 'sqlite'"),
		logLevel:  fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat: fs.StringLong("log-format", "text", "Log format: 'text' or 'json'"),

		strategies:  fs.StringLong("strategies", strings.Join(acquire.DefaultStrategies, ","), "Comma separated acquisition strategies, in order"),
		recognizer:  fs.StringLong("recognizer", "tesseract", "OCR engine: tesseract, gemini, ollama or none"),
		geminiKey:   fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:   fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)"),
		tesseract:   fs.StringLong("tesseract", "tesseract", "Tesseract binary"),
		ocrLang:     fs.StringLong("ocr-lang", "eng+fra", "Tesseract languages"),
		maxPages:    fs.IntLong("max-pages", 0, "Maximum pages read per document, 0 for all"),
		minText:     fs.IntLong("min-text", 10, "Minimum characters for a strategy to succeed"),
		retries:     fs.IntLong("retries", 3, "Attempts per strategy"),
		budget:      fs.DurationLong("budget", 2*time.Minute, "Time budget per document, 0 for none"),
		concurrency: fs.IntLong("concurrency", 4, "Documents extracted in parallel"),

		fuzzyThreshold: fs.Float64Long("fuzzy-threshold", business.DefaultResolverConfig().FuzzyThreshold, "Minimum similarity for a fuzzy business match"),
		policy:         fs.StringLong("policy", "keyword", "Total selection policy: 'keyword' or 'largest'"),
		monthFirst:     fs.BoolLong("month-first", "Read ambiguous numeric dates as month/day"),
		minTotal:       fs.StringLong("min-total", "0.01", "Smallest plausible invoice total"),
		maxTotal:       fs.StringLong("max-total", "1000000", "Largest plausible invoice total"),
	}
	_ = fs.BoolLong("version", "Show version information")

	root := &ff.Command{
		Name:      "invoice-extractor",
		Usage:     "invoice-extractor [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "extract company, total, date and number from invoices",
		Flags:     fs,
	}
	root.Subcommands = []*ff.Command{
		newServeCommand(fs, opts),
		newExtractCommand(fs, opts),
		newTextCommand(fs, opts),
		newBusinessCommand(fs, opts),
	}
	return root
}

func newServeCommand(parent *ff.FlagSet, opts *options) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		mapping  = fs.StringLong("mapping", "", "Business mapping file imported at startup (optional)")
	)
	return &ff.Command{
		Name:      "serve",
		Usage:     "invoice-extractor serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			setupLogger(opts)
			app, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			if *mapping != "" {
				m, err := business.LoadMappingFile(*mapping)
				if err != nil {
					return err
				}
				if err := app.registry.Import(ctx, m, false); err != nil {
					return fmt.Errorf("importing %s: %w", *mapping, err)
				}
			}

			basicAuth := invoice.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			}
			server := invoice.NewServer(app.service, app.registry, basicAuth)

			addr := fmt.Sprintf(":%d", *port)
			errc := make(chan error, 1)
			go func() {
				errc <- server.Start(addr)
			}()

			slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			select {
			case err := <-errc:
				return fmt.Errorf("server: %w", err)
			case <-ctx.Done():
				slog.Info("Shutting down...")
				return nil
			}
		},
	}
}

// batchOutput is one line of extract output
type batchOutput struct {
	Path    string                    `json:"path"`
	Invoice *invoice.ExtractedInvoice `json:"invoice,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

func newExtractCommand(parent *ff.FlagSet, opts *options) *ff.Command {
	fs := ff.NewFlagSet("extract").SetParent(parent)
	return &ff.Command{
		Name:      "extract",
		Usage:     "invoice-extractor extract [FLAGS] <FILE>...",
		ShortHelp: "extract invoices from files, one JSON object per line",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("extract requires at least one file")
			}
			setupLogger(opts)
			app, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			enc := json.NewEncoder(os.Stdout)
			failed := 0
			for _, r := range app.service.ExtractBatch(ctx, args) {
				out := batchOutput{Path: r.Path}
				if r.Err != nil {
					out.Error = r.Err.Error()
					failed++
				} else {
					inv := r.Invoice
					out.Invoice = &inv
				}
				if err := enc.Encode(out); err != nil {
					return fmt.Errorf("writing output: %w", err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
}

func newTextCommand(parent *ff.FlagSet, opts *options) *ff.Command {
	fs := ff.NewFlagSet("text").SetParent(parent)
	return &ff.Command{
		Name:      "text",
		Usage:     "invoice-extractor text [FLAGS] < invoice.txt",
		ShortHelp: "extract an invoice from text on stdin",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			setupLogger(opts)
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			app, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			return printJSON(app.service.ExtractText(string(data)))
		},
	}
}

func newBusinessCommand(parent *ff.FlagSet, opts *options) *ff.Command {
	fs := ff.NewFlagSet("business").SetParent(parent)
	cmd := &ff.Command{
		Name:      "business",
		Usage:     "invoice-extractor business <SUBCOMMAND> ...",
		ShortHelp: "manage the business registry",
		Flags:     fs,
	}

	// withRegistry opens the registry around a business subcommand
	withRegistry := func(run func(ctx context.Context, reg *business.Registry, args []string) error) func(context.Context, []string) error {
		return func(ctx context.Context, args []string) error {
			setupLogger(opts)
			app, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.Close()
			return run(ctx, app.registry, args)
		}
	}

	listFlags := ff.NewFlagSet("list").SetParent(fs)
	addFlags := ff.NewFlagSet("add").SetParent(fs)
	var (
		addName       = addFlags.StringLong("name", "", "Canonical business name")
		addExact      = addFlags.StringLong("exact", "", "Comma separated exact keywords")
		addVariant    = addFlags.StringLong("variant", "", "Comma separated variant keywords")
		addFuzzy      = addFlags.StringLong("fuzzy", "", "Comma separated fuzzy keywords")
		addIndicators = addFlags.StringLong("indicators", "", "Comma separated fuzzy match indicators")
	)
	removeFlags := ff.NewFlagSet("remove").SetParent(fs)
	keywordFlags := ff.NewFlagSet("keyword").SetParent(fs)
	var (
		kwTier   = keywordFlags.StringLong("tier", "exact", "Keyword tier: exact, variant or fuzzy")
		kwCase   = keywordFlags.BoolLong("case-sensitive", "Match the keyword case-sensitively")
		kwFuzzy  = keywordFlags.BoolLong("fuzzy-matching", "Also use the keyword as a fuzzy target")
		kwRemove = keywordFlags.BoolLong("remove", "Remove the keyword instead of adding it")
	)
	indicatorFlags := ff.NewFlagSet("indicators").SetParent(fs)
	importFlags := ff.NewFlagSet("import").SetParent(fs)
	importReplace := importFlags.BoolLong("replace", "Delete businesses missing from the mapping")
	exportFlags := ff.NewFlagSet("export").SetParent(fs)
	weightFlags := ff.NewFlagSet("weights").SetParent(fs)
	var (
		wExact   = weightFlags.Float64Long("exact", 0, "Exact tier confidence")
		wVariant = weightFlags.Float64Long("variant", 0, "Variant tier confidence")
		wFuzzy   = weightFlags.Float64Long("fuzzy", 0, "Fuzzy tier confidence")
	)

	cmd.Subcommands = []*ff.Command{
		{
			Name:      "list",
			Usage:     "invoice-extractor business list",
			ShortHelp: "print all businesses as JSON",
			Flags:     listFlags,
			Exec: withRegistry(func(ctx context.Context, reg *business.Registry, args []string) error {
				records, err := reg.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(records)
			}),
		},
		{
			Name:      "add",
			Usage:     "invoice-extractor business add --name NAME [--exact K1,K2] [--variant ...] [--fuzzy ...]",
			ShortHelp: "add a business",
			Flags:     addFlags,
			Exec: withRegistry(func(ctx context.Context, reg *business.Registry, args []string) error {
				rec := &business.Record{
					CanonicalName: *addName,
					Indicators:    splitList(*addIndicators),
				}
				tiers := []struct {
					tier business.Tier
					list string
				}{
					{business.TierExact, *addExact},
					{business.TierVariant, *addVariant},
					{business.TierFuzzy, *addFuzzy},
				}
				for _, t := range tiers {
					for _, text := range splitList(t.list) {
						rec.Keywords = append(rec.Keywords, business.Keyword{Text: text, Tier: t.tier})
					}
				}
				added, err := reg.Add(ctx, rec)
				if err != nil {
					return err
				}
				return printJSON(added)
			}),
		},
		{
			Name:      "remove",
			Usage:     "invoice-extractor business remove <ID>",
			ShortHelp: "remove a business",
			Flags:     removeFlags,
			Exec: withRegistry(func(ctx context.Context, reg *business.Registry, args []string) error {
				if len(args) != 1 {
					return errors.New("remove requires a business ID")
				}
				return reg.Remove(ctx, args[0])
			}),
		},
		{
			Name:      "keyword",
			Usage:     "invoice-extractor business keyword [--tier T] [--remove] <ID> <KEYWORD>",
			ShortHelp: "add or remove a keyword",
			Flags:     keywordFlags,
			Exec: withRegistry(func(ctx context.Context, reg *business.Registry, args []string) error {
				if len(args) != 2 {
					return errors.New("keyword requires a business ID and a keyword")
				}
				tier, err := business.ParseTier(*kwTier)
				if err != nil {
					return err
				}
				kw := business.Keyword{Text: args[1], Tier: tier, CaseSensitive: *kwCase, FuzzyMatching: *kwFuzzy}
				var rec *business.Record
				if *kwRemove {
					rec, err = reg.RemoveKeyword(ctx, args[0], kw)
				} else {
					rec, err = reg.AddKeyword(ctx, args[0], kw)
				}
				if err != nil {
					return err
				}
				return printJSON(rec)
			}),
		},
		{
			Name:      "indicators",
			Usage:     "invoice-extractor business indicators <ID> [INDICATOR]...",
			ShortHelp: "replace the fuzzy match indicators of a business",
			Flags:     indicatorFlags,
			Exec: withRegistry(func(ctx context.Context, reg *business.Registry, args []string) error {
				if len(args) < 1 {
					return errors.New("indicators requires a business ID")
				}
				rec, err := reg.SetIndicators(ctx, args[0], args[1:])
				if err != nil {
					return err
				}
				return printJSON(rec)
			}),
		},
		{
			Name:      "import",
			Usage:     "invoice-extractor business import [--replace] <FILE>",
			ShortHelp: "import a business mapping file",
			Flags:     importFlags,
			Exec: withRegistry(func(ctx context.Context, reg *business.Registry, args []string) error {
				if len(args) != 1 {
					return errors.New("import requires a mapping file")
				}
				m, err := business.LoadMappingFile(args[0])
				if err != nil {
					return err
				}
				return reg.Import(ctx, m, *importReplace)
			}),
		},
		{
			Name:      "export",
			Usage:     "invoice-extractor business export [FILE]",
			ShortHelp: "export the registry as a mapping, to FILE or stdout",
			Flags:     exportFlags,
			Exec: withRegistry(func(ctx context.Context, reg *business.Registry, args []string) error {
				m, err := reg.Export(ctx)
				if err != nil {
					return err
				}
				if len(args) == 0 {
					return printJSON(m)
				}
				return business.WriteMappingFile(args[0], m)
			}),
		},
		{
			Name:      "weights",
			Usage:     "invoice-extractor business weights [--exact W --variant W --fuzzy W]",
			ShortHelp: "show or set the tier confidence weights",
			Flags:     weightFlags,
			Exec: withRegistry(func(ctx context.Context, reg *business.Registry, args []string) error {
				w, err := reg.Weights(ctx)
				if err != nil {
					return err
				}
				if *wExact == 0 && *wVariant == 0 && *wFuzzy == 0 {
					return printJSON(w)
				}
				if *wExact != 0 {
					w.Exact = *wExact
				}
				if *wVariant != 0 {
					w.Variant = *wVariant
				}
				if *wFuzzy != 0 {
					w.Fuzzy = *wFuzzy
				}
				if err := reg.SetWeights(ctx, w); err != nil {
					return err
				}
				return printJSON(w)
			}),
		},
	}
	return cmd
}

// app is the wired set of components behind a command
type app struct {
	store      business.Store
	recognizer scanning.Recognizer
	registry   *business.Registry
	service    *invoice.Service
}

func openApp(ctx context.Context, opts *options) (*app, error) {
	store, err := openStore(*opts.storeKind, *opts.dbPath)
	if err != nil {
		return nil, err
	}
	a := &app{store: store}

	resolver := business.NewResolver(store, business.ResolverConfig{
		FuzzyThreshold: *opts.fuzzyThreshold,
		CacheSize:      business.DefaultResolverConfig().CacheSize,
	})
	if err := resolver.Rebuild(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("loading business registry: %w", err)
	}
	a.registry = business.NewRegistry(store, resolver)

	apiKey := *opts.geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if *opts.recognizer == "gemini" && apiKey == "" {
		a.Close()
		return nil, errors.New("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
	}
	slog.Debug("Initializing recognizer", "kind", *opts.recognizer)
	a.recognizer, err = scanning.New(scanning.Config{
		Kind:          *opts.recognizer,
		GeminiKey:     apiKey,
		GeminiModel:   *opts.geminiModel,
		OllamaURL:     *opts.ollamaURL,
		OllamaModel:   *opts.ollamaModel,
		Tesseract:     *opts.tesseract,
		TesseractLang: *opts.ocrLang,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing recognizer: %w", err)
	}

	pipeline, err := acquire.NewPipelineFromNames(acquire.Config{
		MinTextLength: *opts.minText,
		MaxRetries:    *opts.retries,
		RetryDelay:    500 * time.Millisecond,
	}, splitList(*opts.strategies), acquire.StrategyOptions{
		Recognizer: a.recognizer,
		MaxPages:   *opts.maxPages,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, ok := amount.PolicyByName(*opts.policy)
	if !ok {
		a.Close()
		return nil, fmt.Errorf("unknown total policy %q", *opts.policy)
	}
	window, err := parseWindow(*opts.minTotal, *opts.maxTotal)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service = invoice.NewService(pipeline, resolver, invoice.Config{
		Budget:      *opts.budget,
		Concurrency: *opts.concurrency,
		Policy:      policy,
		Window:      window,
		Dates:       dates.Config{MonthFirst: *opts.monthFirst},
	})
	slog.Debug("Pipeline ready", "strategies", pipeline.Strategies(), "policy", *opts.policy)
	return a, nil
}

// Close releases the store and the recognizer
func (a *app) Close() {
	if a.recognizer != nil {
		if err := a.recognizer.Close(); err != nil {
			slog.Warn("Failed to close recognizer", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
}

func openStore(kind, path string) (business.Store, error) {
	switch kind {
	case "bolt":
		return business.NewBoltStore(path)
	case "sqlite":
		return business.NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store %q: want bolt or sqlite", kind)
	}
}

func parseWindow(minRaw, maxRaw string) (amount.Window, error) {
	lo, err := amount.Normalize(minRaw)
	if err != nil {
		return amount.Window{}, fmt.Errorf("--min-total: %w", err)
	}
	hi, err := amount.Normalize(maxRaw)
	if err != nil {
		return amount.Window{}, fmt.Errorf("--max-total: %w", err)
	}
	if lo.GreaterThan(hi) {
		return amount.Window{}, fmt.Errorf("--min-total %s exceeds --max-total %s", lo, hi)
	}
	return amount.NewWindow(lo, hi), nil
}

func setupLogger(opts *options) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*opts.logLevel)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if *opts.logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
