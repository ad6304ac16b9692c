package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"xwatch/internal/analytics"
	"xwatch/internal/browser"
	"xwatch/internal/cmdlog"
	"xwatch/internal/config"
	"xwatch/internal/fetch"
	"xwatch/internal/jobs"
	"xwatch/internal/logging"
	"xwatch/internal/notify"
	"xwatch/internal/query"
	"xwatch/internal/ratelimit"
	"xwatch/internal/schedule"
	"xwatch/internal/server"
	"xwatch/internal/store"
	"xwatch/internal/store/pgstore"
	"xwatch/internal/store/sqlitestore"
	"xwatch/internal/theme"
	"xwatch/internal/xclient"
)

const defaultConfigPath = "./xwatch.yaml"

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	var args []string
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	var run func([]string) error
	switch cmd {
	case "init":
		run = cmdInit
	case "run":
		run = cmdRun
	case "serve":
		run = cmdServe
	case "stats":
		run = cmdStats
	case "simplify":
		run = cmdSimplify
	case "prune":
		run = cmdPrune
	default:
		printHelp()
		return
	}
	if err := cmdlog.Run(cmd, func() error { return run(args) }); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: xwatch <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init        Create a config file at ./xwatch.yaml")
	fmt.Println("  run         Run the pipeline once and print the summary")
	fmt.Println("  serve       Run on a schedule and expose /health, /metrics, /status, /run")
	fmt.Println("  stats       Show delivery counters, hourly buckets and top authors")
	fmt.Println("  simplify    Show how search expressions are simplified")
	fmt.Println("  prune       Delete delivery records older than N days")
}

func loadConfig(path string) (config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	logging.SetLevel(cfg.Logging.Level)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", defaultConfigPath, "path to write config")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)
	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force)", *path)
	}
	if err := config.Save(*path, config.Default()); err != nil {
		return err
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
	return nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	_ = fs.Parse(args)
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, runErr := a.pipeline.Run(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sum)
	return runErr
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	addr := fs.String("addr", "", "listen address (default from config)")
	noSchedule := fs.Bool("no-schedule", false, "only run on POST /run")
	_ = fs.Parse(args)
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	ctx, cancel := signalContext()
	defer cancel()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.limiter.StartCleanup(ctx, time.Minute)

	schedDone := make(chan struct{})
	if *noSchedule {
		close(schedDone)
	} else {
		loc := time.UTC
		if cfg.Schedule.Timezone != "" {
			if l, err := time.LoadLocation(cfg.Schedule.Timezone); err == nil {
				loc = l
			}
		}
		sched := &schedule.Scheduler{
			Runner:     a.pipeline,
			Interval:   cfg.Interval(),
			QuietHours: cfg.Schedule.QuietHours,
			Location:   loc,
			Retention:  time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
			Store:      a.store,
		}
		go func() {
			defer close(schedDone)
			_ = sched.Run(ctx)
		}()
	}

	srv := server.New(ctx, a.pipeline, a.store, a.limiter)
	err = srv.ListenAndServe(ctx, cfg.Server.Addr)
	// the store and browser close only after in-flight runs return
	cancel()
	<-schedDone
	srv.Wait()
	return err
}

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	days := fs.Int("days", 1, "window for hourly buckets and top authors")
	top := fs.Int("top", 10, "number of authors to list")
	asJSON := fs.Bool("json", false, "print JSON")
	_ = fs.Parse(args)
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	ds, err := st.Deliveries(ctx, time.Now().Add(-time.Duration(*days)*24*time.Hour))
	if err != nil {
		return err
	}
	hourly := analytics.HourlyDeliveries(ds)
	authors := analytics.TopAuthors(ds, *top)

	if *asJSON {
		buckets := make(map[string]map[string]int, len(hourly))
		for k, v := range hourly {
			buckets[k.Format(time.RFC3339)] = v
		}
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"stats": stats, "hourly": buckets, "top_authors": authors,
		})
	}
	fmt.Printf("Records: %d  delivered today: %d  delivered total: %d  synthetic: %d\n",
		stats.TotalRecords, stats.DeliveredToday, stats.DeliveredTotal, stats.Synthetic)
	for src, n := range stats.BySource {
		fmt.Printf("  %-16s %d\n", src, n)
	}
	if !stats.LastDeliveredAt.IsZero() {
		fmt.Println("Last delivery:", stats.LastDeliveredAt.Format(time.RFC3339))
	}
	for _, k := range analytics.SortedBucketKeys(hourly) {
		fmt.Printf("%s -> %v\n", k.Format("2006-01-02 15:00"), hourly[k])
	}
	for _, a := range authors {
		fmt.Printf("@%s %d\n", a.Author, a.Count)
	}
	return nil
}

func cmdSimplify(args []string) error {
	fs := flag.NewFlagSet("simplify", flag.ExitOnError)
	maxTerms := fs.Int("max", query.DefaultMaxTerms, "maximum terms kept")
	_ = fs.Parse(args)
	exprs := fs.Args()
	if len(exprs) == 0 {
		for _, q := range query.Builtin() {
			exprs = append(exprs, q.Expression())
		}
	}
	for _, e := range exprs {
		fmt.Printf("%s\n  -> %s\n", e, query.Simplify(e, *maxTerms))
	}
	return nil
}

func cmdPrune(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	days := fs.Int("days", 0, "keep this many days (default storage.retentionDays)")
	_ = fs.Parse(args)
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	keep := *days
	if keep <= 0 {
		keep = cfg.Storage.RetentionDays
	}
	if keep <= 0 {
		return errors.New("prune needs -days or storage.retentionDays")
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	n, err := st.Prune(ctx, time.Now().Add(-time.Duration(keep)*24*time.Hour))
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d delivery records older than %d days\n", n, keep)
	return nil
}

type app struct {
	store    store.Store
	limiter  *ratelimit.Limiter
	pipeline *jobs.Pipeline
}

// Close releases the pipeline resources, then the store.
func (a *app) Close() {
	if err := a.pipeline.Close(); err != nil {
		logging.Warn("pipeline_close_failed", map[string]any{"error": err})
	}
	if err := a.store.Close(); err != nil {
		logging.Warn("store_close_failed", map[string]any{"error": err})
	}
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	n, err := buildNotifier(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	limiter := ratelimit.New(cfg.Limits())
	f, closer := buildFetcher(cfg, limiter)

	p := jobs.New(cfg.AllQueries(), f, st, n, limiter, jobs.Options{
		InterQueryDelay:    cfg.InterQuery(),
		InterDeliveryDelay: cfg.InterDelivery(),
		ContinueOnError:    cfg.Delivery.ContinueOnError,
		AbortOnSoftFail:    cfg.Delivery.AbortOnSoftFail,
		MaxTerms:           cfg.Fetch.MaxTerms,
	})
	p.OnClose(closer)
	if cfg.SheetsEnabled() {
		s, err := notify.NewSheets(ctx, cfg.Notify.Sheets.Credentials, cfg.Notify.Sheets.SpreadsheetID, cfg.Notify.Sheets.Range, cfg.Timeout())
		if err != nil {
			// secondary logger; the run goes on without it
			logging.Warn("sheets_disabled", map[string]any{"error": err})
		} else {
			p.AddLogger(s)
		}
	}
	if cfg.NotionEnabled() {
		p.AddLogger(notify.NewNotion(cfg.Notify.Notion.Token, cfg.Notify.Notion.DatabaseID, cfg.Timeout()))
	}
	logging.Info("pipeline_ready", map[string]any{
		"queries": len(cfg.AllQueries()), "strategies": strings.Join(f.Strategies(), ","),
		"storage": cfg.StorageDriver(),
	})
	return &app{store: st, limiter: limiter, pipeline: p}, nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.StorageDriver() == "postgres" {
		s, err := pgstore.Open(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	}
	db, err := sqlitestore.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Storage.DBPath, err)
	}
	return db, nil
}

func buildNotifier(cfg config.Config) (notify.Notifier, error) {
	if cfg.TelegramEnabled() {
		t := cfg.Notify.Telegram
		tg, err := notify.NewTelegram(t.BotToken, t.ChatID, t.Endpoint, cfg.Timeout())
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		return tg, nil
	}
	return notify.NewWebhook(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Secret, cfg.Timeout()), nil
}

// buildFetcher returns the fetcher and the browser session to close, if any.
func buildFetcher(cfg config.Config, limiter fetch.Waiter) (*fetch.Fetcher, io.Closer) {
	var browserS, proxyS fetch.Strategy
	var closer io.Closer
	if cfg.Fetch.Browser.Enabled && !cfg.Fetch.UseProxy {
		b := cfg.Fetch.Browser
		sess := browser.NewSession(browser.Config{RemoteURL: b.RemoteURL, Headless: b.Headless, Bin: b.Bin})
		browserS = &fetch.BrowserStrategy{Renderer: sess}
		closer = sess
	}
	if cfg.Fetch.ProxyURL != "" {
		proxyS = &fetch.ProxyStrategy{
			Client:   xclient.NewProxyClient(cfg.Fetch.ProxyURL),
			RSS:      cfg.Fetch.ProxyRSS,
			MaxTerms: cfg.Fetch.MaxTerms,
		}
	}
	synth := &fetch.SyntheticStrategy{Count: cfg.Fetch.SyntheticCount, MaxTerms: cfg.Fetch.MaxTerms}
	f := fetch.New(fetch.Options{
		UseProxy:          cfg.Fetch.UseProxy,
		SyntheticFallback: cfg.Fetch.SyntheticFallback,
		MaxRetries:        cfg.Fetch.MaxRetries,
		BaseDelay:         cfg.BaseDelay(),
	}, browserS, proxyS, synth, limiter)
	return f, closer
}
