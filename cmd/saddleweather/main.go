package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/lox/saddleweather/internal/advisor"
	"github.com/lox/saddleweather/internal/api"
	"github.com/lox/saddleweather/internal/forecast"
	"github.com/lox/saddleweather/internal/httputil"
	"github.com/lox/saddleweather/internal/ingest"
	"github.com/lox/saddleweather/internal/logger"
	"github.com/lox/saddleweather/internal/store"
)

type Globals struct {
	DB          string        `help:"Path to SQLite database." default:"data/saddleweather.db" env:"SADDLEWEATHER_DB"`
	LogMode     string        `help:"Log format." enum:"dev,prod" default:"dev" env:"LOG_MODE"`
	ForecastURL string        `help:"Open-Meteo forecast endpoint." default:"${open_meteo_url}" env:"OPEN_METEO_URL"`
	ForecastTTL time.Duration `help:"How long a fetched forecast is reused." default:"15m" env:"FORECAST_TTL"`
	HTTPTimeout time.Duration `help:"Timeout for forecast requests." default:"30s" env:"HTTP_TIMEOUT"`
}

type CLI struct {
	Globals

	Serve ServeCmd `cmd:"" default:"withargs" help:"Serve the HTTP API and run background jobs."`
	Score ScoreCmd `cmd:"" help:"Score the forecast once, store snapshots and print the result."`
	Tune  TuneCmd  `cmd:"" help:"Run the drying-rate tuner once."`
	Prune PruneCmd `cmd:"" help:"Delete snapshots older than the retention window."`
}

// app holds everything a command needs, built from the global flags.
type app struct {
	db      *sql.DB
	log     *logger.Logger
	store   *store.Store
	cache   *ingest.CachedSource
	advisor *advisor.Advisor
	tuner   *forecast.Tuner
}

func (g *Globals) open() (*app, error) {
	log, err := logger.New(g.LogMode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	if dir := filepath.Dir(g.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := "file:" + g.DB + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	st := store.New(db, log)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("database migrated", "path", g.DB)

	om := ingest.NewOpenMeteo(g.ForecastURL, httputil.NewClient(g.HTTPTimeout), log)
	om.SetRecorder(st)
	cache := ingest.NewCachedSource(om, g.ForecastTTL)

	return &app{
		db:      db,
		log:     log,
		store:   st,
		cache:   cache,
		advisor: advisor.New(st, cache, log),
		tuner:   forecast.NewTuner(st, log),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.log.Sync()
}

type ServeCmd struct {
	Port            string        `help:"HTTP server port." default:"8080" env:"PORT"`
	NoJobs          bool          `help:"Disable background refresh, tuning and pruning (server only, for local dev)."`
	RefreshInterval time.Duration `help:"How often snapshots are refreshed." default:"30m" env:"REFRESH_INTERVAL"`
	JobsAt          string        `help:"Local time for the daily tune and prune." default:"03:00" env:"JOBS_AT"`
	Timezone        string        `help:"Zone the daily job time is read in." default:"UTC" env:"FARM_TZ"`
	RetentionDays   int           `help:"Days of snapshots to keep." default:"90" env:"SNAPSHOT_RETENTION_DAYS"`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		a.log.Warn("could not load timezone, using UTC", "timezone", c.Timezone, "error", err)
		loc = time.UTC
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoJobs {
		scheduler := ingest.NewScheduler(ingest.SchedulerConfig{
			RefreshInterval: c.RefreshInterval,
			DailyAt:         c.JobsAt,
			RetentionDays:   c.RetentionDays,
			Location:        loc,
		}, a.advisor, a.tuner, a.store, a.log)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer scheduler.Stop()
	} else {
		a.log.Info("background jobs disabled (--no-jobs)")
	}

	server := api.NewServer(a.store, a.advisor, a.tuner, a.cache, c.Port, a.log)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	a.log.Info("shut down")
	return nil
}

type ScoreCmd struct {
	TZOffset string `name:"tz-offset" help:"UTC offset in minutes for localising hours; defaults to the forecast's own zone."`
}

func (c *ScoreCmd) Run(g *Globals) error {
	var loc *time.Location
	if c.TZOffset != "" {
		minutes, err := strconv.Atoi(c.TZOffset)
		if err != nil {
			return fmt.Errorf("tz-offset: %w", err)
		}
		loc = time.FixedZone("", minutes*60)
	}

	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), g.HTTPTimeout+5*time.Second)
	defer cancel()

	result, err := a.advisor.Run(ctx, loc)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

type TuneCmd struct{}

func (c *TuneCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.tuner.CheckAndTune()
	if err != nil {
		return err
	}
	if result.Adjusted {
		fmt.Printf("drying rate %.0f -> %.0f h/in: %s\n", result.OldRate, result.NewRate, result.Reason)
	} else {
		fmt.Printf("no adjustment: %s\n", result.Reason)
	}
	return nil
}

type PruneCmd struct {
	RetentionDays int `help:"Days of snapshots to keep." default:"90" env:"SNAPSHOT_RETENTION_DAYS"`
}

func (c *PruneCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.store.PruneSnapshots(c.RetentionDays, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d snapshots older than %d days\n", deleted, c.RetentionDays)
	return nil
}

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("saddleweather"),
		kong.Description("Riding-weather advisor: day scores, footing moisture and a self-tuning drying rate."),
		kong.UsageOnError(),
		kong.Vars{"open_meteo_url": ingest.OpenMeteoURL},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
