package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/core"
	"github.com/shrek82/jconn/logger"
	"github.com/shrek82/jconn/middleware"
	"github.com/shrek82/jconn/pool"
)

var (
	configPath = flag.String("config", "", "path to the YAML database config (env overrides apply either way)")
	alias      = flag.String("alias", "", "check only this alias")
	timeout    = flag.Duration("timeout", 5*time.Second, "per-alias connect and probe timeout")
	slowQuery  = flag.Duration("slow", 0, "log probe statements slower than this (0 disables)")
	redisAddr  = flag.String("redis", "", "publish connection events to this redis server")
	logLevel   = flag.String("log-level", "warn", "log level (silent, error, warn, info)")
	jsonLog    = flag.Bool("json", false, "log in JSON")
	serveAddr  = flag.String("serve", "", "serve health endpoints on this address instead of checking once")
)

// Result is the outcome of checking one alias.
type Result struct {
	Alias   string        `json:"alias"`
	Vendor  string        `json:"vendor,omitempty"`
	Status  string        `json:"status"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Detail  string        `json:"detail,omitempty"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 2
	}

	l := logger.NewStdLogger()
	l.SetLevel(logger.ParseLevel(*logLevel))
	if *jsonLog {
		l.SetFormat(logger.LogFormatJSON)
	}

	opts := []core.Option{core.WithLogger(l)}
	if *redisAddr != "" {
		pub, err := middleware.NewRedisPublisher(&redis.Options{Addr: *redisAddr})
		if err != nil {
			log.Printf("failed to connect to redis: %v", err)
			return 2
		}
		defer pub.Close()
		pub.Log = l
		opts = append(opts, core.WithObserver(pub))
	}

	h := pool.New(cfg, opts...)
	defer h.CloseAll()

	aliases := h.Aliases()
	if *alias != "" {
		aliases = []string{*alias}
	}

	if *serveAddr != "" {
		if err := serve(*serveAddr, h, aliases, *logLevel == "info"); err != nil {
			log.Printf("server stopped: %v", err)
			return 1
		}
		return 0
	}

	results, failed := checkAll(context.Background(), h, aliases)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALIAS\tVENDOR\tSTATUS\tTIME\tDETAIL")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Alias, r.Vendor, r.Status, r.Elapsed.Round(time.Millisecond), r.Detail)
	}
	tw.Flush()

	if failed {
		return 1
	}
	return 0
}

func checkAll(ctx context.Context, h *pool.Handler, aliases []string) ([]Result, bool) {
	results := make([]Result, 0, len(aliases))
	failed := false
	for _, a := range aliases {
		r := check(ctx, h, a)
		if r.Status != "ok" {
			failed = true
		}
		results = append(results, r)
	}
	return results, failed
}

func check(ctx context.Context, h *pool.Handler, alias string) Result {
	r := Result{Alias: alias, Status: "error"}
	start := time.Now()
	fail := func(err error) Result {
		r.Detail = err.Error()
		r.Elapsed = time.Since(start)
		return r
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	w, err := h.Get(alias)
	if err != nil {
		return fail(err)
	}
	r.Vendor = w.Vendor()

	if *slowQuery > 0 {
		if err := w.Use(middleware.NewTracing(), middleware.NewSlowLog(*slowQuery, "")); err != nil {
			return fail(err)
		}
	}

	if err := w.EnsureConnection(ctx); err != nil {
		return fail(err)
	}
	if !w.IsUsable(ctx) {
		r.Status = "unusable"
		r.Detail = "health probe failed"
		r.Elapsed = time.Since(start)
		return r
	}

	c, err := w.Cursor(ctx)
	if err != nil {
		return fail(err)
	}
	defer c.Close()
	var one int
	if err := c.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fail(err)
	}

	r.Status = "ok"
	r.Detail = fmt.Sprintf("autocommit=%v timezone=%s", w.Settings().Autocommit, w.TimezoneName())
	if at, ok := w.CloseAt(); ok {
		r.Detail += fmt.Sprintf(" expires=%s", at.Format(time.RFC3339))
	}
	r.Elapsed = time.Since(start)
	return r
}
