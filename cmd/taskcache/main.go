// taskcache is an interactive shell over the task server that keeps the
// signed-in profile and the viewed task pages in a stale-while-revalidate cache.
//
// Usage:
//
//	taskcache [flags]
//
// Flags:
//
//	-c, --config        Config file (default ~/.config/taskcache/config.toml)
//	    --base-url      Task server URL
//	-u, --user          Username to sign in as on start
//	    --fake          Use an in-memory server with a demo account (demo/demo)
//	    --log-level     debug, info, warn or error
//	    --page-size     Tasks per page
//	    --stale-after   Skip revalidation of data younger than this
//	    --retention     Keep evicted entries in bigcache, ristretto or redis
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/unkn0wn-root/swrcache/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("taskcache", flag.ContinueOnError)
	var (
		cfgPath    = fs.StringP("config", "c", "", "config file")
		baseURL    = fs.String("base-url", "", "task server URL")
		user       = fs.StringP("user", "u", "", "username to sign in as on start")
		fake       = fs.Bool("fake", false, "use an in-memory server with a demo account (demo/demo)")
		logLevel   = fs.String("log-level", "", "debug, info, warn or error")
		pageSize   = fs.Int("page-size", 0, "tasks per page")
		staleAfter = fs.Duration("stale-after", -1, "skip revalidation of data younger than this")
		retention  = fs.String("retention", "", "keep evicted entries in bigcache, ristretto or redis")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *user != "" {
		cfg.Username = *user
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *pageSize != 0 {
		cfg.PageSize = *pageSize
	}
	if *staleAfter >= 0 {
		cfg.StaleAfter = *staleAfter
	}
	if *retention != "" {
		cfg.Retention.Provider = *retention
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, *fake)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}()

	if err := newREPL(app, cfg).Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
