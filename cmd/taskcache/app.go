package main

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/api"
	"github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/genstore"
	asynchook "github.com/unkn0wn-root/swrcache/hooks/async"
	"github.com/unkn0wn-root/swrcache/internal/config"
	"github.com/unkn0wn-root/swrcache/internal/fakeapi"
	logruslog "github.com/unkn0wn-root/swrcache/log/logrus"
	slogadapter "github.com/unkn0wn-root/swrcache/log/slog"
	zaplog "github.com/unkn0wn-root/swrcache/log/zap"
	"github.com/unkn0wn-root/swrcache/model"
	"github.com/unkn0wn-root/swrcache/provider"
	"github.com/unkn0wn-root/swrcache/provider/bigcache"
	"github.com/unkn0wn-root/swrcache/provider/redis"
	"github.com/unkn0wn-root/swrcache/provider/ristretto"
	"github.com/unkn0wn-root/swrcache/resource"
	"github.com/unkn0wn-root/swrcache/sloghooks"
	"github.com/unkn0wn-root/swrcache/transport/httpapi"
)

const (
	namespace    = "taskcache"
	genRedisTTL  = 24 * time.Hour
	demoUser     = "demo"
	demoPassword = "demo"
)

// loginer starts a session; both the HTTP client and the fake connection can.
type loginer interface {
	Login(ctx context.Context, username, password string) error
}

type app struct {
	store   *swrcache.Store
	client  api.Client
	login   loginer
	opts    []resource.Option
	timeout time.Duration

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, fake bool) (*app, error) {
	a := &app{timeout: cfg.RequestTimeout}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	logger, hookLog, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	hooks := asynchook.New(sloghooks.New(hookLog, sloghooks.Options{FetchEvery: 1, SelfHealEvery: 1}), 1, 1024)
	a.closers = append(a.closers, func(context.Context) error { hooks.Close(); return nil })

	opts := swrcache.Options{
		Namespace:  namespace,
		Logger:     logger,
		Hooks:      hooks,
		StaleAfter: cfg.StaleAfter,
	}
	if err := a.configureRetention(ctx, cfg.Retention, &opts); err != nil {
		return nil, err
	}

	store, err := swrcache.New(opts)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if fake {
		srv := fakeapi.New()
		if _, err := srv.SignUp(demoUser, "Demo User", demoPassword); err != nil {
			return nil, err
		}
		conn, err := srv.Connect(ctx, demoUser, demoPassword)
		if err != nil {
			return nil, err
		}
		seedDemo(ctx, conn)
		a.client, a.login = conn, conn
	} else {
		c, err := httpapi.NewClient(httpapi.Config{BaseURL: cfg.BaseURL, Timeout: cfg.RequestTimeout})
		if err != nil {
			return nil, err
		}
		a.client, a.login = c, c
	}

	a.opts = append(a.opts, resource.WithPageSize(cfg.PageSize))
	ok = true
	return a, nil
}

// configureRetention wires the optional retention provider and the generation store.
func (a *app) configureRetention(ctx context.Context, rc config.Retention, opts *swrcache.Options) error {
	var shared goredis.UniversalClient
	if rc.Provider != "" {
		p, err := newProvider(ctx, rc)
		if err != nil {
			return fmt.Errorf("retention provider: %w", err)
		}
		opts.Provider = p
		opts.RetentionTTL = rc.TTL
		if r, ok := p.(*redis.Redis); ok {
			shared = r.Client()
		}

		pc, err := codec.ByName[model.UserProfile](rc.Codec)
		if err != nil {
			return err
		}
		tc, err := codec.ByName[model.TaskListPage](rc.Codec)
		if err != nil {
			return err
		}
		a.opts = append(a.opts, resource.WithProfileCodec(pc), resource.WithPageCodec(tc))
	}

	if rc.GenStore == "redis" {
		if shared == nil {
			c := goredis.NewClient(&goredis.Options{Addr: rc.RedisAddr})
			if err := c.Ping(ctx).Err(); err != nil {
				_ = c.Close()
				return fmt.Errorf("gen store: %w", err)
			}
			a.closers = append(a.closers, func(context.Context) error { return c.Close() })
			shared = c
		}
		opts.GenStore = genstore.NewRedis(shared, namespace, genRedisTTL)
	}
	return nil
}

func newProvider(ctx context.Context, rc config.Retention) (provider.Provider, error) {
	switch rc.Provider {
	case "bigcache":
		return bigcache.New(ctx, bigcache.Config{LifeWindow: rc.TTL, HardMaxCacheSizeMB: rc.MaxMB})
	case "ristretto":
		budget := int64(rc.MaxMB) << 20
		return ristretto.New(ristretto.Config{NumCounters: 10_000, MaxCost: budget, BufferItems: 64})
	case "redis":
		return redis.Dial(ctx, rc.RedisAddr, namespace+":")
	default:
		return nil, fmt.Errorf("unknown provider %q", rc.Provider)
	}
}

// newLogger returns the store logger and the slog logger used for hook events.
func newLogger(cfg config.Log) (swrcache.Logger, *stdslog.Logger, error) {
	var lvl stdslog.LevelVar
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	hookLog := stdslog.New(stdslog.NewTextHandler(os.Stderr, &stdslog.HandlerOptions{Level: &lvl}))

	switch cfg.Backend {
	case "zap":
		zl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		zc := zap.NewDevelopmentConfig()
		zc.Level = zl
		zc.DisableStacktrace = true
		l, err := zc.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("build zap logger: %w", err)
		}
		return zaplog.ZapLogger{L: l}, hookLog, nil
	case "logrus":
		ll, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(ll)
		return logruslog.LogrusLogger{E: logrus.NewEntry(l)}, hookLog, nil
	case "slog":
		return slogadapter.Logger{L: hookLog}, hookLog, nil
	default:
		return nil, nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}
}

func seedDemo(ctx context.Context, c api.Tasks) {
	for _, t := range []model.NewTask{
		{Title: "Buy milk", State: model.StateTodo, Priority: model.PriorityHigh},
		{Title: "Write report", Description: "quarterly numbers", State: model.StateInProgress},
		{Title: "Learn Go generics", State: model.StateIcebox, Priority: model.PriorityLow},
		{Title: "File taxes", State: model.StateDone},
	} {
		_, _ = c.CreateTask(ctx, t)
	}
}

// Close releases everything newApp opened, newest first.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// callCtx bounds a single shell command.
func (a *app) callCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, a.timeout)
}
