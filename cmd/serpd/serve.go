package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/serpd/internal/api"
	"github.com/FranksOps/serpd/internal/browser"
	"github.com/FranksOps/serpd/internal/browser/chrome"
	"github.com/FranksOps/serpd/internal/browser/httpdriver"
	"github.com/FranksOps/serpd/internal/config"
	"github.com/FranksOps/serpd/internal/fingerprint"
	"github.com/FranksOps/serpd/internal/logging"
	"github.com/FranksOps/serpd/internal/metrics"
	"github.com/FranksOps/serpd/internal/search"
	"github.com/FranksOps/serpd/internal/serp"
	"github.com/FranksOps/serpd/internal/storage"
	"github.com/FranksOps/serpd/internal/storage/open"
	"github.com/FranksOps/serpd/pkg/jitter"
	"github.com/FranksOps/serpd/pkg/proxy"
	"github.com/FranksOps/serpd/pkg/useragent"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the search API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	f := cmd.Flags()
	f.Int("port", 3000, "API listen port")
	f.String("static-dir", "public", "directory served at /")
	f.Int("metrics-port", 0, "Prometheus listen port, 0 disables")
	f.String("driver", "chrome", "browser driver: chrome or http")
	_ = root.v.BindPFlag("port", f.Lookup("port"))
	_ = root.v.BindPFlag("static_dir", f.Lookup("static-dir"))
	_ = root.v.BindPFlag("metrics_port", f.Lookup("metrics-port"))
	_ = root.v.BindPFlag("search.driver", f.Lookup("driver"))
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var store storage.Backend
	if cfg.Storage != "" {
		s, err := open.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	svc, err := buildService(cfg, store, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("serve: listen: %w", err)
	}

	var m *metrics.Server
	if cfg.MetricsPort > 0 {
		if m, err = metrics.Start(cfg.MetricsPort, logger); err != nil {
			ln.Close()
			return err
		}
	}

	apiCfg := api.DefaultConfig()
	apiCfg.StaticDir = cfg.StaticDir
	srv := api.NewServer(svc, apiCfg, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx, ln) })
	g.Go(func() error {
		<-ctx.Done()
		return m.Stop(context.WithoutCancel(ctx))
	})

	logger.Info("serpd started",
		"port", cfg.Port,
		"driver", svc.Driver(),
		"metrics_port", cfg.MetricsPort,
		"storage", cfg.Storage != "",
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("serpd stopped")
	return nil
}

// buildService wires the search service from cfg. store may be nil.
func buildService(cfg *config.Config, store storage.Backend, logger *slog.Logger) (*search.Service, error) {
	launcher, err := buildLauncher(cfg, logger)
	if err != nil {
		return nil, err
	}

	rules := serp.DefaultRules()
	if cfg.Search.RulesFile != "" {
		if rules, err = serp.LoadRules(cfg.Search.RulesFile); err != nil {
			return nil, err
		}
	}

	mode, err := useragent.ParseMode(cfg.Search.UserAgentMode)
	if err != nil {
		return nil, err
	}

	var proxies *proxy.Pool
	if cfg.Proxy.File != "" {
		proxies = proxy.NewPool(cfg.Proxy.Config)
		if err := proxies.LoadFile(cfg.Proxy.File); err != nil {
			return nil, err
		}
		logger.Info("proxy pool loaded", "proxies", proxies.Len())
	}

	sc := search.DefaultConfig()
	sc.Launcher = launcher
	sc.Rules = rules
	sc.HomeURL = cfg.Search.HomeURL
	sc.ScreenshotPath = cfg.Search.ScreenshotPath
	sc.NavigationTimeout = cfg.Search.NavigationTimeout
	sc.InputTimeout = cfg.Search.InputTimeout
	sc.ResultsTimeout = cfg.Search.ResultsTimeout
	sc.UAPool = useragent.NewPool(cfg.Search.UserAgents, mode)
	sc.ProxyPool = proxies
	sc.Rand = jitter.NewSource(cfg.Search.JitterSeed)
	sc.Store = store
	if !cfg.Search.HumanDelays {
		sc.Jitter = jitter.ZeroPolicy()
	}

	return search.NewService(sc, logger)
}

func buildLauncher(cfg *config.Config, logger *slog.Logger) (browser.Launcher, error) {
	switch cfg.Search.Driver {
	case "chrome":
		return chrome.New(chrome.Config{
			ExecPath:      cfg.Chrome.ExecPath,
			Headless:      cfg.Chrome.Headless,
			ActionTimeout: cfg.Chrome.ActionTimeout,
		}, logger), nil
	case "http":
		profile, err := fingerprint.ParseProfile(cfg.HTTP.Fingerprint)
		if err != nil {
			return nil, err
		}
		return httpdriver.New(httpdriver.Config{
			Fingerprint: profile,
			Timeout:     cfg.HTTP.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("serve: unknown driver %q", cfg.Search.Driver)
	}
}
