package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/config"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway/methods"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
	"github.com/nextlevelbuilder/a11ylens/internal/session"
	"github.com/nextlevelbuilder/a11ylens/pkg/browser"
)

type inspectOptions struct {
	headless  bool
	remote    string
	port      int
	noReload  bool
	startWith []string
}

func inspectCmd() *cobra.Command {
	var opts inspectOptions
	cmd := &cobra.Command{
		Use:   "inspect <url>",
		Short: "Open a page in Chrome and serve its inspection session to panels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], cmd.Flags().Changed("headless"), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "run Chrome without a window")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "attach to a running Chrome (ws:// or http:// DevTools URL)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "gateway port (overrides gateway.port)")
	cmd.Flags().BoolVar(&opts.noReload, "no-reload", false, "do not watch the config file")
	cmd.Flags().StringSliceVar(&opts.startWith, "start", nil, "components to start immediately: inspector, focus-order")
	return cmd
}

func runInspect(url string, headlessSet bool, opts inspectOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if headlessSet {
		cfg.Browser.Headless = opts.headless
	}
	if opts.remote != "" {
		cfg.Browser.RemoteURL = opts.remote
	}
	if opts.port > 0 {
		cfg.Gateway.Port = opts.port
	}
	cfgPath := resolveConfigPath()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initOTelExporter(ctx, cfg)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(sctx)
	}()

	mgr := browser.New(
		browser.WithHeadless(cfg.Browser.Headless),
		browser.WithBin(cfg.Browser.Bin),
		browser.WithRemoteURL(cfg.Browser.RemoteURL),
		browser.WithUserDataDir(config.ExpandHome(cfg.Browser.UserDataDir)),
		browser.WithWindowSize(cfg.Browser.Width, cfg.Browser.Height),
	)
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	page, err := mgr.Open(ctx, url)
	if err != nil {
		return err
	}

	loop := scheduler.NewLoop("page")
	defer loop.Stop()
	win, err := page.Window(loop)
	if err != nil {
		return err
	}
	defer win.Close()

	tabID := page.TargetID()
	srv := gateway.NewServer(cfg.Gateway,
		gateway.WithTabID(tabID),
		gateway.WithStatus(func() map[string]any {
			return map[string]any{"browser": mgr.Status(), "url": page.URL()}
		}),
	)

	sess, err := session.New(cfg, page, win,
		session.Surfaces{Overlay: page.Overlay(), Canvas: page.FocusCanvas()},
		srv,
		session.WithScheduler(loop),
		session.WithTabID(tabID),
		session.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sess.Close(cctx); err != nil {
			slog.Warn("inspect.session_close_failed", "error", err)
		}
	}()

	cfgMethods := methods.NewConfigMethods(cfg, cfgPath)
	router := srv.Router()
	methods.NewBusMethods(sess).Register(router)
	methods.NewElementMethods(sess, page).Register(router)
	methods.NewPageMethods(sess).Register(router)
	methods.NewAXMethods(page).Register(router)
	cfgMethods.Register(router)

	if err := sess.Start(ctx); err != nil {
		return err
	}
	if err := startComponents(ctx, sess, opts.startWith); err != nil {
		return err
	}

	if !opts.noReload {
		if w := watchConfig(cfgPath, sess, cfgMethods); w != nil {
			defer w.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if stopTS := initTailscale(gctx, cfg, srv.Handler()); stopTS != nil {
		defer stopTS()
	}

	fmt.Printf("Inspecting %s\n", page.URL())
	fmt.Printf("Gateway:   %s\n", cfg.Gateway.URL())
	fmt.Println("Open a panel with `a11ylens panel`. Press Ctrl+C to stop.")

	return g.Wait()
}

// watchConfig re-applies reloadable settings when the config file changes.
// A missing config directory disables reloading.
func watchConfig(path string, sess *session.Session, cfgMethods *methods.ConfigMethods) *config.Watcher {
	w, err := config.NewWatcher(path)
	if err != nil {
		slog.Warn("inspect.config_watch_failed", "error", err)
		return nil
	}
	w.OnChange(func(cfg *config.Config) {
		cfg.ResolveToken()
		sess.ApplyConfig(cfg)
		cfgMethods.Set(cfg)
	})
	if err := w.Start(); err != nil {
		slog.Debug("inspect.config_watch_disabled", "path", path, "error", err)
		w.Stop()
		return nil
	}
	return w
}

// startComponents publishes start commands on the page bus for each named
// component.
func startComponents(ctx context.Context, sess *session.Session, names []string) error {
	for _, name := range names {
		var data bus.Payload
		switch name {
		case "inspector":
			data = bus.InspectorCommand{Command: bus.InspectorStart}
		case "focus-order", "focus":
			data = bus.FocusOrderCommand{Command: bus.FocusOrderStart}
		default:
			return fmt.Errorf("unknown component %q (want inspector or focus-order)", name)
		}
		if _, err := sess.Publish(ctx, bus.Event{Data: data}); err != nil {
			return err
		}
	}
	return nil
}
