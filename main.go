package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/doridoridoriand/classwatch/internal/cli"
	"github.com/doridoridoriand/classwatch/internal/config"
	"github.com/doridoridoriand/classwatch/internal/display"
	"github.com/doridoridoriand/classwatch/internal/feed"
	"github.com/doridoridoriand/classwatch/internal/log"
	"github.com/doridoridoriand/classwatch/internal/metrics"
	"github.com/doridoridoriand/classwatch/internal/roster"
	"github.com/doridoridoriand/classwatch/internal/scheduler"
	"github.com/doridoridoriand/classwatch/internal/state"
	"github.com/doridoridoriand/classwatch/internal/ui"
	"github.com/doridoridoriand/classwatch/internal/ws"
)

const version = "0.1.0"

type options struct {
	configPath  string
	overrides   config.CLIOverrides
	listClasses string
	showVersion bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(1)
	}

	if opts.showVersion {
		fmt.Fprintf(os.Stdout, "classwatch version %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "classwatch: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("classwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		flagInterval       = cli.NewDuration()
		flagTimeout        = cli.NewDuration()
		flagMaxConcurrency = cli.NewInt()
		flagClass          = cli.NewString()
		flagMetricsListen  = cli.NewString()
		flagWSListen       = cli.NewString()
		flagLogLevel       = cli.NewString()
		flagNoUI           = cli.NewBool()
		flagListClasses    string
		flagVersion        bool
		flagVersionShort   bool
	)

	fs.Var(flagInterval, "interval", "polling interval (override config)")
	fs.Var(flagInterval, "i", "polling interval (override config)")
	fs.Var(flagTimeout, "timeout", "feed request timeout (override config)")
	fs.Var(flagTimeout, "t", "feed request timeout (override config)")
	fs.Var(flagMaxConcurrency, "max-concurrency", "parallel feed requests per cycle (override config)")
	fs.Var(flagClass, "class", "class id to monitor (override config)")
	fs.Var(flagMetricsListen, "metrics-listen", "metrics listen address (e.g. :9100)")
	fs.Var(flagWSListen, "ws-listen", "websocket listen address (e.g. :8090)")
	fs.Var(flagLogLevel, "log-level", "log level: debug|info|warn|error")
	fs.Var(flagNoUI, "no-ui", "disable TUI (log only)")
	fs.StringVar(&flagListClasses, "list-classes", "", "list the classes of a teacher by national code and exit")
	fs.BoolVar(&flagVersion, "version", false, "show version")
	fs.BoolVar(&flagVersionShort, "v", false, "show version")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: classwatch [options] <config-file>\n\n")
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{
		listClasses: flagListClasses,
		showVersion: flagVersion || flagVersionShort,
		overrides: config.CLIOverrides{
			Interval:       flagInterval.Ptr(),
			Timeout:        flagTimeout.Ptr(),
			MaxConcurrency: flagMaxConcurrency.Ptr(),
			ClassID:        flagClass.Ptr(),
			MetricsListen:  flagMetricsListen.Ptr(),
			WSListen:       flagWSListen.Ptr(),
			UIDisable:      flagNoUI.Ptr(),
			LogLevel:       flagLogLevel.Ptr(),
		},
	}
	if opts.showVersion {
		return opts, nil
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return options{}, errors.New("missing config file")
	}
	opts.configPath = fs.Arg(0)
	return opts, nil
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	a, err := newApp(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.listClasses != "" {
		return a.listClasses(ctx, opts.listClasses, stdout)
	}
	return a.run(ctx)
}

// app holds everything wired from one config file.
type app struct {
	configPath string
	overrides  config.CLIOverrides
	cfg        *config.Config
	logger     *log.Logger
	loader     roster.Loader
	sql        *roster.SQLLoader
	client     feed.Client
	closers    []io.Closer
}

// newApp loads the config and builds the collaborators. client replaces
// the HTTP feed client when non-nil.
func newApp(ctx context.Context, opts options, client feed.Client) (*app, error) {
	cfg, err := config.Load(opts.configPath, opts.overrides)
	if err != nil {
		return nil, err
	}

	a := &app{
		configPath: opts.configPath,
		overrides:  opts.overrides,
		cfg:        cfg,
		logger:     log.NewLogger(log.ParseLevel(cfg.Log.Level)),
	}
	if err := a.setupLogOutput(); err != nil {
		return nil, err
	}
	a.logger.LogConfigLoad(true, opts.configPath, nil)

	if cfg.Database.DSNEnv != "" {
		dsn := cfg.Database.DSN()
		if dsn == "" {
			a.close()
			return nil, fmt.Errorf("database: environment variable %s is empty", cfg.Database.DSNEnv)
		}
		sqlLoader, err := roster.Open(ctx, cfg.Database.Driver, dsn)
		if err != nil {
			a.close()
			return nil, err
		}
		a.sql = sqlLoader
		a.loader = sqlLoader
		a.closers = append(a.closers, sqlLoader)
	} else {
		a.loader = roster.Static{cfg.Class.ID: cfg.Roster}
	}

	if client == nil {
		loc, err := cfg.Location()
		if err != nil {
			a.close()
			return nil, err
		}
		httpClient, err := feed.NewHTTPClient(cfg.Feed.Endpoint, feedAuth(cfg.Feed.Auth), cfg.Feed.Timeout, loc)
		if err != nil {
			a.close()
			return nil, err
		}
		client = httpClient
	}
	a.client = client
	return a, nil
}

func (a *app) setupLogOutput() error {
	switch {
	case a.cfg.Log.File != "":
		f, err := os.OpenFile(a.cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logger.SetOutput(f)
		a.closers = append(a.closers, f)
	case !a.cfg.UI.Disable:
		// stderr would draw over the TUI
		a.logger.SetOutput(io.Discard)
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

func (a *app) listClasses(ctx context.Context, nationalCode string, stdout io.Writer) error {
	if a.sql == nil {
		return errors.New("-list-classes needs database.dsn_env")
	}
	classes, err := a.sql.ClassesForTeacher(ctx, nationalCode)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tSCHOOL\tNAME")
	for _, c := range classes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ClassID, c.SchoolID, c.ClassName)
	}
	return tw.Flush()
}

// resolveClass fills in the school and name of the configured class from
// the database when the config only names the id.
func (a *app) resolveClass(ctx context.Context) (roster.ClassContext, error) {
	class := a.cfg.Class.Context()
	if class.ClassID == "" {
		return class, errors.New("class id is required (class.id or -class)")
	}
	if a.sql != nil && (class.SchoolID == "" || class.ClassName == "") {
		found, err := a.sql.Class(ctx, class.ClassID)
		if err != nil {
			return class, err
		}
		if class.SchoolID == "" {
			class.SchoolID = found.SchoolID
		}
		if class.ClassName == "" {
			class.ClassName = found.ClassName
		}
	}
	if class.ClassName == "" {
		class.ClassName = class.ClassID
	}
	return class, nil
}

func (a *app) run(ctx context.Context) error {
	class, err := a.resolveClass(ctx)
	if err != nil {
		return err
	}
	board := display.NewBoard(class.ClassName)
	return a.monitor(ctx, class, board)
}

func (a *app) monitor(ctx context.Context, class roster.ClassContext, board *display.Board) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := a.cfg
	manager := scheduler.NewManager(func(id string, class roster.ClassContext) *scheduler.Session {
		return scheduler.NewSession(id, class, scheduler.Deps{
			Loader:  a.loader,
			Client:  a.client,
			Tracker: state.NewStore(cfg.Monitor.StaleAfter),
			Sink:    board,
			Logger:  a.logger,
		}, sessionOptions(cfg))
	})
	defer manager.Stop()

	handle, err := manager.Start(ctx, class)
	if err != nil {
		return err
	}
	session, _ := manager.Session(handle)

	var tui *ui.UI
	if !cfg.UI.Disable {
		tui = ui.New(uiInfo(cfg), board, session, cfg.UI.Refresh)
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, board, session); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.LogError("metrics", err, map[string]interface{}{"listen": cfg.Metrics.Listen})
			}
		}()
	}
	if cfg.WS.Listen != "" {
		hub := ws.New(board, cfg.WS.Broadcast)
		go func() {
			if err := ws.Serve(ctx, cfg.WS.Listen, hub); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.LogError("ws", err, map[string]interface{}{"listen": cfg.WS.Listen})
			}
		}()
	}
	go func() {
		err := config.Watch(ctx, a.configPath, a.overrides, a.logger, func(next *config.Config) {
			session.UpdateTiming(sessionOptions(next))
			a.logger.SetLevel(log.ParseLevel(next.Log.Level))
			if tui != nil {
				tui.SetInfo(uiInfo(next))
			}
		})
		if err != nil {
			a.logger.LogError("config", err, map[string]interface{}{"path": a.configPath})
		}
	}()

	if tui != nil {
		err := tui.Run(ctx)
		manager.Cancel(handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return sessionResult(manager.Wait(handle))
	}

	select {
	case <-ctx.Done():
		manager.Cancel(handle)
	case <-manager.Done(handle):
	}
	return sessionResult(manager.Wait(handle))
}

func sessionResult(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sessionOptions(cfg *config.Config) scheduler.Options {
	return scheduler.Options{
		Interval:       cfg.Monitor.Interval,
		Timeout:        cfg.Feed.Timeout,
		StaleAfter:     cfg.Monitor.StaleAfter,
		MaxConcurrency: cfg.Monitor.MaxConcurrency,
	}
}

func uiInfo(cfg *config.Config) ui.Info {
	return ui.Info{
		Interval:       cfg.Monitor.Interval,
		Timeout:        cfg.Feed.Timeout,
		StaleAfter:     cfg.Monitor.StaleAfter,
		MaxConcurrency: cfg.Monitor.MaxConcurrency,
	}
}

func feedAuth(auth config.AuthConfig) feed.Auth {
	return feed.Auth{
		Mode:        auth.Mode,
		Header:      auth.Header,
		KeyEnv:      auth.KeyEnv,
		TokenEnv:    auth.TokenEnv,
		Username:    auth.Username,
		PasswordEnv: auth.PasswordEnv,
	}
}
