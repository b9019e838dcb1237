// Package main is a command-line viewer for the table data API. It runs one
// data access call per invocation and prints the result as JSON.
//
// Usage:
//
//	tableview [global flags] <command> [command flags]
//
// Commands: health, columns, options, refresh, list, position, detail, add,
// stats, auto-add start|stop|status.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/client"
	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/metacache"
	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command. It returns 0 on success, 1 when the command
// failed and 2 when the command line could not be parsed.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{out: stdout}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if c.app != nil {
		c.app.close()
	}

	var fail *commandError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &fail):
		reportError(stderr, fail.err)
		return 1
	}
	fmt.Fprintf(stderr, "%v\n", err)
	return 2
}

// commandError marks a failure of the command itself, as opposed to a
// command-line error.
type commandError struct{ err error }

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

// cli holds the global flags and the app built from them.
type cli struct {
	configPath string
	baseURL    string
	tableID    string
	locale     string
	logLevel   string

	out io.Writer
	app *app
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tableview",
		Short:         "Query the table data API from the command line",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.HasParent() {
				return nil
			}
			a, err := c.newApp()
			if err != nil {
				return &commandError{err}
			}
			c.app = a
			return nil
		},
		RunE: func(*cobra.Command, []string) error {
			return errors.New("usage: tableview [flags] <command> [command flags]")
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "path to configuration file (defaults apply when empty)")
	pf.StringVar(&c.baseURL, "base-url", "", "backend base URL, overrides client.base_url")
	pf.StringVar(&c.tableID, "table", "", "mounted table id; the latest table when empty")
	pf.StringVar(&c.locale, "locale", "", "message locale, overrides client.locale")
	pf.StringVar(&c.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		c.healthCommand(),
		c.columnsCommand(),
		c.optionsCommand(),
		c.refreshCommand(),
		c.listCommand(),
		c.positionCommand(),
		c.detailCommand(),
		c.addCommand(),
		c.statsCommand(),
		c.autoAddCommand(),
	)
	return root
}

// action adapts a command body to cobra, marking its errors as command
// failures.
func (c *cli) action(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd.Context(), c.app, args); err != nil {
			return &commandError{err}
		}
		return nil
	}
}

// app holds what every command needs.
type app struct {
	client *client.Client
	cache  *metacache.Cache
	store  metacache.Store
	tokens *client.TokenSource
	logger *zap.Logger
	out    io.Writer
}

func (c *cli) newApp() (*app, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if c.baseURL != "" {
		cfg.Client.BaseURL = c.baseURL
	}
	if c.locale != "" {
		cfg.Client.Locale = c.locale
	}
	cfg.Observability.LogLevel = c.logLevel

	logger, err := observability.NewStderrLogger(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("logger error: %w", err)
	}
	store, err := metacache.NewStore(cfg.Cache)
	if err != nil {
		return nil, err
	}

	opts := []client.Option{client.WithLogger(logger)}
	cacheOpts := []metacache.Option{metacache.WithLogger(logger)}
	if c.tableID != "" {
		opts = append(opts, client.WithInstanceID(c.tableID))
		cacheOpts = append(cacheOpts, metacache.WithInstance(c.tableID))
	}
	cl := client.New(cfg.Client, opts...)

	return &app{
		client: cl,
		cache:  metacache.New(store, cl, cfg.Cache, cacheOpts...),
		store:  store,
		tokens: &client.TokenSource{},
		logger: logger,
		out:    c.out,
	}, nil
}

func (a *app) close() {
	a.store.Close()
	_ = a.logger.Sync()
}

// call tags ctx with a fresh request token.
func (a *app) call(ctx context.Context) context.Context {
	ctx, token := a.tokens.Tag(ctx)
	return observability.WithLogger(ctx, a.logger.With(zap.Uint64("request_token", token)))
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// reportError prints the error kind and its user-facing message.
func reportError(w io.Writer, err error) {
	var me *model.Error
	if !errors.As(err, &me) {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", me.Kind, me.Message)
	for _, d := range me.Details {
		fmt.Fprintf(w, "  %s: %s\n", d.Field, d.Message)
	}
}
