package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/tdisawas0github/project-os/internal/apiclient"
	"github.com/tdisawas0github/project-os/internal/config"
	"github.com/tdisawas0github/project-os/internal/session"
	"github.com/tdisawas0github/project-os/internal/tokenstore"
)

var errNotLoggedIn = errors.New("not logged in")

// app carries what every command needs. The client and session are built on
// first use so that commands like version never touch the state directory.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	v       *viper.Viper
	cfgFile string
	verbose bool

	cfg config.Config
	log zerolog.Logger
	reg *prometheus.Registry

	client *apiclient.Client
	mgr    *session.Manager
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, v: config.New(), log: zerolog.Nop()}
}

// bindFlags maps persistent flags onto config keys.
func (a *app) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.config/nasctl/config.yaml)")
	f.String("url", "", "NAS API URL")
	f.StringP("output", "o", "", "output format: table, json or yaml")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.Duration("timeout", 0, "per-request timeout")
	f.String("state-dir", "", "directory holding the saved session")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	_ = a.v.BindPFlag(config.KeyURL, f.Lookup("url"))
	_ = a.v.BindPFlag(config.KeyOutput, f.Lookup("output"))
	_ = a.v.BindPFlag(config.KeyLogLevel, f.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyTimeout, f.Lookup("timeout"))
	_ = a.v.BindPFlag(config.KeyStateDir, f.Lookup("state-dir"))
}

// load resolves configuration. It runs before every command.
func (a *app) load() error {
	used, err := config.ReadFile(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if a.verbose && a.v.GetString(config.KeyLogLevel) == "warn" {
		a.v.Set(config.KeyLogLevel, "debug")
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = config.Logger(cfg, a.errOut)
	if used != "" {
		a.log.Debug().Str("file", used).Msg("using config file")
	}
	a.reg = prometheus.NewRegistry()
	return nil
}

func (a *app) store(ctx context.Context) (tokenstore.Store, error) {
	log := a.log.With().Str("component", "tokenstore").Logger()
	if a.cfg.InsecurePlaintextStore {
		return tokenstore.NewFile(a.cfg.SessionPath(), tokenstore.WithLogger(log)), nil
	}
	key, err := tokenstore.LoadOrCreateKey(ctx, a.cfg.KeyPath())
	if err != nil {
		return nil, err
	}
	sealer, err := tokenstore.NewSealer(key)
	if err != nil {
		return nil, err
	}
	return tokenstore.NewFile(a.cfg.SessionPath(), tokenstore.WithSealer(sealer), tokenstore.WithLogger(log)), nil
}

// session returns the bootstrapped session manager and its API client.
func (a *app) session(ctx context.Context) (*session.Manager, *apiclient.Client, error) {
	if a.mgr != nil {
		return a.mgr, a.client, nil
	}
	store, err := a.store(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	a.client = apiclient.New(a.cfg.URL,
		apiclient.WithTimeout(a.cfg.Timeout),
		apiclient.WithLogger(a.log.With().Str("component", "api").Logger()),
		apiclient.WithMetrics(apiclient.NewMetrics(a.reg)),
		apiclient.WithUserAgent("nasctl/"+Version),
	)
	a.mgr = session.New(a.client, store, session.WithLogger(a.log.With().Str("component", "session").Logger()))
	a.mgr.Attach(a.client)
	if err := a.mgr.Bootstrap(ctx); err != nil {
		return nil, nil, err
	}
	return a.mgr, a.client, nil
}

// authed is session plus the requirement that someone is logged in.
func (a *app) authed(ctx context.Context) (*session.Manager, *apiclient.Client, error) {
	mgr, c, err := a.session(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !mgr.Authenticated() {
		return nil, nil, errNotLoggedIn
	}
	return mgr, c, nil
}

func (a *app) printer() printer { return printer{format: a.cfg.Output, w: a.out} }

// interactive reports whether prompts can be shown.
func (a *app) interactive() bool {
	f, ok := a.in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printError writes the final error line, with a hint when signing in again
// would help.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if errors.Is(err, errNotLoggedIn) || errors.Is(err, apiclient.ErrUnauthorized) || errors.Is(err, session.ErrSignedOut) {
		var le *session.LoginError
		if !errors.As(err, &le) {
			fmt.Fprintln(w, "Run 'nasctl login' to sign in.")
		}
	}
}
