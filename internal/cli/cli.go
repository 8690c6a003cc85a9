// Package cli implements the recorder command line: batch runs, backfills,
// snapshot ingest and diff queries against the configured store.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/flightrecorder/internal/app"
	"github.com/JonMunkholm/flightrecorder/internal/config"
	"github.com/JonMunkholm/flightrecorder/internal/core"
)

// HookFunc builds one subcommand.
type HookFunc func(ctx context.Context, env *Env) *cobra.Command

// Registered holds the registered command hooks.
var Registered map[string]HookFunc

// Register adds a subcommand hook.
func Register(name string, f HookFunc) {
	if Registered == nil {
		Registered = make(map[string]HookFunc)
	}
	Registered[name] = f
}

// ServiceFactory opens the core service. The returned close function
// releases the store.
type ServiceFactory interface {
	GetService(ctx context.Context) (*core.Service, func() error, error)
}

// Env is shared by every command.
type Env struct {
	Out     io.Writer
	Factory ServiceFactory
}

// errUnitsFailed makes the process exit non-zero when any unit failed.
var errUnitsFailed = errors.New("one or more units failed")

// Root builds the recorder command with every registered subcommand.
func Root(ctx context.Context, env *Env) *cobra.Command {
	if env.Out == nil {
		env.Out = os.Stdout
	}

	root := &cobra.Command{
		Use:   "recorder",
		Short: "PPC flight recorder: diff daily account snapshots",
		Long: "recorder compares each day's captured snapshot of an advertising account\n" +
			"against the previous one and stores one row per detected change.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(env.Out)

	names := make([]string, 0, len(Registered))
	for name := range Registered {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if cmd := Registered[name](ctx, env); cmd != nil {
			root.AddCommand(cmd)
		}
	}
	return root
}

// ConfigFactory opens the service described by the environment
// configuration. LoadErr, when set, is returned instead so commands that
// need no store still work with an incomplete configuration.
type ConfigFactory struct {
	Config  *config.Config
	LoadErr error
}

// GetService implements ServiceFactory.
func (f ConfigFactory) GetService(ctx context.Context) (*core.Service, func() error, error) {
	if f.LoadErr != nil {
		return nil, nil, f.LoadErr
	}
	svc, store, err := app.Bootstrap(ctx, f.Config)
	if err != nil {
		return nil, nil, err
	}
	return svc, store.Close, nil
}

// withService opens the service, runs fn and closes the store.
func withService(ctx context.Context, env *Env, fn func(*core.Service) error) error {
	svc, closeFn, err := env.Factory.GetService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(svc)
}
