package main

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-dispatch/internal/api"
	"github.com/ukydev/fleet-dispatch/internal/cache"
	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/logging"
)

// env is what every subcommand works with. It is filled in before the
// subcommand runs.
type env struct {
	cfg       *config.Config
	logger    *log.Logger
	client    *api.Client
	store     cache.Store
	routes    *cache.RouteCache
	bus       *events.Bus
	mutations *dispatch.Mutations
	out       io.Writer
	errOut    io.Writer
	closers   []func()
}

// newRootCmd builds the command tree around e. The caller closes e once
// the command returns.
func newRootCmd(e *env) *cobra.Command {
	var cfgFile, apiURL, logLevel string

	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "Operate the delivery fleet",
		Long: `fleetctl edits orders through fleetd and keeps routes consistent: every
mutation recalculates exactly the drivers it touched and invalidates the
route caches. It also runs the fleet dashboard and the driver view.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.setup(cmd, cfgFile, apiURL, logLevel)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./fleet.yaml)")
	root.PersistentFlags().StringVar(&apiURL, "api", "", "fleetd base URL (overrides api.base_url)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides log.level)")

	root.AddCommand(
		newOrdersCmd(e),
		newVehiclesCmd(e),
		newUsersCmd(e),
		newOptimizeCmd(e),
		newResetAutoCmd(e),
		newRoutesCmd(e),
		newDashboardCmd(e),
		newDriverCmd(e),
	)
	return root
}

func (e *env) setup(cmd *cobra.Command, cfgFile, apiURL, logLevel string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	e.cfg, e.logger = cfg, logger
	e.out, e.errOut = cmd.OutOrStdout(), cmd.ErrOrStderr()

	opts := []api.Option{api.WithTimeout(cfg.API.Timeout)}
	if cfg.API.Token != "" {
		opts = append(opts, api.WithToken(cfg.API.Token))
	}
	e.client = api.New(cfg.API.BaseURL, opts...)

	if cfg.Redis.Addr != "" {
		rs, err := cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return fmt.Errorf("route cache: %w", err)
		}
		e.closers = append(e.closers, func() { rs.Close() })
		e.store = rs
	} else {
		e.store = cache.NewMemoryStore()
	}
	e.routes = cache.NewRouteCache(e.store, cache.WithTTL(cfg.Cache.FleetTTL), cache.WithLogger(logger))
	e.bus = events.NewBus(logger)

	inv := cache.NewInvalidator(e.store, e.bus, logger)
	e.mutations = dispatch.NewMutations(e.client, dispatch.NewDispatcher(e.client, inv, logger), inv, logger)
	return nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
