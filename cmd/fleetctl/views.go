package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/refresh"
)

// viewFlags are shared by the dashboard and driver commands.
type viewFlags struct {
	once   bool
	noPush bool
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.once, "once", false, "load once, print and exit")
	cmd.Flags().BoolVar(&f.noPush, "no-push", false, "ignore pushed route events and rely on polling")
}

func newDashboardCmd(e *env) *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Watch the fleet routes",
		Long: `Show every active route and keep it current. The view reloads when an
operator raises the force-refresh flag, when a route event arrives, and
when Enter is pressed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []refresh.DashboardOption{
				refresh.WithFlagInterval(e.cfg.Cache.FlagInterval),
				refresh.WithDashboardLogger(e.logger),
			}
			if flags.once {
				d := refresh.NewDashboard(e.client, e.routes, opts...)
				refreshed, err := d.CheckFlag(cmd.Context())
				if err != nil {
					return err
				}
				if !refreshed {
					if _, err := d.Load(cmd.Context(), false); err != nil {
						return err
					}
				}
				printSnapshot(e.out, d.Snapshot())
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if !flags.noPush {
				updates, err := e.routeEvents(ctx, 0)
				if err != nil {
					return err
				}
				opts = append(opts, refresh.WithRouteEvents(updates))
			}
			opts = append(opts, refresh.WithSnapshotHandler(func(s refresh.Snapshot) { printSnapshot(e.out, s) }))

			d := refresh.NewDashboard(e.client, e.routes, opts...)
			go watchInput(ctx, cmd.InOrStdin(), d.Visible)
			return ignoreCancel(d.Run(ctx))
		},
	}
	flags.register(cmd)
	return cmd
}

func newDriverCmd(e *env) *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:   "driver VEHICLE_ID",
		Short: "Follow one driver's route and orders",
		Long: `Show a driver's route and open orders. The view polls on an interval
and whenever an event for this vehicle arrives; it does not depend on the
force-refresh flag. If fleetd is unreachable the last known route is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vehicleID, err := parseID(args[0])
			if err != nil {
				return err
			}
			opts := []refresh.DriverOption{
				refresh.WithPollInterval(e.cfg.Cache.DriverPoll),
				refresh.WithDriverLogger(e.logger),
			}
			if flags.once {
				p := refresh.NewDriverPoller(e.client, e.routes, vehicleID, opts...)
				printDriverView(e.out, p.Poll(cmd.Context()))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if !flags.noPush {
				updates, err := e.routeEvents(ctx, vehicleID)
				if err != nil {
					return err
				}
				opts = append(opts, refresh.WithDriverEvents(updates))
			}
			opts = append(opts, refresh.WithViewHandler(func(v refresh.DriverView) { printDriverView(e.out, v) }))

			p := refresh.NewDriverPoller(e.client, e.routes, vehicleID, opts...)
			go watchInput(ctx, cmd.InOrStdin(), p.Visible)
			return ignoreCancel(p.Run(ctx))
		},
	}
	flags.register(cmd)
	return cmd
}

// routeEvents subscribes to the local bus and feeds it from every
// configured source: the fleetd websocket always, plus MQTT and AMQP when
// set. A zero vehicleID follows the whole fleet. Sources stop with ctx.
func (e *env) routeEvents(ctx context.Context, vehicleID int64) (<-chan events.RouteUpdated, error) {
	var updates <-chan events.RouteUpdated
	var cancel func()
	if vehicleID == 0 {
		updates, cancel = e.bus.Subscribe()
	} else {
		updates, cancel = e.bus.SubscribeVehicle(vehicleID)
	}
	e.closers = append(e.closers, cancel)

	listener, err := events.NewWSListener(e.cfg.API.BaseURL, vehicleID, e.bus, e.logger)
	if err != nil {
		return nil, err
	}
	go listener.Run(ctx)

	if e.cfg.MQTT.Broker != "" {
		bridge, err := events.NewMQTTBridge(e.cfg.MQTT.Broker, "fleetctl-"+uuid.NewString(), e.cfg.MQTT.TopicPrefix, e.logger)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, bridge.Close)
		if err := bridge.Forward(vehicleID, e.bus); err != nil {
			return nil, err
		}
	}

	if e.cfg.AMQP.URL != "" {
		broker, err := events.DialAMQP(e.cfg.AMQP.URL, e.cfg.AMQP.Exchange, e.logger)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { broker.Close() })
		go func() {
			if err := broker.Consume(ctx, vehicleID, e.bus); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.WithError(err).Warn("AMQP route events stopped")
			}
		}()
	}
	return updates, nil
}

// watchInput calls visible for every line read from r, standing in for the
// view regaining focus.
func watchInput(ctx context.Context, r io.Reader, visible func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		visible()
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("view stopped: %w", err)
	}
	return nil
}
