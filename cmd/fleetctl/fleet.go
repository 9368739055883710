package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

func newVehiclesCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vehicles",
		Aliases: []string{"vehicle"},
		Short:   "Manage vehicles",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List vehicles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vehicles, err := e.client.ListVehicles(cmd.Context())
			if err != nil {
				return err
			}
			printVehicles(e.out, vehicles)
			return nil
		},
	}

	var v models.Vehicle
	var position string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a vehicle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if position != "" {
				p, err := parsePoint(position)
				if err != nil {
					return err
				}
				v.Position = p
			}
			created, err := e.client.CreateVehicle(cmd.Context(), v)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Vehicle %d (%s) created\n", created.ID, created.LicensePlate)
			return nil
		},
	}
	create.Flags().Int64Var(&v.ID, "id", 0, "vehicle id (assigned by the server when 0)")
	create.Flags().StringVar(&v.LicensePlate, "plate", "", "license plate")
	create.Flags().Float64Var(&v.MaxLoad, "max-load", 0, "maximum load in kg")
	create.Flags().StringVar(&v.Type, "type", "", "vehicle type")
	create.Flags().StringVar(&position, "position", "", "depot as lat,lng")
	create.MarkFlagRequired("plate")

	var status string
	setStatus := &cobra.Command{
		Use:   "status ID... --to STATUS",
		Short: "Change the status of vehicles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := models.VehicleStatus(status)
			if !models.ValidVehicleStatus(to) {
				return fmt.Errorf("invalid vehicle status %q", status)
			}
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			res, err := e.client.BulkVehicleStatus(cmd.Context(), ids, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Matched %d, modified %d\n", res.Matched, res.Modified)
			return nil
		},
	}
	setStatus.Flags().StringVar(&status, "to", "", "target status")
	setStatus.MarkFlagRequired("to")

	del := &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete vehicles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			res, err := e.client.BulkDeleteVehicles(cmd.Context(), ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Deleted %d vehicles\n", res.Modified)
			return nil
		},
	}

	cmd.AddCommand(list, create, setStatus, del)
	return cmd
}

func newUsersCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "users",
		Aliases: []string{"user"},
		Short:   "Manage users and drivers",
	}

	var role string
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "" && !models.IsValidRole(models.Role(role)) {
				return fmt.Errorf("invalid role %q", role)
			}
			users, err := e.client.ListUsers(cmd.Context(), models.Role(role))
			if err != nil {
				return err
			}
			printUsers(e.out, users)
			return nil
		},
	}
	list.Flags().StringVar(&role, "role", "", "only users with this role")

	var u models.User
	var newRole string
	var vehicleID int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u.Role = models.Role(newRole)
			if cmd.Flags().Changed("vehicle") {
				u.VehicleID = models.IDPtr(vehicleID)
			}
			created, err := e.client.CreateUser(cmd.Context(), u)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "User %d (%s) created\n", created.ID, created.Username)
			return nil
		},
	}
	create.Flags().StringVar(&u.Username, "username", "", "login name")
	create.Flags().StringVar(&u.Name, "name", "", "display name")
	create.Flags().StringVar(&u.Phone, "phone", "", "phone number")
	create.Flags().StringVar(&newRole, "role", "", "admin, driver or user")
	create.Flags().Int64Var(&vehicleID, "vehicle", 0, "vehicle driven by this user")
	create.MarkFlagRequired("username")

	cmd.AddCommand(list, create)
	return cmd
}

func newOptimizeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Reoptimize the whole fleet",
		Long: `Send every open order and every vehicle to the optimizer. Manual
assignments are kept. This is the only command that replans the whole
fleet; order edits only recalculate the drivers they touch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := e.mutations.OptimizeAll(cmd.Context())
			if err != nil {
				return err
			}
			e.report(out)
			return nil
		},
	}
}

func newResetAutoCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-auto",
		Short: "Undo optimizer assignments",
		Long:  `Return every auto-assigned order to pending and delete the optimizer's routes. Manual assignments are left alone.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := e.mutations.ResetAuto(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Reset %d orders, cleared routes for drivers %s\n", out.Result.Modified, joinIDs(out.Affected.IDs()))
			if out.Warning != nil {
				fmt.Fprintf(e.errOut, "warning: cache invalidation incomplete: %v\n", out.Warning)
			}
			return nil
		},
	}
}

func newRoutesCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "routes [VEHICLE_ID]",
		Short: "Show active routes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				route, err := e.client.FetchRoute(cmd.Context(), id)
				if err != nil {
					return err
				}
				printStops(e.out, *route)
				return nil
			}
			routes, _, err := e.client.FetchRoutes(cmd.Context())
			if err != nil {
				return err
			}
			printRoutes(e.out, routes)
			return nil
		},
	}
}
