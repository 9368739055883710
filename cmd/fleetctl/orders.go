package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

func newOrdersCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "orders",
		Aliases: []string{"order"},
		Short:   "List and change orders",
	}
	cmd.AddCommand(
		newOrdersListCmd(e),
		newOrdersShowCmd(e),
		newOrdersCreateCmd(e),
		newOrdersEditCmd(e),
		newOrdersDeleteCmd(e),
		newOrdersAssignCmd(e),
		newOrdersStatusCmd(e),
		newOrdersStatsCmd(e),
	)
	return cmd
}

func newOrdersListCmd(e *env) *cobra.Command {
	var driverID, userID int64
	var status, assignment string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f models.OrderFilter
			if driverID > 0 {
				f.DriverID = models.IDPtr(driverID)
			}
			if userID > 0 {
				f.UserID = models.IDPtr(userID)
			}
			if status != "" {
				f.Status = models.OrderStatus(status)
				if !f.Status.Valid() {
					return fmt.Errorf("invalid status %q", status)
				}
			}
			f.AssignmentType = models.AssignmentType(assignment)
			orders, err := e.client.ListOrders(cmd.Context(), f)
			if err != nil {
				return err
			}
			printOrders(e.out, orders)
			return nil
		},
	}
	cmd.Flags().Int64Var(&driverID, "driver", 0, "only orders assigned to this driver")
	cmd.Flags().Int64Var(&userID, "user", 0, "only orders sent or received by this user")
	cmd.Flags().StringVar(&status, "status", "", "only orders in this status")
	cmd.Flags().StringVar(&assignment, "assignment", "", "only manual or auto assignments")
	return cmd
}

func newOrdersShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			o, err := e.client.GetOrder(cmd.Context(), id)
			if err != nil {
				return err
			}
			printOrder(e.out, *o)
			return nil
		},
	}
}

func newOrdersCreateCmd(e *env) *cobra.Command {
	var (
		form             dispatch.OrderForm
		status           string
		driverID         int64
		pickup, delivery string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order",
		Long: `Create an order. Giving --driver assigns it manually and recalculates
that driver's route.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePoint(pickup)
			if err != nil {
				return err
			}
			d, err := parsePoint(delivery)
			if err != nil {
				return err
			}
			form.Pickup, form.Delivery = &p, &d
			form.Status = models.OrderStatus(status)
			if cmd.Flags().Changed("driver") {
				form.DriverID = models.IDPtr(driverID)
			}
			out, err := e.mutations.Create(cmd.Context(), form)
			if err != nil {
				return err
			}
			e.report(out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&pickup, "pickup", "", "pickup point as lat,lng")
	f.StringVar(&delivery, "delivery", "", "delivery point as lat,lng")
	f.StringVar(&form.PickupAddress, "pickup-address", "", "pickup address")
	f.StringVar(&form.DeliveryAddress, "delivery-address", "", "delivery address")
	f.Int64Var(&form.SenderID, "sender", 0, "sender user id")
	f.Int64Var(&form.ReceiverID, "receiver", 0, "receiver user id")
	f.Float64Var(&form.Weight, "weight", 0, "weight in kg")
	f.StringVar(&status, "status", "", "initial status (default pending)")
	f.Int64Var(&driverID, "driver", 0, "assign to this driver")
	f.StringVar(&form.Notes, "notes", "", "free text notes")
	cmd.MarkFlagRequired("pickup")
	cmd.MarkFlagRequired("delivery")
	return cmd
}

func newOrdersEditCmd(e *env) *cobra.Command {
	var (
		senderID, receiverID, driverID int64
		weight                         float64
		status, notes                  string
		unassign                       bool
	)
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Edit an order",
		Long: `Edit an order. Unset flags keep their current value. Changing the
driver recalculates the old and the new driver; moving the order back to
pending or approved unassigns it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if unassign && cmd.Flags().Changed("driver") {
				return fmt.Errorf("--driver and --unassign are mutually exclusive")
			}
			before, err := e.client.GetOrder(cmd.Context(), id)
			if err != nil {
				return err
			}

			form := dispatch.OrderForm{
				SenderID:   before.SenderID,
				ReceiverID: before.ReceiverID,
				Weight:     before.Weight,
				Status:     before.Status,
				DriverID:   before.DriverID,
				Notes:      before.Notes,
			}
			flags := cmd.Flags()
			if flags.Changed("sender") {
				form.SenderID = senderID
			}
			if flags.Changed("receiver") {
				form.ReceiverID = receiverID
			}
			if flags.Changed("weight") {
				form.Weight = weight
			}
			if flags.Changed("status") {
				form.Status = models.OrderStatus(status)
			}
			if flags.Changed("notes") {
				form.Notes = notes
			}
			switch {
			case flags.Changed("driver"):
				form.DriverID = models.IDPtr(driverID)
			case unassign:
				form.DriverID = nil
			}

			out, err := e.mutations.Update(cmd.Context(), *before, form)
			if err != nil {
				return err
			}
			e.report(out)
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64Var(&senderID, "sender", 0, "sender user id")
	f.Int64Var(&receiverID, "receiver", 0, "receiver user id")
	f.Float64Var(&weight, "weight", 0, "weight in kg")
	f.StringVar(&status, "status", "", "new status")
	f.Int64Var(&driverID, "driver", 0, "assign to this driver")
	f.BoolVar(&unassign, "unassign", false, "remove the driver")
	f.StringVar(&notes, "notes", "", "free text notes")
	return cmd
}

func newOrdersDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID...",
		Aliases: []string{"rm"},
		Short:   "Delete one or more orders",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := e.selectOrders(cmd.Context(), args)
			if err != nil {
				return err
			}
			var out *dispatch.Outcome
			if len(selected) == 1 {
				out, err = e.mutations.Delete(cmd.Context(), selected[0])
			} else {
				out, err = e.mutations.BulkDelete(cmd.Context(), selected)
			}
			if err != nil {
				return err
			}
			if out.Order == nil && out.Result == nil {
				fmt.Fprintf(e.out, "Deleted order %d\n", selected[0].ID)
			}
			e.report(out)
			return nil
		},
	}
}

func newOrdersAssignCmd(e *env) *cobra.Command {
	var driverID int64
	cmd := &cobra.Command{
		Use:   "assign ID... --driver DRIVER",
		Short: "Assign orders to a driver",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if driverID <= 0 {
				return fmt.Errorf("--driver is required")
			}
			selected, err := e.selectOrders(cmd.Context(), args)
			if err != nil {
				return err
			}
			out, err := e.mutations.BulkAssign(cmd.Context(), selected, driverID)
			if err != nil {
				return err
			}
			e.report(out)
			return nil
		},
	}
	cmd.Flags().Int64Var(&driverID, "driver", 0, "driver (vehicle) id")
	return cmd
}

func newOrdersStatusCmd(e *env) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status ID... --to STATUS",
		Short: "Change the status of orders",
		Long: `Change the status of orders. Moving orders back to pending or approved
unassigns them and recalculates the drivers they leave.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := models.OrderStatus(status)
			if !to.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			selected, err := e.selectOrders(cmd.Context(), args)
			if err != nil {
				return err
			}
			out, err := e.mutations.BulkStatus(cmd.Context(), selected, to)
			if err != nil {
				return err
			}
			e.report(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "to", "", "target status")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newOrdersStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show order counts by status and driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := e.client.OrderStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Total orders: %d\n", stats.Total)
			for _, s := range []models.OrderStatus{
				models.StatusPending, models.StatusApproved, models.StatusAssigned, models.StatusInTransit,
				models.StatusPicked, models.StatusDelivering, models.StatusDelivered, models.StatusCancelled,
			} {
				if n := stats.ByStatus[s]; n > 0 {
					fmt.Fprintf(e.out, "  %-12s %d\n", s, n)
				}
			}
			for _, d := range stats.ByDriver {
				fmt.Fprintf(e.out, "Driver %d: %d orders, %.1f kg\n", d.DriverID, d.OrderCount, d.TotalWeight)
			}
			return nil
		},
	}
}

// selectOrders fetches the current state of the orders named in args.
// Bulk mutations need it to know which drivers the orders leave.
func (e *env) selectOrders(ctx context.Context, args []string) ([]models.Order, error) {
	ids, err := parseIDs(args)
	if err != nil {
		return nil, err
	}
	selected := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		o, err := e.client.GetOrder(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", id, err)
		}
		selected = append(selected, *o)
	}
	return selected, nil
}
