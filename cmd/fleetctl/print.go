package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/refresh"
)

// parsePoint reads "lat,lng".
func parsePoint(s string) (models.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.Point{}, fmt.Errorf("invalid point %q: want lat,lng", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.Point{}, fmt.Errorf("invalid latitude in %q", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.Point{}, fmt.Errorf("invalid longitude in %q", s)
	}
	p := models.NewPoint(lat, lng)
	if !p.Valid() {
		return models.Point{}, fmt.Errorf("point %q is out of range", s)
	}
	return p, nil
}

// parseIDs reads ids given as separate arguments or comma separated.
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid id %q", field)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no ids given")
	}
	return ids, nil
}

func parseID(arg string) (int64, error) {
	ids, err := parseIDs([]string{arg})
	if err != nil {
		return 0, err
	}
	if len(ids) != 1 {
		return 0, fmt.Errorf("expected a single id, got %q", arg)
	}
	return ids[0], nil
}

func driverLabel(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func printOrders(w io.Writer, orders []models.Order) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tDRIVER\tTYPE\tWEIGHT\tSENDER\tRECEIVER\tDELIVERY")
	for _, o := range orders {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.1f\t%d\t%d\t%s\n",
			o.ID, o.Status, driverLabel(o.DriverID), orDash(string(o.AssignmentType)),
			o.Weight, o.SenderID, o.ReceiverID, orDash(o.DeliveryAddress))
	}
	tw.Flush()
}

func printOrder(w io.Writer, o models.Order) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%d\n", o.ID)
	fmt.Fprintf(tw, "Status\t%s\n", o.Status)
	fmt.Fprintf(tw, "Driver\t%s\n", driverLabel(o.DriverID))
	fmt.Fprintf(tw, "Assignment\t%s\n", orDash(string(o.AssignmentType)))
	fmt.Fprintf(tw, "Weight\t%.1f kg\n", o.Weight)
	fmt.Fprintf(tw, "Sender/Receiver\t%d/%d\n", o.SenderID, o.ReceiverID)
	fmt.Fprintf(tw, "Pickup\t%.5f,%.5f %s\n", o.Pickup.Lat(), o.Pickup.Lng(), o.PickupAddress)
	fmt.Fprintf(tw, "Delivery\t%.5f,%.5f %s\n", o.Delivery.Lat(), o.Delivery.Lng(), o.DeliveryAddress)
	if o.Notes != "" {
		fmt.Fprintf(tw, "Notes\t%s\n", o.Notes)
	}
	if o.CancelReason != "" {
		fmt.Fprintf(tw, "Cancelled\t%s\n", o.CancelReason)
	}
	tw.Flush()
}

func printRoutes(w io.Writer, routes []models.Route) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VEHICLE\tVERSION\tORDERS\tSTOPS\tDISTANCE\tDURATION\tLOAD")
	for _, r := range routes {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%.1f km\t%.0f min\t%.1f kg\n",
			r.VehicleID, r.Version, joinIDs(r.AssignedOrders), len(r.Stops), r.Distance, r.Duration, r.TotalWeight)
	}
	tw.Flush()
}

func printStops(w io.Writer, r models.Route) {
	fmt.Fprintf(w, "Vehicle %d, version %d: %.1f km, %.0f min\n", r.VehicleID, r.Version, r.Distance, r.Duration)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTYPE\tORDER\tETA\tPOINT\tADDRESS")
	for i, s := range r.Stops {
		order := "-"
		if s.OrderID != 0 {
			order = strconv.FormatInt(s.OrderID, 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.0f min\t%.5f,%.5f\t%s\n",
			i+1, s.Type, order, s.ArrivalTime, s.Point.Lat(), s.Point.Lng(), orDash(s.Address))
	}
	tw.Flush()
}

func printSnapshot(w io.Writer, snap refresh.Snapshot) {
	source := "live"
	if snap.FromCache {
		source = "cached"
	}
	fmt.Fprintf(w, "\n[%s] %d routes (%s)", snap.LoadedAt.Format(time.TimeOnly), len(snap.Routes), source)
	if snap.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", snap.Skipped)
	}
	fmt.Fprintln(w)
	printRoutes(w, snap.Routes)
}

func printDriverView(w io.Writer, view refresh.DriverView) {
	fmt.Fprintf(w, "\n[%s] ", view.At.Format(time.TimeOnly))
	switch {
	case view.Route != nil && view.FromCache:
		fmt.Fprintf(w, "offline, showing last known route (%v)\n", view.RouteErr)
		printStops(w, *view.Route)
	case view.Route != nil:
		fmt.Fprintln(w, "route")
		printStops(w, *view.Route)
	case view.RouteErr != nil:
		fmt.Fprintf(w, "route unavailable: %v\n", view.RouteErr)
	default:
		fmt.Fprintln(w, "no route assigned")
	}
	if view.OrdersErr != nil {
		fmt.Fprintf(w, "orders unavailable: %v\n", view.OrdersErr)
	}
	printOrders(w, view.Orders)
}

func printVehicles(w io.Writer, vehicles []models.Vehicle) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLATE\tSTATUS\tCAPACITY\tLOAD\tPOSITION")
	for _, v := range vehicles {
		p := v.Depot()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%.1f\t%.5f,%.5f\n",
			v.ID, v.LicensePlate, orDash(string(v.Status)), v.Load(), v.CurrentLoad, p.Lat(), p.Lng())
	}
	tw.Flush()
}

func printUsers(w io.Writer, users []models.User) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tNAME\tROLE\tVEHICLE\tSTATUS")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			u.ID, u.Username, orDash(u.Name), u.Role, driverLabel(u.VehicleID), orDash(string(u.Status)))
	}
	tw.Flush()
}

// report prints what a mutation did. A warning means the change was saved
// but routes may lag behind it.
func (e *env) report(out *dispatch.Outcome) {
	switch {
	case out.Order != nil:
		fmt.Fprintf(e.out, "Order %d: %s, driver %s\n", out.Order.ID, out.Order.Status, driverLabel(out.Order.DriverID))
	case out.Result != nil:
		fmt.Fprintf(e.out, "Matched %d, modified %d\n", out.Result.Matched, out.Result.Modified)
	case out.Optimize != nil:
		s := out.Optimize.Stats
		fmt.Fprintf(e.out, "Assigned %d of %d orders to %d vehicles\n", s.AssignedOrders, s.TotalOrders, s.VehiclesWithRoutes)
		for _, msg := range out.Optimize.Errors {
			fmt.Fprintf(e.errOut, "optimizer: %s\n", msg)
		}
	}
	if out.Recalculated {
		fmt.Fprintf(e.out, "Recalculated routes for drivers %s\n", joinIDs(out.Affected.IDs()))
	}
	if out.Warning != nil {
		fmt.Fprintf(e.errOut, "warning: saved, but routes may be out of date: %v\n", out.Warning)
	}
}
