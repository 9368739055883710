// Package affect works out which drivers' routes go stale when orders
// change. The result is always limited to drivers the mutation touched, so
// a single edit never costs a fleet-wide reoptimization.
package affect

import (
	"sort"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// DriverSet is a sorted set of driver (vehicle) ids.
type DriverSet struct {
	ids []int64
}

// NewDriverSet builds a set from ids, dropping duplicates.
func NewDriverSet(ids ...int64) DriverSet {
	var s DriverSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id, keeping the set ordered.
func (s *DriverSet) Add(id int64) {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return
	}
	s.ids = append(s.ids, 0)
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = id
}

// Has reports whether id is in the set.
func (s DriverSet) Has(id int64) bool {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	return i < len(s.ids) && s.ids[i] == id
}

// IDs returns a copy of the ids in ascending order.
func (s DriverSet) IDs() []int64 {
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s DriverSet) Len() int    { return len(s.ids) }
func (s DriverSet) Empty() bool { return len(s.ids) == 0 }

// Edit is the before and after state of a single order.
type Edit struct {
	OldStatus   models.OrderStatus
	NewStatus   models.OrderStatus
	OldDriverID *int64
	NewDriverID *int64
}

// EditOf describes the change from before to after.
func EditOf(before, after models.Order) Edit {
	return Edit{
		OldStatus:   before.Status,
		NewStatus:   after.Status,
		OldDriverID: before.DriverID,
		NewDriverID: after.DriverID,
	}
}

// ResolveEdit returns the drivers whose route a single order edit makes
// stale. The rules are checked in order and the first match wins:
//
//	revert to pending/approved with a prior driver  -> {old}
//	old and new driver both set and different        -> {old, new}
//	no prior driver, new driver set                  -> {new}
//	anything else                                    -> {}
//
// A status-only change that keeps the same driver is "anything else".
func ResolveEdit(e Edit) DriverSet {
	switch {
	case e.NewStatus.Reverts() && e.OldDriverID != nil:
		return NewDriverSet(*e.OldDriverID)
	case e.OldDriverID != nil && e.NewDriverID != nil && *e.OldDriverID != *e.NewDriverID:
		return NewDriverSet(*e.OldDriverID, *e.NewDriverID)
	case e.OldDriverID == nil && e.NewDriverID != nil:
		return NewDriverSet(*e.NewDriverID)
	default:
		return DriverSet{}
	}
}

// ResolveCreate handles a freshly created order, which has no prior driver.
func ResolveCreate(created models.Order) DriverSet {
	return ResolveEdit(Edit{NewStatus: created.Status, NewDriverID: created.DriverID})
}

// ResolveDelete returns the driver a deleted order was routed on.
func ResolveDelete(deleted models.Order) DriverSet {
	if deleted.DriverID == nil {
		return DriverSet{}
	}
	return NewDriverSet(*deleted.DriverID)
}

// ResolveBulkDelete unions ResolveDelete over the deleted orders.
func ResolveBulkDelete(deleted []models.Order) DriverSet {
	var s DriverSet
	for _, o := range deleted {
		if o.DriverID != nil {
			s.Add(*o.DriverID)
		}
	}
	return s
}

// ResolveBulkAssign returns the distinct previous drivers of the selected
// orders plus the target driver.
func ResolveBulkAssign(selected []models.Order, target int64) DriverSet {
	s := NewDriverSet(target)
	for _, o := range selected {
		if o.DriverID != nil && *o.DriverID != target {
			s.Add(*o.DriverID)
		}
	}
	return s
}

// ResolveBulkStatus handles a status change applied to many orders. Only a
// reversion to pending/approved affects routes: the distinct drivers of the
// selected orders are returned and unassign reports whether the backend
// must clear their driver in the same request.
func ResolveBulkStatus(selected []models.Order, status models.OrderStatus) (set DriverSet, unassign bool) {
	if !status.Reverts() {
		return DriverSet{}, false
	}
	for _, o := range selected {
		if o.DriverID != nil {
			set.Add(*o.DriverID)
		}
	}
	return set, !set.Empty()
}
