package affect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

func id(v int64) *int64 { return &v }

func TestDriverSet(t *testing.T) {
	s := NewDriverSet(5, 3, 5, 9, 3)
	assert.Equal(t, []int64{3, 5, 9}, s.IDs())
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has(9))
	assert.False(t, s.Has(4))
	assert.False(t, s.Empty())
	assert.True(t, DriverSet{}.Empty())

	ids := s.IDs()
	ids[0] = 100
	assert.Equal(t, []int64{3, 5, 9}, s.IDs(), "IDs must return a copy")
}

func TestResolveEdit(t *testing.T) {
	tests := []struct {
		name string
		edit Edit
		want []int64
	}{
		{
			name: "revert to pending with driver",
			edit: Edit{OldStatus: models.StatusAssigned, NewStatus: models.StatusPending, OldDriverID: id(5)},
			want: []int64{5},
		},
		{
			name: "revert to approved with driver ignores new driver",
			edit: Edit{OldStatus: models.StatusInTransit, NewStatus: models.StatusApproved, OldDriverID: id(5), NewDriverID: id(6)},
			want: []int64{5},
		},
		{
			name: "revert without driver",
			edit: Edit{OldStatus: models.StatusApproved, NewStatus: models.StatusPending},
			want: []int64{},
		},
		{
			name: "driver changed",
			edit: Edit{OldStatus: models.StatusAssigned, NewStatus: models.StatusAssigned, OldDriverID: id(7), NewDriverID: id(2)},
			want: []int64{2, 7},
		},
		{
			name: "first assignment",
			edit: Edit{OldStatus: models.StatusPending, NewStatus: models.StatusAssigned, NewDriverID: id(4)},
			want: []int64{4},
		},
		{
			name: "same driver status change",
			edit: Edit{OldStatus: models.StatusAssigned, NewStatus: models.StatusInTransit, OldDriverID: id(4), NewDriverID: id(4)},
			want: []int64{},
		},
		{
			name: "delivering back to picked",
			edit: Edit{OldStatus: models.StatusDelivering, NewStatus: models.StatusPicked, OldDriverID: id(4), NewDriverID: id(4)},
			want: []int64{},
		},
		{
			name: "driver cleared without revert",
			edit: Edit{OldStatus: models.StatusAssigned, NewStatus: models.StatusCancelled, OldDriverID: id(4)},
			want: []int64{},
		},
		{
			name: "nothing assigned",
			edit: Edit{OldStatus: models.StatusPending, NewStatus: models.StatusApproved},
			want: []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveEdit(tt.edit).IDs())
		})
	}
}

func TestResolveEdit_DistinctDriversProperty(t *testing.T) {
	for a := int64(1); a <= 4; a++ {
		for b := int64(1); b <= 4; b++ {
			got := ResolveEdit(Edit{
				OldStatus: models.StatusAssigned, NewStatus: models.StatusAssigned,
				OldDriverID: id(a), NewDriverID: id(b),
			})
			if a == b {
				assert.True(t, got.Empty())
				continue
			}
			assert.Equal(t, NewDriverSet(a, b).IDs(), got.IDs())
		}
	}
}

func TestResolveCreate(t *testing.T) {
	got := ResolveCreate(models.Order{Status: models.StatusAssigned, DriverID: id(3)})
	assert.Equal(t, []int64{3}, got.IDs())

	assert.True(t, ResolveCreate(models.Order{Status: models.StatusPending}).Empty())
}

func TestResolveDelete(t *testing.T) {
	assert.Equal(t, []int64{8}, ResolveDelete(models.Order{DriverID: id(8)}).IDs())
	assert.True(t, ResolveDelete(models.Order{}).Empty())

	got := ResolveBulkDelete([]models.Order{{DriverID: id(8)}, {}, {DriverID: id(2)}, {DriverID: id(8)}})
	assert.Equal(t, []int64{2, 8}, got.IDs())
}

func TestResolveBulkAssign(t *testing.T) {
	selected := []models.Order{
		{ID: 1, DriverID: id(3)},
		{ID: 2},
		{ID: 3, DriverID: id(9)},
		{ID: 4, DriverID: id(3)},
	}
	assert.Equal(t, []int64{3, 9}, ResolveBulkAssign(selected, 9).IDs())
	assert.Equal(t, []int64{3, 5, 9}, ResolveBulkAssign(selected, 5).IDs())
	assert.Equal(t, []int64{5}, ResolveBulkAssign([]models.Order{{ID: 1}}, 5).IDs())
}

func TestResolveBulkStatus(t *testing.T) {
	// Orders 42 (driver 5, assigned) and 43 (no driver) reverted to pending.
	selected := []models.Order{
		{ID: 42, Status: models.StatusAssigned, DriverID: id(5)},
		{ID: 43, Status: models.StatusApproved},
	}
	set, unassign := ResolveBulkStatus(selected, models.StatusPending)
	assert.Equal(t, []int64{5}, set.IDs())
	assert.True(t, unassign)

	set, unassign = ResolveBulkStatus(selected, models.StatusDelivered)
	assert.True(t, set.Empty())
	assert.False(t, unassign)

	set, unassign = ResolveBulkStatus([]models.Order{{ID: 43}}, models.StatusApproved)
	assert.True(t, set.Empty())
	assert.False(t, unassign)
}
