package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Assignment maps a vehicle id to the ids of the orders it carries.
type Assignment map[int64][]int64

// Engine assigns orders to vehicles. manual pins an order id to a vehicle
// id and must be honoured.
type Engine interface {
	Assign(ctx context.Context, req models.OptimizeRequest, manual map[int64]int64) (Assignment, error)
}

// Greedy gives each order, heaviest first, to the vehicle with room whose
// current position is nearest the pickup. Deterministic for equal input.
type Greedy struct{}

// Assign implements Engine.
func (Greedy) Assign(_ context.Context, req models.OptimizeRequest, manual map[int64]int64) (Assignment, error) {
	type slot struct {
		vehicle models.OptimizeVehicle
		load    float64
		pos     models.Point
	}
	slots := make(map[int64]*slot, len(req.Vehicles))
	vehicleIDs := make([]int64, 0, len(req.Vehicles))
	for _, v := range req.Vehicles {
		slots[v.ID] = &slot{vehicle: v, pos: v.Position}
		vehicleIDs = append(vehicleIDs, v.ID)
	}
	sort.Slice(vehicleIDs, func(i, j int) bool { return vehicleIDs[i] < vehicleIDs[j] })

	out := Assignment{}
	var free []models.OptimizeOrder
	for _, o := range req.Orders {
		if vid, ok := manual[o.ID]; ok {
			if s, ok := slots[vid]; ok {
				out[vid] = append(out[vid], o.ID)
				s.load += o.Weight
				s.pos = o.Delivery
				continue
			}
		}
		free = append(free, o)
	}
	sort.SliceStable(free, func(i, j int) bool {
		if free[i].Weight == free[j].Weight {
			return free[i].ID < free[j].ID
		}
		return free[i].Weight > free[j].Weight
	})

	for _, o := range free {
		var best int64
		bestDist := 0.0
		found := false
		for _, vid := range vehicleIDs {
			s := slots[vid]
			if s.load+o.Weight > s.vehicle.MaxLoad {
				continue
			}
			d := HaversineKm(s.pos, o.Pickup)
			if !found || d < bestDist {
				best, bestDist, found = vid, d, true
			}
		}
		if !found {
			continue
		}
		out[best] = append(out[best], o.ID)
		slots[best].load += o.Weight
		slots[best].pos = o.Delivery
	}
	return out, nil
}

// RemoteEngine delegates assignment to an external optimizer service.
type RemoteEngine struct {
	URL    string
	HTTP   *http.Client
	Logger log.FieldLogger
}

// NewRemoteEngine returns an engine posting to url.
func NewRemoteEngine(url string, timeout time.Duration, logger log.FieldLogger) *RemoteEngine {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RemoteEngine{URL: url, HTTP: &http.Client{Timeout: timeout}, Logger: logger}
}

type remoteRequest struct {
	models.OptimizeRequest
	ManualConstraints map[string]int64 `json:"manualConstraints"`
}

type remoteResponse struct {
	Assignments map[string][]int64 `json:"assignments"`
}

// Assign implements Engine.
func (e *RemoteEngine) Assign(ctx context.Context, req models.OptimizeRequest, manual map[int64]int64) (Assignment, error) {
	body := remoteRequest{OptimizeRequest: req, ManualConstraints: map[string]int64{}}
	for orderID, vehicleID := range manual {
		body.ManualConstraints[fmt.Sprint(orderID)] = vehicleID
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("optimizer status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	var out remoteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("optimizer response: %w", err)
	}

	assignment := Assignment{}
	for key, orders := range out.Assignments {
		var vehicleID int64
		if _, err := fmt.Sscan(key, &vehicleID); err != nil {
			return nil, fmt.Errorf("optimizer returned vehicle id %q", key)
		}
		assignment[vehicleID] = orders
	}
	e.Logger.WithFields(log.Fields{
		"vehicles": len(assignment),
		"took":     time.Since(start).String(),
	}).Info("Optimizer assignment received")
	return assignment, nil
}
