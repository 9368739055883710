// Command simulator seeds fleetd with vehicles, drivers, customers and
// orders, then keeps generating order traffic: operators assign, reassign,
// revert and cancel orders through the mutation pipeline while drivers walk
// their orders through the delivery lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jaswdr/faker"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/api"
	"github.com/ukydev/fleet-dispatch/internal/cache"
	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/events"
	"github.com/ukydev/fleet-dispatch/internal/logging"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Districts orders are spread around.
var districts = []models.Point{
	models.NewPoint(21.0285, 105.8542), // Hoan Kiem
	models.NewPoint(21.0368, 105.8342), // Ba Dinh
	models.NewPoint(21.0136, 105.8270), // Dong Da
	models.NewPoint(21.0065, 105.8434), // Hai Ba Trung
	models.NewPoint(21.0588, 105.8235), // Tay Ho
	models.NewPoint(21.0362, 105.7906), // Cau Giay
	models.NewPoint(20.9937, 105.8083), // Thanh Xuan
	models.NewPoint(21.0458, 105.8737), // Long Bien
}

func jitterLocation(base models.Point, rng *rand.Rand, meters float64) models.Point {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat()*math.Pi/180)
	dLat := (rng.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rng.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return models.NewPoint(base.Lat()+dLat, base.Lng()+dLon)
}

func randomLocation(rng *rand.Rand) models.Point {
	return jitterLocation(districts[rng.Intn(len(districts))], rng, 1500)
}

// nextStatus is where a driver takes an order next. Orders not on the
// road stay where they are.
func nextStatus(s models.OrderStatus) (models.OrderStatus, bool) {
	switch s {
	case models.StatusAssigned:
		return models.StatusInTransit, true
	case models.StatusInTransit:
		return models.StatusPicked, true
	case models.StatusPicked:
		return models.StatusDelivering, true
	case models.StatusDelivering:
		return models.StatusDelivered, true
	}
	return "", false
}

// Plan sizes the initial data set.
type Plan struct {
	Vehicles  int
	Customers int
	Orders    int
}

type simulator struct {
	client    *api.Client
	mutations *dispatch.Mutations
	fake      faker.Faker
	rng       *rand.Rand
	logger    log.FieldLogger

	vehicles  []int64
	customers []int64
}

func newSimulator(client *api.Client, mutations *dispatch.Mutations, seed int64, logger log.FieldLogger) *simulator {
	return &simulator{
		client:    client,
		mutations: mutations,
		fake:      faker.NewWithSeed(rand.NewSource(seed)),
		rng:       rand.New(rand.NewSource(seed)),
		logger:    logger,
	}
}

// seed creates the plan's vehicles (each with a driver account), customers
// and unassigned orders, reporting progress to w.
func (s *simulator) seed(ctx context.Context, plan Plan, w io.Writer) error {
	bar := progressbar.NewOptions(plan.Vehicles*2+plan.Customers+plan.Orders,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Seeding fleet"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	for i := 0; i < plan.Vehicles; i++ {
		v, err := s.client.CreateVehicle(ctx, s.fakeVehicle())
		if err != nil {
			return fmt.Errorf("failed to create vehicle: %w", err)
		}
		bar.Add(1)
		driver := s.fakeUser(models.RoleDriver)
		driver.VehicleID = models.IDPtr(v.ID)
		driver.Status = models.DriverAvailable
		if _, err := s.client.CreateUser(ctx, driver); err != nil {
			return fmt.Errorf("failed to create driver: %w", err)
		}
		bar.Add(1)
		s.vehicles = append(s.vehicles, v.ID)
	}

	for i := 0; i < plan.Customers; i++ {
		u, err := s.client.CreateUser(ctx, s.fakeUser(models.RoleUser))
		if err != nil {
			return fmt.Errorf("failed to create customer: %w", err)
		}
		bar.Add(1)
		s.customers = append(s.customers, u.ID)
	}

	for i := 0; i < plan.Orders; i++ {
		if _, err := s.mutations.Create(ctx, s.fakeOrder()); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		bar.Add(1)
	}

	s.logger.WithFields(log.Fields{
		"vehicles":  len(s.vehicles),
		"customers": len(s.customers),
		"orders":    plan.Orders,
	}).Info("Seeding completed")
	return nil
}

func (s *simulator) fakeVehicle() models.Vehicle {
	types := []string{"Van", "Truck", "Motorcycle", "Standard"}
	fuels := []string{"gasoline", "diesel", "electric", "hybrid"}
	maxLoad := float64(s.fake.IntBetween(8, 40) * 25)
	return models.Vehicle{
		LicensePlate: fmt.Sprintf("%dA-%05d", s.fake.IntBetween(29, 30), s.fake.IntBetween(10000, 99999)),
		Type:         types[s.rng.Intn(len(types))],
		FuelType:     fuels[s.rng.Intn(len(fuels))],
		Year:         s.fake.IntBetween(2018, 2025),
		MaxLoad:      maxLoad,
		Capacity:     maxLoad,
		Position:     randomLocation(s.rng),
		Status:       models.VehicleAvailable,
	}
}

func (s *simulator) fakeUser(role models.Role) models.User {
	name := s.fake.Person().Name()
	return models.User{
		Name:     name,
		Username: fmt.Sprintf("%s%d", s.fake.Person().FirstName(), s.fake.IntBetween(1000, 999999)),
		Email:    s.fake.Internet().Email(),
		Phone:    s.fake.Phone().Number(),
		Role:     role,
	}
}

func (s *simulator) fakeOrder() dispatch.OrderForm {
	pickup := randomLocation(s.rng)
	delivery := randomLocation(s.rng)
	form := dispatch.OrderForm{
		Weight:          s.fake.Float64(1, 1, 50),
		Pickup:          &pickup,
		Delivery:        &delivery,
		PickupAddress:   s.fake.Address().StreetAddress(),
		DeliveryAddress: s.fake.Address().StreetAddress(),
	}
	if len(s.customers) > 1 {
		form.SenderID = s.customers[s.rng.Intn(len(s.customers))]
		form.ReceiverID = s.customers[s.rng.Intn(len(s.customers))]
	}
	if s.rng.Float64() < 0.2 {
		form.Notes = s.fake.Lorem().Sentence(6)
	}
	return form
}

func (s *simulator) randomVehicle(except *int64) (int64, bool) {
	candidates := make([]int64, 0, len(s.vehicles))
	for _, id := range s.vehicles {
		if except == nil || *except != id {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[s.rng.Intn(len(candidates))], true
}

func (s *simulator) pick(orders []models.Order, keep func(models.Order) bool) (models.Order, bool) {
	var matched []models.Order
	for _, o := range orders {
		if keep(o) {
			matched = append(matched, o)
		}
	}
	if len(matched) == 0 {
		return models.Order{}, false
	}
	return matched[s.rng.Intn(len(matched))], true
}

// step performs one random action and returns its name.
func (s *simulator) step(ctx context.Context) (string, error) {
	orders, err := s.client.ListOrders(ctx, models.OrderFilter{})
	if err != nil {
		return "", err
	}
	assigned := func(o models.Order) bool { return o.Status == models.StatusAssigned && o.HasDriver() }

	r := s.rng.Float64()
	switch {
	case r < 0.35:
		var batch []models.Order
		for _, o := range orders {
			if o.Status.Reverts() && len(batch) < 3 {
				batch = append(batch, o)
			}
		}
		driverID, ok := s.randomVehicle(nil)
		if len(batch) > 0 && ok {
			return "assign", s.report(s.mutations.BulkAssign(ctx, batch, driverID))
		}

	case r < 0.70:
		onRoad := func(o models.Order) bool {
			_, ok := nextStatus(o.Status)
			return ok && o.HasDriver()
		}
		if o, ok := s.pick(orders, onRoad); ok {
			next, _ := nextStatus(o.Status)
			_, err := s.client.UpdateOrderStatus(ctx, o.ID, models.StatusUpdate{Status: next})
			return "advance", err
		}

	case r < 0.80:
		o, ok := s.pick(orders, assigned)
		if ok {
			if driverID, ok := s.randomVehicle(o.DriverID); ok {
				form := dispatch.OrderForm{
					SenderID: o.SenderID, ReceiverID: o.ReceiverID, Weight: o.Weight,
					Status: o.Status, DriverID: models.IDPtr(driverID), Notes: o.Notes,
				}
				return "reassign", s.report(s.mutations.Update(ctx, o, form))
			}
		}

	case r < 0.88:
		if o, ok := s.pick(orders, assigned); ok {
			return "revert", s.report(s.mutations.BulkStatus(ctx, []models.Order{o}, models.StatusPending))
		}

	case r < 0.94:
		if o, ok := s.pick(orders, func(o models.Order) bool { return !o.Status.Closed() }); ok {
			return "cancel", s.report(s.mutations.BulkStatus(ctx, []models.Order{o}, models.StatusCancelled))
		}
	}
	return "create", s.report(s.mutations.Create(ctx, s.fakeOrder()))
}

// report turns a route warning into a log line; only a failed write is
// an error.
func (s *simulator) report(out *dispatch.Outcome, err error) error {
	if err != nil {
		return err
	}
	if out.Warning != nil {
		s.logger.WithError(out.Warning).WithField("driver_ids", out.Affected.IDs()).Warn("Routes may be stale")
	}
	return nil
}

func (s *simulator) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			action, err := s.step(ctx)
			logger := s.logger.WithField("action", action)
			if err != nil {
				logger.WithError(err).Error("Simulation step failed")
				continue
			}
			logger.Debug("Simulation step")
		}
	}
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func main() {
	cfg, err := config.Load(os.Getenv("FLEET_CONFIG"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if err := logging.Configure(cfg.Log, os.Stderr); err != nil {
		log.WithError(err).Fatal("Failed to configure logging")
	}
	logger := log.StandardLogger()

	plan := Plan{
		Vehicles:  envInt("FLEET_SIZE", 10),
		Customers: envInt("CUSTOMER_COUNT", 30),
		Orders:    envInt("ORDER_COUNT", 50),
	}
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	seed := int64(envInt("SIM_SEED", int(time.Now().UnixNano()%math.MaxInt32)))

	opts := []api.Option{api.WithTimeout(cfg.API.Timeout)}
	if cfg.API.Token != "" {
		opts = append(opts, api.WithToken(cfg.API.Token))
	}
	client := api.New(cfg.API.BaseURL, opts...)

	var store cache.Store = cache.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rs, err := cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer rs.Close()
		store = rs
	}
	inv := cache.NewInvalidator(store, events.NewBus(logger), logger)
	mutations := dispatch.NewMutations(client, dispatch.NewDispatcher(client, inv, logger), inv, logger)
	sim := newSimulator(client, mutations, seed, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"fleet_size": plan.Vehicles,
		"orders":     plan.Orders,
		"api_url":    cfg.API.BaseURL,
		"interval":   interval,
		"seed":       seed,
	}).Info("Starting fleet simulation")

	if err := sim.seed(ctx, plan, os.Stderr); err != nil {
		log.WithError(err).Fatal("Seeding failed")
	}
	if err := sim.run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Simulation stopped")
	}
	log.Info("Simulation stopped")
}
