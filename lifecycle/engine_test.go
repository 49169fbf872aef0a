package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ridelink/models"
)

// fakeRideStore keeps rides in a map and applies the conditional writes
// under a mutex, mirroring the database's compare-and-set semantics:
// a conditional write whose from-state no longer matches returns
// ErrNotFound, exactly like a zero-row UPDATE.
type fakeRideStore struct {
	mu    sync.Mutex
	rides map[string]*models.Ride
	locs  map[string][]models.LocationPoint

	lastPendingVehicle string
	lastPendingLimit   int

	// Hooks that run just before the guarded writes, for interleaving a
	// concurrent transition between the engine's read and its write.
	beforeAppend  func()
	beforeMarkOTP func()
}

func newFakeRideStore() *fakeRideStore {
	return &fakeRideStore{
		rides: map[string]*models.Ride{},
		locs:  map[string][]models.LocationPoint{},
	}
}

func (s *fakeRideStore) Create(_ context.Context, ride *models.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ride
	s.rides[ride.ID] = &cp
	return nil
}

func (s *fakeRideStore) Get(_ context.Context, id string) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ride
	return &cp, nil
}

func (s *fakeRideStore) ListPending(_ context.Context, vehicleType string, limit int) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPendingVehicle = vehicleType
	s.lastPendingLimit = limit
	out := []models.Ride{}
	for _, r := range s.rides {
		if r.Status != models.StatusPending {
			continue
		}
		if vehicleType != "" && r.VehicleType != vehicleType {
			continue
		}
		out = append(out, *r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeRideStore) ListByRider(_ context.Context, riderID string) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Ride{}
	for _, r := range s.rides {
		if r.RiderID == riderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeRideStore) ListByDriver(_ context.Context, driverID string) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Ride{}
	for _, r := range s.rides {
		if r.DriverID != nil && *r.DriverID == driverID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeRideStore) Accept(_ context.Context, rideID, driverID, code string, at time.Time) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[rideID]
	if !ok || ride.Status != models.StatusPending {
		return nil, ErrNotFound
	}
	ride.Status = models.StatusAccepted
	ride.DriverID = &driverID
	ride.PickupCode = code
	ride.AcceptedAt = &at
	ride.UpdatedAt = at
	cp := *ride
	return &cp, nil
}

func (s *fakeRideStore) Reject(_ context.Context, rideID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[rideID]
	if !ok || ride.Status != models.StatusPending {
		return ErrNotFound
	}
	ride.Status = models.StatusRejected
	ride.UpdatedAt = at
	return nil
}

func (s *fakeRideStore) Advance(_ context.Context, rideID string, from, to models.RideStatus, at time.Time) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[rideID]
	if !ok || ride.Status != from {
		return nil, ErrNotFound
	}
	ride.Status = to
	ride.UpdatedAt = at
	switch to {
	case models.StatusStarted:
		ride.StartedAt = &at
	case models.StatusPickedUp:
		ride.PickedUpAt = &at
	case models.StatusCompleted:
		ride.CompletedAt = &at
	}
	cp := *ride
	return &cp, nil
}

func (s *fakeRideStore) Cancel(_ context.Context, rideID string, from models.RideStatus, by models.Role, at time.Time) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[rideID]
	if !ok || ride.Status != from {
		return nil, ErrNotFound
	}
	ride.Status = models.StatusCancelled
	role := string(by)
	ride.CancelledBy = &role
	ride.CancelledAt = &at
	ride.UpdatedAt = at
	cp := *ride
	return &cp, nil
}

func (s *fakeRideStore) MarkOTPVerified(_ context.Context, rideID string) error {
	if s.beforeMarkOTP != nil {
		s.beforeMarkOTP()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[rideID]
	if !ok || ride.Status != models.StatusAccepted {
		return ErrInvalidTransition
	}
	ride.OTPVerified = true
	return nil
}

func (s *fakeRideStore) AppendLocation(_ context.Context, rideID string, p models.LocationPoint) error {
	if s.beforeAppend != nil {
		s.beforeAppend()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	switch ride.Status {
	case models.StatusAccepted, models.StatusStarted, models.StatusPickedUp:
	default:
		return ErrInvalidTransition
	}
	s.locs[rideID] = append(s.locs[rideID], p)
	ride.CurrentLat = &p.Lat
	ride.CurrentLng = &p.Lng
	ride.CurrentAt = &p.RecordedAt
	return nil
}

func (s *fakeRideStore) SetRating(_ context.Context, rideID string, rating float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[rideID]
	if !ok || ride.Rating != nil {
		return ErrNotFound
	}
	ride.Rating = &rating
	return nil
}

func (s *fakeRideStore) Locations(_ context.Context, rideID string) ([]models.LocationPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LocationPoint{}, s.locs[rideID]...), nil
}

// fakeDirectory records availability flips, completed trips and ratings.
type fakeDirectory struct {
	mu           sync.Mutex
	availability map[string]models.Availability
	completed    map[string]int
	ratings      map[string][]float64
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		availability: map[string]models.Availability{},
		completed:    map[string]int{},
		ratings:      map[string][]float64{},
	}
}

func (d *fakeDirectory) SetAvailability(_ context.Context, driverID string, a models.Availability) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.availability[driverID] = a
	return nil
}

func (d *fakeDirectory) RecordCompletedTrip(_ context.Context, driverID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed[driverID]++
	return nil
}

func (d *fakeDirectory) RecordRating(_ context.Context, driverID string, rating float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ratings[driverID] = append(d.ratings[driverID], rating)
	return nil
}

func (d *fakeDirectory) NearbyOnline(_ context.Context, _, _, _ float64) ([]models.NearbyDriver, error) {
	return []models.NearbyDriver{}, nil
}

func (d *fakeDirectory) get(driverID string) models.Availability {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.availability[driverID]
}

// fakeLive records every published event in order.
type fakeLive struct {
	mu     sync.Mutex
	events []string
}

func (l *fakeLive) PublishStatus(rideID string, status models.RideStatus) {
	l.record(rideID + ":" + string(status))
}

func (l *fakeLive) PublishLocation(rideID string, _ models.LocationPoint) {
	l.record(rideID + ":location")
}

func (l *fakeLive) PublishOTPVerified(rideID string) {
	l.record(rideID + ":otp")
}

func (l *fakeLive) record(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *fakeLive) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.events...)
}

func newTestEngine() (*Engine, *fakeRideStore, *fakeDirectory, *fakeLive) {
	store := newFakeRideStore()
	dir := newFakeDirectory()
	live := &fakeLive{}
	e := New(store, dir, live, zap.NewNop())
	return e, store, dir, live
}

func testDriver(id string) *models.Driver {
	return &models.Driver{
		ID:           id,
		VehicleType:  models.VehicleCar,
		Status:       "active",
		Availability: models.AvailabilityOnline,
	}
}

func validInput() CreateRideInput {
	return CreateRideInput{
		PickupAddress: "12 MG Road",
		PickupLat:     12.9716,
		PickupLng:     77.5946,
		DropAddress:   "Airport T1",
		DropLat:       13.1986,
		DropLng:       77.7066,
		Fare:          450,
		VehicleType:   models.VehicleCar,
		PaymentMethod: models.PaymentCash,
	}
}

func mustCreate(t *testing.T, e *Engine, riderID string) *models.Ride {
	t.Helper()
	ride, err := e.CreateRide(context.Background(), riderID, validInput())
	if err != nil {
		t.Fatalf("CreateRide: %v", err)
	}
	return ride
}

func mustAccept(t *testing.T, e *Engine, rideID string, driver *models.Driver) *models.Ride {
	t.Helper()
	ride, err := e.AcceptRide(context.Background(), rideID, driver)
	if err != nil {
		t.Fatalf("AcceptRide: %v", err)
	}
	return ride
}

func TestCreateRideValidation(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateRideInput)
	}{
		{"missing pickup address", func(in *CreateRideInput) { in.PickupAddress = "" }},
		{"missing drop address", func(in *CreateRideInput) { in.DropAddress = "" }},
		{"pickup lat out of range", func(in *CreateRideInput) { in.PickupLat = 91 }},
		{"drop lng out of range", func(in *CreateRideInput) { in.DropLng = -181 }},
		{"zero fare", func(in *CreateRideInput) { in.Fare = 0 }},
		{"negative fare", func(in *CreateRideInput) { in.Fare = -10 }},
		{"unknown vehicle type", func(in *CreateRideInput) { in.VehicleType = "tractor" }},
		{"unknown payment method", func(in *CreateRideInput) { in.PaymentMethod = "barter" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := e.CreateRide(ctx, "rider-1", in)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCreateRideDefaults(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ride := mustCreate(t, e, "rider-1")

	if ride.Status != models.StatusPending {
		t.Errorf("new ride status = %s, want pending", ride.Status)
	}
	if ride.ID == "" {
		t.Error("new ride has no id")
	}
	if ride.DriverID != nil {
		t.Error("new ride should have no driver")
	}
	if ride.PickupCode != "" {
		t.Error("pickup code must not be issued before acceptance")
	}
	if ride.DistanceKm <= 0 {
		t.Errorf("distance not derived from coordinates: %v", ride.DistanceKm)
	}
}

func TestAcceptIsExclusive(t *testing.T) {
	e, store, dir, _ := newTestEngine()
	ride := mustCreate(t, e, "rider-1")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := testDriver(string(rune('a' + i)))
			_, errs[i] = e.AcceptRide(context.Background(), ride.ID, d)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrRideTaken):
		default:
			t.Errorf("loser got unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("accept winners = %d, want exactly 1", winners)
	}

	got, _ := store.Get(context.Background(), ride.ID)
	if got.Status != models.StatusAccepted {
		t.Errorf("ride status = %s, want accepted", got.Status)
	}
	if got.DriverID == nil {
		t.Fatal("accepted ride has no driver")
	}
	if len(got.PickupCode) != 4 {
		t.Errorf("pickup code %q, want 4 digits", got.PickupCode)
	}
	if dir.get(*got.DriverID) != models.AvailabilityBusy {
		t.Errorf("winning driver availability = %s, want busy", dir.get(*got.DriverID))
	}
}

func TestAcceptUnknownRide(t *testing.T) {
	e, _, _, _ := newTestEngine()
	_, err := e.AcceptRide(context.Background(), "nope", testDriver("d1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartRequiresVerifiedCode(t *testing.T) {
	e, store, _, _ := newTestEngine()
	driver := testDriver("d1")
	ride := mustCreate(t, e, "rider-1")
	mustAccept(t, e, ride.ID, driver)
	caller := Caller{ID: driver.ID, Role: models.RoleDriver}

	// Starting before the code is verified is a precondition failure, and
	// must leave the ride where it was.
	_, err := e.AdvanceStatus(context.Background(), ride.ID, caller, models.StatusStarted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unverified start: got %v, want ErrInvalidTransition", err)
	}
	got, _ := store.Get(context.Background(), ride.ID)
	if got.Status != models.StatusAccepted {
		t.Fatalf("failed start moved status to %s", got.Status)
	}

	// Wrong code is rejected.
	if err := e.VerifyPickupCode(context.Background(), ride.ID, driver.ID, "0000x"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code: got %v, want ErrInvalidCode", err)
	}

	// Right code verifies; re-verifying is idempotent.
	if err := e.VerifyPickupCode(context.Background(), ride.ID, driver.ID, got.PickupCode); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := e.VerifyPickupCode(context.Background(), ride.ID, driver.ID, "whatever"); err != nil {
		t.Fatalf("re-verify should be idempotent, got %v", err)
	}

	if _, err := e.AdvanceStatus(context.Background(), ride.ID, caller, models.StatusStarted); err != nil {
		t.Fatalf("start after verify: %v", err)
	}
}

func TestVerifyPickupCodeAuth(t *testing.T) {
	e, _, _, _ := newTestEngine()
	driver := testDriver("d1")
	ride := mustCreate(t, e, "rider-1")
	accepted := mustAccept(t, e, ride.ID, driver)

	if err := e.VerifyPickupCode(context.Background(), ride.ID, "d2", accepted.PickupCode); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("other driver verifying: got %v, want ErrUnauthorized", err)
	}
}

func TestIllegalTransitionsLeaveStatus(t *testing.T) {
	e, store, _, _ := newTestEngine()
	driver := testDriver("d1")
	caller := Caller{ID: driver.ID, Role: models.RoleDriver}
	ctx := context.Background()

	// pending ride cannot be started, picked up or completed.
	ride := mustCreate(t, e, "rider-1")
	for _, target := range []models.RideStatus{models.StatusStarted, models.StatusPickedUp, models.StatusCompleted} {
		if _, err := e.AdvanceStatus(ctx, ride.ID, caller, target); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("pending -> %s: got %v, want ErrInvalidTransition", target, err)
		}
	}
	got, _ := store.Get(ctx, ride.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("ride moved to %s", got.Status)
	}

	// pending and rejected are never AdvanceStatus targets.
	for _, target := range []models.RideStatus{models.StatusPending, models.StatusRejected, models.StatusAccepted} {
		if _, err := e.AdvanceStatus(ctx, ride.ID, caller, target); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("target %s: got %v, want ErrInvalidTransition", target, err)
		}
	}

	// Skipping picked_up: started -> completed has no edge.
	mustAccept(t, e, ride.ID, driver)
	fresh, _ := store.Get(ctx, ride.ID)
	if err := e.VerifyPickupCode(ctx, ride.ID, driver.ID, fresh.PickupCode); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AdvanceStatus(ctx, ride.ID, caller, models.StatusStarted); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AdvanceStatus(ctx, ride.ID, caller, models.StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("started -> completed: got %v, want ErrInvalidTransition", err)
	}
}

func TestAdvanceOnlyByAssignedDriver(t *testing.T) {
	e, store, _, _ := newTestEngine()
	driver := testDriver("d1")
	ride := mustCreate(t, e, "rider-1")
	mustAccept(t, e, ride.ID, driver)
	got, _ := store.Get(context.Background(), ride.ID)
	if err := e.VerifyPickupCode(context.Background(), ride.ID, driver.ID, got.PickupCode); err != nil {
		t.Fatal(err)
	}

	other := Caller{ID: "d2", Role: models.RoleDriver}
	if _, err := e.AdvanceStatus(context.Background(), ride.ID, other, models.StatusStarted); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("other driver advancing: got %v, want ErrUnauthorized", err)
	}
	rider := Caller{ID: "rider-1", Role: models.RoleRider}
	if _, err := e.AdvanceStatus(context.Background(), ride.ID, rider, models.StatusStarted); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("rider advancing: got %v, want ErrUnauthorized", err)
	}
}

func TestCompleteFreesDriverAndCountsTrip(t *testing.T) {
	e, store, dir, live := newTestEngine()
	driver := testDriver("d1")
	caller := Caller{ID: driver.ID, Role: models.RoleDriver}
	ctx := context.Background()

	ride := mustCreate(t, e, "rider-1")
	mustAccept(t, e, ride.ID, driver)
	got, _ := store.Get(ctx, ride.ID)
	if err := e.VerifyPickupCode(ctx, ride.ID, driver.ID, got.PickupCode); err != nil {
		t.Fatal(err)
	}
	for _, target := range []models.RideStatus{models.StatusStarted, models.StatusPickedUp, models.StatusCompleted} {
		if _, err := e.AdvanceStatus(ctx, ride.ID, caller, target); err != nil {
			t.Fatalf("advance to %s: %v", target, err)
		}
	}

	if dir.get(driver.ID) != models.AvailabilityOnline {
		t.Errorf("driver availability after completion = %s, want online", dir.get(driver.ID))
	}
	if dir.completed[driver.ID] != 1 {
		t.Errorf("completed trips = %d, want 1", dir.completed[driver.ID])
	}

	want := []string{
		ride.ID + ":accepted",
		ride.ID + ":otp",
		ride.ID + ":started",
		ride.ID + ":picked_up",
		ride.ID + ":completed",
	}
	events := live.all()
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestCancelFreesAssignedDriver(t *testing.T) {
	e, store, dir, _ := newTestEngine()
	driver := testDriver("d1")
	ctx := context.Background()

	ride := mustCreate(t, e, "rider-1")
	mustAccept(t, e, ride.ID, driver)

	// Rider cancels; the assigned driver still goes back online.
	rider := Caller{ID: "rider-1", Role: models.RoleRider}
	updated, err := e.AdvanceStatus(ctx, ride.ID, rider, models.StatusCancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if updated.Status != models.StatusCancelled {
		t.Errorf("status = %s, want cancelled", updated.Status)
	}
	if updated.CancelledBy == nil || *updated.CancelledBy != "rider" {
		t.Errorf("cancelledBy = %v, want rider", updated.CancelledBy)
	}
	if dir.get(driver.ID) != models.AvailabilityOnline {
		t.Errorf("driver availability after cancel = %s, want online", dir.get(driver.ID))
	}

	// Terminal: nothing moves a cancelled ride.
	caller := Caller{ID: driver.ID, Role: models.RoleDriver}
	if _, err := e.AdvanceStatus(ctx, ride.ID, caller, models.StatusStarted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("advancing cancelled ride: got %v, want ErrInvalidTransition", err)
	}
	got, _ := store.Get(ctx, ride.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("terminal ride moved to %s", got.Status)
	}
}

func TestCancelPendingRideIsInvalid(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ride := mustCreate(t, e, "rider-1")
	rider := Caller{ID: "rider-1", Role: models.RoleRider}
	if _, err := e.AdvanceStatus(context.Background(), ride.ID, rider, models.StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelling pending ride: got %v, want ErrInvalidTransition", err)
	}
}

func TestCancelAuth(t *testing.T) {
	e, _, _, _ := newTestEngine()
	driver := testDriver("d1")
	ride := mustCreate(t, e, "rider-1")
	mustAccept(t, e, ride.ID, driver)

	for _, caller := range []Caller{
		{ID: "rider-2", Role: models.RoleRider},
		{ID: "d2", Role: models.RoleDriver},
	} {
		if _, err := e.AdvanceStatus(context.Background(), ride.ID, caller, models.StatusCancelled); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("caller %s/%s: got %v, want ErrUnauthorized", caller.Role, caller.ID, err)
		}
	}
}

func TestRejectRide(t *testing.T) {
	e, store, _, _ := newTestEngine()
	driver := testDriver("d1")
	ride := mustCreate(t, e, "rider-1")

	if err := e.RejectRide(context.Background(), ride.ID, driver); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, _ := store.Get(context.Background(), ride.ID)
	if got.Status != models.StatusRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}

	// Rejected is terminal; a late accept loses.
	if _, err := e.AcceptRide(context.Background(), ride.ID, testDriver("d2")); !errors.Is(err, ErrRideTaken) {
		t.Fatalf("accept after reject: got %v, want ErrRideTaken", err)
	}
}

func TestReportLocationRules(t *testing.T) {
	e, store, _, _ := newTestEngine()
	driver := testDriver("d1")
	ctx := context.Background()
	ride := mustCreate(t, e, "rider-1")

	// No samples while pending.
	if err := e.ReportLocation(ctx, ride.ID, driver.ID, 12.97, 77.59); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("report on unassigned ride: got %v, want ErrUnauthorized", err)
	}

	mustAccept(t, e, ride.ID, driver)

	if err := e.ReportLocation(ctx, ride.ID, "d2", 12.97, 77.59); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("other driver reporting: got %v, want ErrUnauthorized", err)
	}
	if err := e.ReportLocation(ctx, ride.ID, driver.ID, 95, 77.59); err == nil {
		t.Fatal("out-of-range coordinate accepted")
	}

	samples := []models.LocationPoint{
		{Lat: 12.9716, Lng: 77.5946},
		{Lat: 12.9800, Lng: 77.6000},
		{Lat: 12.9900, Lng: 77.6100},
	}
	for _, p := range samples {
		if err := e.ReportLocation(ctx, ride.ID, driver.ID, p.Lat, p.Lng); err != nil {
			t.Fatalf("report: %v", err)
		}
	}

	caller := Caller{ID: "rider-1", Role: models.RoleRider}
	history, err := e.LocationHistory(ctx, ride.ID, caller)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != len(samples) {
		t.Fatalf("history length = %d, want %d", len(history), len(samples))
	}
	for i, p := range samples {
		if history[i].Lat != p.Lat || history[i].Lng != p.Lng {
			t.Errorf("history[%d] = %+v, want %+v", i, history[i], p)
		}
	}

	// The ride's current snapshot is the last sample.
	got, _ := store.Get(ctx, ride.ID)
	last := samples[len(samples)-1]
	if got.CurrentLat == nil || *got.CurrentLat != last.Lat || *got.CurrentLng != last.Lng {
		t.Errorf("current = (%v,%v), want (%v,%v)", got.CurrentLat, got.CurrentLng, last.Lat, last.Lng)
	}

	// No more samples once the ride is terminal.
	rider := Caller{ID: "rider-1", Role: models.RoleRider}
	if _, err := e.AdvanceStatus(ctx, ride.ID, rider, models.StatusCancelled); err != nil {
		t.Fatal(err)
	}
	if err := e.ReportLocation(ctx, ride.ID, driver.ID, 12.99, 77.61); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("report on cancelled ride: got %v, want ErrInvalidTransition", err)
	}
}

func TestOfflineDriverSeesNoPendingRides(t *testing.T) {
	e, _, _, _ := newTestEngine()
	mustCreate(t, e, "rider-1")

	driver := testDriver("d1")
	driver.Availability = models.AvailabilityOffline
	rides, err := e.ListPendingRides(context.Background(), driver, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rides) != 0 {
		t.Fatalf("offline driver got %d pending rides, want 0", len(rides))
	}
}

func TestPendingListVehicleFilter(t *testing.T) {
	e, store, _, _ := newTestEngine()
	driver := testDriver("d1")
	driver.VehicleType = models.VehicleBike

	if _, err := e.ListPendingRides(context.Background(), driver, true); err != nil {
		t.Fatal(err)
	}
	if store.lastPendingVehicle != models.VehicleBike {
		t.Errorf("vehicle filter = %q, want bike", store.lastPendingVehicle)
	}
	if store.lastPendingLimit != 10 {
		t.Errorf("limit = %d, want 10", store.lastPendingLimit)
	}

	if _, err := e.ListPendingRides(context.Background(), driver, false); err != nil {
		t.Fatal(err)
	}
	if store.lastPendingVehicle != "" {
		t.Errorf("unfiltered list still passed vehicle %q", store.lastPendingVehicle)
	}
}

func TestGetRideVisibility(t *testing.T) {
	e, _, _, _ := newTestEngine()
	driver := testDriver("d1")
	ride := mustCreate(t, e, "rider-1")
	mustAccept(t, e, ride.ID, driver)
	ctx := context.Background()

	allowed := []Caller{
		{ID: "rider-1", Role: models.RoleRider},
		{ID: "d1", Role: models.RoleDriver},
		{ID: "ops", Role: models.RoleAdmin},
	}
	for _, caller := range allowed {
		if _, err := e.GetRide(ctx, ride.ID, caller); err != nil {
			t.Errorf("caller %s/%s: %v", caller.Role, caller.ID, err)
		}
	}

	denied := []Caller{
		{ID: "rider-2", Role: models.RoleRider},
		{ID: "d2", Role: models.RoleDriver},
	}
	for _, caller := range denied {
		if _, err := e.GetRide(ctx, ride.ID, caller); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("caller %s/%s: got %v, want ErrUnauthorized", caller.Role, caller.ID, err)
		}
	}
}

// mustCompleteRide drives a fresh ride through accept, verify, started,
// picked_up and completed.
func mustCompleteRide(t *testing.T, e *Engine, store *fakeRideStore, riderID string, driver *models.Driver) *models.Ride {
	t.Helper()
	ctx := context.Background()
	ride := mustCreate(t, e, riderID)
	mustAccept(t, e, ride.ID, driver)
	got, _ := store.Get(ctx, ride.ID)
	if err := e.VerifyPickupCode(ctx, ride.ID, driver.ID, got.PickupCode); err != nil {
		t.Fatalf("verify: %v", err)
	}
	caller := Caller{ID: driver.ID, Role: models.RoleDriver}
	for _, target := range []models.RideStatus{models.StatusStarted, models.StatusPickedUp, models.StatusCompleted} {
		if _, err := e.AdvanceStatus(ctx, ride.ID, caller, target); err != nil {
			t.Fatalf("advance to %s: %v", target, err)
		}
	}
	got, _ = store.Get(ctx, ride.ID)
	return got
}

func TestReportLocationLosesRaceWithCancel(t *testing.T) {
	e, store, _, _ := newTestEngine()
	driver := testDriver("d1")
	ctx := context.Background()
	ride := mustCreate(t, e, "rider-1")
	mustAccept(t, e, ride.ID, driver)

	// A rider cancel commits after the engine has read the ride as live
	// but before the sample lands. The guarded write must refuse it.
	store.beforeAppend = func() {
		store.beforeAppend = nil
		if _, err := store.Cancel(ctx, ride.ID, models.StatusAccepted, models.RoleRider, time.Now()); err != nil {
			t.Errorf("interleaved cancel: %v", err)
		}
	}

	if err := e.ReportLocation(ctx, ride.ID, driver.ID, 12.98, 77.60); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("report racing cancel: got %v, want ErrInvalidTransition", err)
	}

	got, _ := store.Get(ctx, ride.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("ride status = %s, want cancelled", got.Status)
	}
	if got.CurrentLat != nil || got.CurrentLng != nil {
		t.Errorf("cancelled ride carries a current location (%v,%v)", got.CurrentLat, got.CurrentLng)
	}
	history, _ := store.Locations(ctx, ride.ID)
	if len(history) != 0 {
		t.Errorf("cancelled ride has %d history entries, want 0", len(history))
	}
}

func TestVerifyPickupCodeLosesRaceWithCancel(t *testing.T) {
	e, store, _, _ := newTestEngine()
	driver := testDriver("d1")
	ctx := context.Background()
	ride := mustCreate(t, e, "rider-1")
	accepted := mustAccept(t, e, ride.ID, driver)

	store.beforeMarkOTP = func() {
		store.beforeMarkOTP = nil
		if _, err := store.Cancel(ctx, ride.ID, models.StatusAccepted, models.RoleRider, time.Now()); err != nil {
			t.Errorf("interleaved cancel: %v", err)
		}
	}

	if err := e.VerifyPickupCode(ctx, ride.ID, driver.ID, accepted.PickupCode); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("verify racing cancel: got %v, want ErrInvalidTransition", err)
	}
	got, _ := store.Get(ctx, ride.ID)
	if got.OTPVerified {
		t.Error("cancelled ride got marked verified")
	}
}

func TestRateRideRules(t *testing.T) {
	e, store, dir, _ := newTestEngine()
	driver := testDriver("d1")
	rider := Caller{ID: "rider-1", Role: models.RoleRider}
	ctx := context.Background()
	ride := mustCompleteRide(t, e, store, "rider-1", driver)

	var vErr *ValidationError
	if err := e.RateRide(ctx, ride.ID, rider, 6); !errors.As(err, &vErr) {
		t.Fatalf("out-of-range rating: got %v, want ValidationError", err)
	}
	if err := e.RateRide(ctx, ride.ID, Caller{ID: "rider-2", Role: models.RoleRider}, 5); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("other rider rating: got %v, want ErrUnauthorized", err)
	}
	if err := e.RateRide(ctx, ride.ID, Caller{ID: driver.ID, Role: models.RoleDriver}, 5); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("driver rating own ride: got %v, want ErrUnauthorized", err)
	}

	if err := e.RateRide(ctx, ride.ID, rider, 4); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if err := e.RateRide(ctx, ride.ID, rider, 5); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("second rating: got %v, want ErrAlreadyRated", err)
	}

	if got := dir.ratings[driver.ID]; len(got) != 1 || got[0] != 4 {
		t.Errorf("driver ratings = %v, want [4]", got)
	}
	stored, _ := store.Get(ctx, ride.ID)
	if stored.Rating == nil || *stored.Rating != 4 {
		t.Errorf("ride rating = %v, want 4", stored.Rating)
	}
}

func TestRateRideRequiresCompletion(t *testing.T) {
	e, _, _, _ := newTestEngine()
	driver := testDriver("d1")
	rider := Caller{ID: "rider-1", Role: models.RoleRider}
	ride := mustCreate(t, e, "rider-1")
	mustAccept(t, e, ride.ID, driver)

	if err := e.RateRide(context.Background(), ride.ID, rider, 5); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rating an accepted ride: got %v, want ErrInvalidTransition", err)
	}
}

func TestRateRideFoldsExactlyOnce(t *testing.T) {
	e, store, dir, _ := newTestEngine()
	driver := testDriver("d1")
	rider := Caller{ID: "rider-1", Role: models.RoleRider}
	ride := mustCompleteRide(t, e, store, "rider-1", driver)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.RateRide(context.Background(), ride.ID, rider, 5)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyRated):
		default:
			t.Errorf("loser got unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("rating winners = %d, want exactly 1", winners)
	}
	if got := dir.ratings[driver.ID]; len(got) != 1 {
		t.Fatalf("driver average folded %d times, want 1", len(got))
	}
}

func TestNearbyDriversValidation(t *testing.T) {
	e, _, _, _ := newTestEngine()
	if _, err := e.NearbyDrivers(context.Background(), 120, 77, 5); err == nil {
		t.Fatal("out-of-range coordinate accepted")
	}
	if _, err := e.NearbyDrivers(context.Background(), 12.97, 77.59, -3); err != nil {
		t.Fatalf("negative radius should fall back to default, got %v", err)
	}
}
