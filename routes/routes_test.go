package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/config"
	"tourops-api/database"
	"tourops-api/middleware"
	"tourops-api/models"
	"tourops-api/services"
	"tourops-api/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []services.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event services.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) actions(entity string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var actions []string
	for _, e := range n.events {
		if e.Entity == entity {
			actions = append(actions, e.Action)
		}
	}
	return actions
}

type testEnv struct {
	t        *testing.T
	db       *gorm.DB
	cfg      *config.Config
	router   *gin.Engine
	notifier *recordingNotifier

	tenantA, tenantB   models.Tenant
	managerA, managerB *models.User
	leadA, driverA     *models.User
	superuser          *models.User

	trip      models.Trip
	tripBuses []models.TripBus
	rounds    []models.Round
	// roundBuses[i][j] is bus j of round i
	roundBuses [][]models.RoundBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithCache(t, nil)
}

func newTestEnvWithCache(t *testing.T, cache *services.CacheService) *testEnv {
	t.Helper()
	require.NoError(t, utils.RegisterValidators())

	db, err := database.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	stop := make(chan struct{})
	t.Cleanup(func() {
		close(stop)
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := &testEnv{
		t:  t,
		db: db,
		cfg: &config.Config{
			JWTSecret:     "test-secret",
			JWTAccessTTL:  time.Hour,
			JWTRefreshTTL: 2 * time.Hour,
			CORSOrigins:   []string{"*"},
		},
		notifier: &recordingNotifier{},
	}
	svc := NewServices(db, cache, env.notifier, nil, zap.NewNop())
	env.router = NewRouter(db, env.cfg, svc, zap.NewNop(), stop)
	env.seed()
	return env
}

func (env *testEnv) seed() {
	t, db := env.t, env.db

	roles := map[string]*models.Role{}
	for _, name := range []string{models.RoleAdmin, models.RoleTourManager, models.RoleFleetLead, models.RoleDriver} {
		role := &models.Role{Name: name}
		require.NoError(t, db.Create(role).Error)
		roles[name] = role
	}

	env.tenantA = models.Tenant{Name: "Sunrise Tours"}
	env.tenantB = models.Tenant{Name: "Moonlight Travel"}
	require.NoError(t, db.Create(&env.tenantA).Error)
	require.NoError(t, db.Create(&env.tenantB).Error)

	newUser := func(username string, tenant *models.Tenant, role string) *models.User {
		user := &models.User{
			Username: username,
			Email:    username + "@example.com",
			Name:     username,
			Password: "x",
			IsActive: true,
		}
		if tenant != nil {
			user.TenantID = &tenant.ID
		}
		if role != "" {
			user.RoleID = &roles[role].ID
		}
		require.NoError(t, db.Create(user).Error)
		return user
	}
	env.managerA = newUser("manager-a", &env.tenantA, models.RoleTourManager)
	env.managerB = newUser("manager-b", &env.tenantB, models.RoleTourManager)
	env.leadA = newUser("lead-a", &env.tenantA, models.RoleFleetLead)
	env.driverA = newUser("driver-a", &env.tenantA, models.RoleDriver)
	env.superuser = newUser("root", nil, "")
	require.NoError(t, db.Model(env.superuser).Update("is_superuser", true).Error)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	env.trip = models.Trip{TenantID: env.tenantA.ID, Name: "Coastal Loop", StartDate: start, EndDate: start.AddDate(0, 0, 2), Status: models.StatusDoing}
	require.NoError(t, db.Create(&env.trip).Error)

	for i := 0; i < 2; i++ {
		bus := models.Bus{RegistrationNumber: fmt.Sprintf("REG-%d", i), BusCode: fmt.Sprintf("B%d", i), Capacity: 45}
		require.NoError(t, db.Create(&bus).Error)
		tripBus := models.TripBus{TripID: env.trip.ID, BusID: bus.ID, ManagerID: env.leadA.ID}
		require.NoError(t, db.Create(&tripBus).Error)
		env.tripBuses = append(env.tripBuses, tripBus)
	}

	for i := 0; i < 3; i++ {
		round := models.Round{
			TripID:       env.trip.ID,
			Name:         fmt.Sprintf("Stop %d", i+1),
			Location:     "Harbor",
			Sequence:     uint(i + 1),
			EstimateTime: start.Add(time.Duration(i+8) * time.Hour),
		}
		require.NoError(t, db.Create(&round).Error)
		env.rounds = append(env.rounds, round)

		var row []models.RoundBus
		for _, tripBus := range env.tripBuses {
			rb := models.RoundBus{RoundID: round.ID, TripBusID: tripBus.ID}
			require.NoError(t, db.Create(&rb).Error)
			row = append(row, rb)
		}
		env.roundBuses = append(env.roundBuses, row)
	}
}

func (env *testEnv) token(user *models.User) string {
	token, err := middleware.GenerateToken(env.cfg.JWTSecret, user, middleware.TokenTypeAccess, time.Hour)
	require.NoError(env.t, err)
	return token
}

func (env *testEnv) do(user *models.User, method, path string, body interface{}) *httptest.ResponseRecorder {
	env.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(env.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+env.token(user))
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) round(i int) models.Round {
	var round models.Round
	require.NoError(env.t, env.db.First(&round, "id = ?", env.rounds[i].ID).Error)
	return round
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func TestFinalizeDrivesRoundProgress(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(env.leadA, http.MethodPost, "/round-buses/"+env.roundBuses[0][0].ID+"/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rb models.RoundBus
	decodeData(t, w, &rb)
	require.NotNil(t, rb.FinalizedAt)
	require.NotNil(t, rb.FinalizedBy)
	assert.Equal(t, env.leadA.ID, *rb.FinalizedBy)
	require.NotNil(t, rb.Round)
	assert.Equal(t, models.StatusDoing, rb.Round.Status)
	assert.Equal(t, models.StatusPlanned, env.round(1).Status)

	w = env.do(env.leadA, http.MethodPost, "/round-buses/"+env.roundBuses[0][1].ID+"/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	first := env.round(0)
	assert.Equal(t, models.StatusDone, first.Status)
	assert.NotNil(t, first.ActualTime)
	assert.Equal(t, models.StatusDoing, env.round(1).Status)
	assert.Equal(t, models.StatusPlanned, env.round(2).Status)

	assert.Equal(t, []string{"finalized", "finalized"}, env.notifier.actions("round_bus"))
	assert.Contains(t, env.notifier.actions("round"), "activated")
}

func TestUnfinalizeRegressesWithoutUndoingCascade(t *testing.T) {
	env := newTestEnv(t)
	for _, rb := range env.roundBuses[0] {
		w := env.do(env.leadA, http.MethodPost, "/round-buses/"+rb.ID+"/finalize", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := env.do(env.leadA, http.MethodPost, "/round-buses/"+env.roundBuses[0][1].ID+"/unfinalize", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	first := env.round(0)
	assert.Equal(t, models.StatusDoing, first.Status)
	assert.Nil(t, first.ActualTime)
	assert.Equal(t, models.StatusDoing, env.round(1).Status)

	// completing the first round again finds the second one doing and
	// leaves the third alone
	w = env.do(env.leadA, http.MethodPost, "/round-buses/"+env.roundBuses[0][1].ID+"/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusDone, env.round(0).Status)
	assert.Equal(t, models.StatusPlanned, env.round(2).Status)
}

func TestFinalizeTwiceKeepsFirstTimestamp(t *testing.T) {
	env := newTestEnv(t)
	path := "/round-buses/" + env.roundBuses[0][0].ID + "/finalize"

	w := env.do(env.leadA, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var first models.RoundBus
	decodeData(t, w, &first)

	w = env.do(env.leadA, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second models.RoundBus
	decodeData(t, w, &second)

	require.NotNil(t, first.FinalizedAt)
	require.NotNil(t, second.FinalizedAt)
	assert.True(t, first.FinalizedAt.Equal(*second.FinalizedAt))
	assert.Len(t, env.notifier.actions("round_bus"), 1)
}

func TestUpdateRoundBusExplicitNullClearsFinalize(t *testing.T) {
	env := newTestEnv(t)
	path := "/round-buses/" + env.roundBuses[0][0].ID
	finalizedAt := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

	w := env.do(env.managerA, http.MethodPut, path, map[string]interface{}{"finalized_at": finalizedAt})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusDoing, env.round(0).Status)

	// absent field leaves the row alone
	w = env.do(env.managerA, http.MethodPut, path, map[string]interface{}{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusDoing, env.round(0).Status)

	w = env.do(env.managerA, http.MethodPut, path, map[string]interface{}{"finalized_at": nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rb models.RoundBus
	decodeData(t, w, &rb)
	assert.Nil(t, rb.FinalizedAt)
	assert.Nil(t, rb.FinalizedBy)
	assert.Equal(t, models.StatusPlanned, env.round(0).Status)
}

func TestDeleteLastOpenRoundBusCompletesRound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(env.leadA, http.MethodPost, "/round-buses/"+env.roundBuses[0][0].ID+"/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(env.managerA, http.MethodDelete, "/round-buses/"+env.roundBuses[0][1].ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, models.StatusDone, env.round(0).Status)
	assert.Equal(t, models.StatusDoing, env.round(1).Status)
}

func TestCreateRoundBusRejectsForeignTripBus(t *testing.T) {
	env := newTestEnv(t)

	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	other := models.Trip{TenantID: env.tenantA.ID, Name: "Other", StartDate: start, EndDate: start}
	require.NoError(t, env.db.Create(&other).Error)
	round := models.Round{TripID: other.ID, Name: "Only", Location: "Pier", Sequence: 1, EstimateTime: start}
	require.NoError(t, env.db.Create(&round).Error)

	w := env.do(env.managerA, http.MethodPost, "/round-buses", map[string]interface{}{
		"round":    round.ID,
		"trip_bus": env.tripBuses[0].ID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = env.do(env.managerA, http.MethodPost, "/round-buses", map[string]interface{}{
		"round":    env.rounds[0].ID,
		"trip_bus": env.tripBuses[0].ID,
	})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	rbPath := "/round-buses/" + env.roundBuses[0][0].ID

	assert.Equal(t, http.StatusNotFound, env.do(env.managerB, http.MethodGet, rbPath, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(env.managerB, http.MethodPost, rbPath+"/finalize", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(env.managerB, http.MethodGet, fmt.Sprintf("/trips/%d", env.trip.ID), nil).Code)
	assert.Equal(t, models.StatusPlanned, env.round(0).Status)

	w := env.do(env.managerB, http.MethodGet, "/round-buses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page utils.PaginatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Zero(t, page.Pagination.TotalItems)

	w = env.do(env.superuser, http.MethodGet, "/round-buses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.EqualValues(t, 6, page.Pagination.TotalItems)
}

func TestCapabilities(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(env.leadA, http.MethodPost, "/rounds", map[string]interface{}{
		"trip": env.trip.ID, "name": "Extra", "location": "Cove", "sequence": 9, "estimate_time": time.Now().UTC(),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(env.driverA, http.MethodPost, "/round-buses/"+env.roundBuses[0][0].ID+"/finalize", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(nil, http.MethodGet, "/rounds", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoundSequenceUniquePerTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(env.managerA, http.MethodPost, "/rounds", map[string]interface{}{
		"trip": env.trip.ID, "name": "Duplicate", "location": "Cove", "sequence": 1, "estimate_time": time.Now().UTC(),
	})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = env.do(env.managerA, http.MethodPost, "/rounds", map[string]interface{}{
		"trip": env.trip.ID, "name": "Fourth", "location": "Cove", "sequence": 4, "estimate_time": time.Now().UTC(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var round models.Round
	decodeData(t, w, &round)
	assert.Equal(t, models.StatusPlanned, round.Status)
}

func TestUpdateRoundIgnoresDerivedFields(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(env.managerA, http.MethodPut, "/rounds/"+env.rounds[0].ID, map[string]interface{}{
		"name":        "Renamed",
		"status":      "done",
		"actual_time": time.Now().UTC(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	round := env.round(0)
	assert.Equal(t, "Renamed", round.Name)
	assert.Equal(t, models.StatusPlanned, round.Status)
	assert.Nil(t, round.ActualTime)
}

func TestTransactionCheckOutOrder(t *testing.T) {
	env := newTestEnv(t)
	passenger := models.Passenger{TripID: env.trip.ID, Name: "Ann"}
	require.NoError(t, env.db.Create(&passenger).Error)

	checkIn := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	body := map[string]interface{}{
		"passenger": passenger.ID,
		"round_bus": env.roundBuses[0][0].ID,
		"check_in":  checkIn,
		"check_out": checkIn.Add(-time.Minute),
	}
	w := env.do(env.leadA, http.MethodPost, "/transactions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	body["check_out"] = checkIn.Add(30 * time.Minute)
	w = env.do(env.leadA, http.MethodPost, "/transactions", body)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(env.driverA, http.MethodPost, "/transactions", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPassengerAssignmentAndTransfer(t *testing.T) {
	env := newTestEnv(t)
	passenger := models.Passenger{TripID: env.trip.ID, Name: "Ben"}
	require.NoError(t, env.db.Create(&passenger).Error)
	base := fmt.Sprintf("/passengers/%d", passenger.ID)

	w := env.do(env.managerA, http.MethodPut, base+"/assignment", map[string]interface{}{"trip_bus": env.tripBuses[0].ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(env.managerA, http.MethodPost, base+"/transfer", map[string]interface{}{"to_trip_bus": env.tripBuses[1].ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var transfer models.PassengerTransfer
	decodeData(t, w, &transfer)
	require.NotNil(t, transfer.FromTripBusID)
	assert.Equal(t, env.tripBuses[0].ID, *transfer.FromTripBusID)
	assert.Equal(t, env.tripBuses[1].ID, transfer.ToTripBusID)

	var assignment models.PassengerBusAssignment
	require.NoError(t, env.db.First(&assignment, "passenger_id = ?", passenger.ID).Error)
	assert.Equal(t, env.tripBuses[1].ID, assignment.TripBusID)

	w = env.do(env.managerA, http.MethodPost, base+"/transfer", map[string]interface{}{"to_trip_bus": env.tripBuses[1].ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []string{"assigned", "transferred"}, env.notifier.actions("passenger"))
}

func TestDashboardOverview(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Create(&models.Passenger{TripID: env.trip.ID, Name: "Cleo"}).Error)

	w := env.do(env.managerA, http.MethodGet, "/dashboard/overview", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var overview models.DashboardOverview
	decodeData(t, w, &overview)
	assert.Equal(t, models.StatusCounts{Total: 1, Doing: 1}, overview.Trips)
	assert.Equal(t, models.StatusCounts{Total: 1, Doing: 1}, overview.Passengers)
	assert.Equal(t, models.StatusCounts{Total: 2, Doing: 2}, overview.Buses)

	w = env.do(env.managerB, http.MethodGet, "/dashboard/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &overview)
	assert.Zero(t, overview.Trips.Total)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","database":"up","cache":"disabled"}`, w.Body.String())
}

func TestTripListCacheInvalidatedOnWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	env := newTestEnvWithCache(t, services.NewCacheService(client, time.Minute, zap.NewNop()))

	listTotal := func() int64 {
		w := env.do(env.managerA, http.MethodGet, "/trips", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var page utils.PaginatedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		return page.Pagination.TotalItems
	}

	assert.EqualValues(t, 1, listTotal())
	assert.NotEmpty(t, mr.Keys())

	// a row written behind the API is not visible until a write invalidates
	start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, env.db.Create(&models.Trip{TenantID: env.tenantA.ID, Name: "Hidden", StartDate: start, EndDate: start}).Error)
	assert.EqualValues(t, 1, listTotal())

	w := env.do(env.managerA, http.MethodPost, "/trips", map[string]interface{}{
		"name":       "Mountain Pass",
		"start_date": "2025-09-01",
		"end_date":   "2025-09-03",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.EqualValues(t, 3, listTotal())
}
