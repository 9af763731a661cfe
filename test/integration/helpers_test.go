//go:build integration

// Package integration runs the presensi service end to end against a real
// PostgreSQL container and an in-memory Redis.
// Run with: go test -v -tags=integration ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dokterku/presensi/internal/api"
	"github.com/dokterku/presensi/internal/common/events"
	"github.com/dokterku/presensi/internal/common/health"
	"github.com/dokterku/presensi/internal/common/middleware"
	"github.com/dokterku/presensi/internal/common/testutil"
	"github.com/dokterku/presensi/internal/geo"
	"github.com/dokterku/presensi/internal/presensi"
	"github.com/dokterku/presensi/internal/review"
	"github.com/dokterku/presensi/internal/risk"
	"github.com/dokterku/presensi/internal/store"
	"github.com/dokterku/presensi/internal/zone"
	"github.com/dokterku/presensi/pkg/journal"
)

var jwtSecret = []byte("integration-secret-0123456789abcdef")

// jakarta is the attendance time zone of the clinic network
var jakarta = time.FixedZone("WIB", 7*3600)

// clinic is the zone every flow checks in to
var clinic = zone.WorkZone{
	ID:                  "klinik-utama",
	Name:                "Klinik Utama",
	Center:              geo.LatLon{Latitude: -6.2088, Longitude: 106.8456},
	RadiusMeters:        100,
	StrictGeofence:      true,
	GPSAccuracyRequired: 20,
	Active:              true,
}

type stack struct {
	server  *httptest.Server
	clock   *clock
	journal *journal.Journal
	bus     *events.MemoryBus
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func startStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.StartPostgres(t)
	mr := testutil.Start(t)
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	zones := zone.NewPostgresStore(db, log)
	verdicts := store.NewVerdictStore(db, log)
	reviews := review.NewPostgresStore(db, log)
	require.NoError(t, zones.InitSchema(ctx))
	require.NoError(t, verdicts.InitSchema(ctx))
	require.NoError(t, reviews.InitSchema(ctx))
	require.NoError(t, zones.Upsert(ctx, clinic))

	j, err := journal.Open(journal.NewMemoryStore())
	require.NoError(t, err)

	bus := events.NewMemoryBus()
	bus.Subscribe("*", store.NewJournalSink(j, log).HandleEvent)
	t.Cleanup(func() { _ = bus.Close() })

	clk := &clock{now: time.Date(2026, 3, 2, 7, 55, 0, 0, jakarta)}
	gate, err := presensi.NewGate(presensi.Config{
		ZoneLookupTimeout:    2 * time.Second,
		MaxPlausibleSpeedKmh: 200,
		Location:             jakarta,
		LockTTL:              5 * time.Second,
		Policy:               risk.DefaultPolicy(),
	}, zone.NewCachedStore(zones, mr.Client(), time.Minute, log), verdicts, verdicts, log,
		presensi.WithClock(clk),
		presensi.WithLock(store.NewSubmissionLock(mr.Client(), log)),
		presensi.WithEventBus(bus),
	)
	require.NoError(t, err)

	hs := health.NewHealthService(log, "integration")
	hs.RegisterCheck(health.NewPostgresChecker(db))
	hs.RegisterCheck(health.NewRedisChecker(mr.RedisClient()))

	handler := api.NewHandler(gate, verdicts, review.NewService(reviews, verdicts, clk, bus, log), nil, log)
	router := api.NewRouter(api.RouterConfig{
		ServiceName: "presensi-integration",
		JWTSecret:   jwtSecret,
		CORSOrigins: []string{"*"},
		RateLimit:   middleware.RateLimitConfig{Requests: 100, Window: time.Minute},
		Redis:       mr.Client(),
	}, handler, hs, log)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &stack{server: srv, clock: clk, journal: j, bus: bus}
}

func bearer(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := middleware.Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	require.NoError(t, err)
	return token
}

// apiRequest makes an HTTP request and returns status code and body
func (s *stack) apiRequest(t *testing.T, method, path, body, token string) (int, map[string]interface{}) {
	t.Helper()

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, s.server.URL+path, bodyReader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var result map[string]interface{}
	if len(respBody) > 0 {
		_ = json.Unmarshal(respBody, &result)
	}
	return resp.StatusCode, result
}

// waitForJournal blocks until async event delivery has written n entries
func (s *stack) waitForJournal(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		count, err := s.journal.Verify()
		return err == nil && count >= n
	}, 5*time.Second, 20*time.Millisecond)
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", body)
	return d
}
