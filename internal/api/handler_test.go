package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/common/health"
	"github.com/dokterku/presensi/internal/common/middleware"
	"github.com/dokterku/presensi/internal/common/testutil"
	"github.com/dokterku/presensi/internal/geo"
	"github.com/dokterku/presensi/internal/geofence"
	"github.com/dokterku/presensi/internal/presensi"
	"github.com/dokterku/presensi/internal/review"
	"github.com/dokterku/presensi/internal/risk"
	"github.com/dokterku/presensi/internal/search"
	"github.com/dokterku/presensi/internal/store"
	"github.com/dokterku/presensi/internal/zone"
)

var testSecret = []byte("api-test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGate struct {
	verdict *presensi.RiskVerdict
	err     error
	zones   []zone.WorkZone
	got     presensi.Submission
	shift   string
}

func (g *fakeGate) Submit(_ context.Context, s presensi.Submission) (*presensi.RiskVerdict, error) {
	g.got = s
	return g.verdict, g.err
}

func (g *fakeGate) ListZones(_ context.Context, shift string) ([]zone.WorkZone, error) {
	g.shift = shift
	return g.zones, nil
}

type fakeVerdicts struct {
	byID   map[string]*presensi.RiskVerdict
	filter store.VerdictFilter
}

func (f *fakeVerdicts) GetVerdict(_ context.Context, id string) (*presensi.RiskVerdict, error) {
	if v, ok := f.byID[id]; ok {
		return v, nil
	}
	return nil, presensi.ErrVerdictNotFound
}

func (f *fakeVerdicts) ListVerdicts(_ context.Context, filter store.VerdictFilter) ([]presensi.RiskVerdict, error) {
	f.filter = filter
	var out []presensi.RiskVerdict
	for _, v := range f.byID {
		if filter.Action == "" || v.ActionTaken == filter.Action {
			out = append(out, *v)
		}
	}
	return out, nil
}

type fakeReviews struct {
	added []review.Annotation
}

func (f *fakeReviews) AddReview(_ context.Context, verdictID, reviewer, decision, notes string) (*review.Annotation, error) {
	d, err := review.ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	if verdictID != "v-1" {
		return nil, presensi.ErrVerdictNotFound
	}
	a := review.Annotation{ID: "r-1", VerdictID: verdictID, ReviewedBy: reviewer, Decision: d, Notes: notes}
	f.added = append(f.added, a)
	return &a, nil
}

func (f *fakeReviews) ListReviews(_ context.Context, verdictID string) ([]review.Annotation, error) {
	return f.added, nil
}

type fakeSearcher struct {
	query search.Query
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) ([]search.Document, int, error) {
	f.query = q
	return []search.Document{{ID: "v-1", RiskScore: 80}}, 1, nil
}

type fixture struct {
	router   *gin.Engine
	gate     *fakeGate
	verdicts *fakeVerdicts
	reviews  *fakeReviews
	searcher *fakeSearcher
}

func blockedVerdict() *presensi.RiskVerdict {
	return &presensi.RiskVerdict{
		ID:             "v-1",
		SubjectID:      "staff-7",
		ZoneID:         "klinik-utama",
		AttendanceType: presensi.CheckIn,
		RiskScore:      80,
		RiskLevel:      risk.RiskLevelHigh,
		IsSpoofed:      true,
		ActionTaken:    risk.ActionBlocked,
		Geofence:       geofence.Result{IsWithinZone: true},
		Factors:        []risk.Factor{{Name: risk.FactorMockLocation, Points: 30}},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gate:     &fakeGate{verdict: blockedVerdict()},
		verdicts: &fakeVerdicts{byID: map[string]*presensi.RiskVerdict{"v-1": blockedVerdict()}},
		reviews:  &fakeReviews{},
		searcher: &fakeSearcher{},
	}
	h := NewHandler(f.gate, f.verdicts, f.reviews, f.searcher, zap.NewNop())
	f.router = NewRouter(RouterConfig{
		ServiceName: "presensi-test",
		JWTSecret:   testSecret,
		CORSOrigins: []string{"*"},
	}, h, health.NewHealthService(zap.NewNop(), "test"), zap.NewNop())
	return f
}

func token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := middleware.Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}

func validBody() map[string]interface{} {
	return map[string]interface{}{
		"zone_id":                "klinik-utama",
		"latitude":               -6.2088,
		"longitude":              106.8456,
		"accuracy":               10,
		"timestamp":              "2026-03-02T08:00:00+07:00",
		"mock_location_detected": true,
		"fake_gps_app_detected":  true,
		"shift":                  "Pagi",
	}
}

func TestCheckIn_BlockedIsStillOK(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/attendance/check_in", token(t, "staff-7"), validBody())

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "v-1", data["verdict_id"])
	assert.Equal(t, "blocked", data["action_taken"])
	assert.Equal(t, "high", data["risk_level"])
	assert.Equal(t, true, data["is_spoofed"])
	assert.Equal(t, "location could not be verified", data["message"])
	assert.NotContains(t, data, "factors")
	assert.NotContains(t, w.Body.String(), risk.FactorMockLocation)

	got := f.gate.got
	assert.Equal(t, "staff-7", got.SubjectID)
	assert.Equal(t, presensi.CheckIn, got.Type)
	assert.Equal(t, "pagi", got.ShiftTag)
	assert.True(t, got.Device.MockLocationDetected)
	assert.True(t, got.Device.FakeGPSAppDetected)
	assert.False(t, got.Device.DeveloperModeDetected)
	assert.Equal(t, time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC), got.Point.CapturedAt)
}

func TestCheckOut_UsesCheckOutType(t *testing.T) {
	f := newFixture(t)
	f.gate.verdict = &presensi.RiskVerdict{ID: "v-2", RiskLevel: risk.RiskLevelLow, ActionTaken: risk.ActionNone,
		Geofence: geofence.Result{IsWithinZone: true}}

	w, body := f.do(t, http.MethodPost, "/api/v1/attendance/check_out", token(t, "staff-7"), validBody())

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, presensi.CheckOut, f.gate.got.Type)
	assert.Equal(t, "attendance recorded", body["data"].(map[string]interface{})["message"])
}

func TestCheckIn_RequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		raw    string
		status int
		code   string
	}{
		{name: "unknown field", mutate: func(b map[string]interface{}) { b["gps_spoof_score"] = 1 }, status: 400, code: "VALIDATION_ERROR"},
		{name: "missing latitude", mutate: func(b map[string]interface{}) { delete(b, "latitude") }, status: 400, code: "VALIDATION_ERROR"},
		{name: "missing timestamp", mutate: func(b map[string]interface{}) { delete(b, "timestamp") }, status: 400, code: "VALIDATION_ERROR"},
		{name: "missing zone", mutate: func(b map[string]interface{}) { b["zone_id"] = " " }, status: 400, code: "VALIDATION_ERROR"},
		{name: "latitude out of range", mutate: func(b map[string]interface{}) { b["latitude"] = 91 }, status: 400, code: "INVALID_COORDINATE"},
		{name: "negative accuracy", mutate: func(b map[string]interface{}) { b["accuracy"] = -1 }, status: 400, code: "INVALID_COORDINATE"},
		{name: "malformed json", raw: "{", status: 400, code: "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var body interface{} = tt.raw
			if tt.mutate != nil {
				b := validBody()
				tt.mutate(b)
				body = b
			}

			w, decoded := f.do(t, http.MethodPost, "/api/v1/attendance/check_in", token(t, "staff-7"), body)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, false, decoded["success"])
			assert.Equal(t, tt.code, decoded["error"].(map[string]interface{})["code"])
			assert.Empty(t, f.gate.got.SubjectID, "gate must not be called")
		})
	}
}

func TestCheckIn_GateErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"zone not found", fmt.Errorf("load zone: %w", presensi.ErrZoneNotFound), http.StatusNotFound, "ZONE_NOT_FOUND"},
		{"zone lookup timeout", presensi.ErrZoneLookupTimeout, http.StatusGatewayTimeout, "ZONE_LOOKUP_TIMEOUT"},
		{"invalid coordinate", fmt.Errorf("%w: lat", geo.ErrInvalidCoordinate), http.StatusBadRequest, "INVALID_COORDINATE"},
		{"in flight", presensi.ErrSubmissionInFlight, http.StatusConflict, "SUBMISSION_IN_PROGRESS"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gate.verdict, f.gate.err = nil, tt.err

			w, body := f.do(t, http.MethodPost, "/api/v1/attendance/check_in", token(t, "staff-7"), validBody())

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, body["error"].(map[string]interface{})["code"])
			assert.NotContains(t, w.Body.String(), "boom")
		})
	}
}

func TestCheckIn_DuplicateReturnsOriginal(t *testing.T) {
	f := newFixture(t)
	f.gate.err = presensi.ErrDuplicateVerdict

	w, body := f.do(t, http.MethodPost, "/api/v1/attendance/check_in", token(t, "staff-7"), validBody())

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_ATTENDANCE", body["error"].(map[string]interface{})["code"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "v-1", data["verdict_id"])
	assert.Equal(t, "blocked", data["action_taken"])
}

func TestAPI_RequiresToken(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/attendance/check_in", "", validBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = f.do(t, http.MethodGet, "/api/v1/zones", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListZones(t *testing.T) {
	f := newFixture(t)
	f.gate.zones = []zone.WorkZone{{
		ID:                  "klinik-utama",
		Name:                "Klinik Utama",
		Center:              geo.LatLon{Latitude: -6.2088, Longitude: 106.8456},
		RadiusMeters:        100,
		GPSAccuracyRequired: 20,
		RequirePhoto:        true,
		StrictGeofence:      true,
	}}

	w, body := f.do(t, http.MethodGet, "/api/v1/zones?shift=malam", token(t, "staff-7"), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "malam", f.gate.shift)
	zones := body["data"].([]interface{})
	require.Len(t, zones, 1)
	z := zones[0].(map[string]interface{})
	assert.Equal(t, "klinik-utama", z["id"])
	assert.Equal(t, true, z["require_photo"])
	assert.Equal(t, 20.0, z["gps_accuracy_required"])
	assert.Equal(t, []interface{}{}, z["allowed_shifts"])
	assert.NotContains(t, z, "strict_geofence")
}

func TestReviewerRoutes_RequireRole(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodGet, "/api/v1/verdicts/v-1", token(t, "staff-7"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/v1/verdicts/v-1", token(t, "dr-a", "reviewer"), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/v1/verdicts/v-1", token(t, "root", "admin"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetVerdict(t *testing.T) {
	f := newFixture(t)
	reviewer := token(t, "dr-a", "reviewer")

	w, body := f.do(t, http.MethodGet, "/api/v1/verdicts/v-1", reviewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(80), data["risk_score"])
	assert.Len(t, data["factors"], 1)

	w, body = f.do(t, http.MethodGet, "/api/v1/verdicts/missing", reviewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "VERDICT_NOT_FOUND", body["error"].(map[string]interface{})["code"])
}

func TestListVerdicts(t *testing.T) {
	f := newFixture(t)
	reviewer := token(t, "dr-a", "reviewer")

	w, body := f.do(t, http.MethodGet, "/api/v1/verdicts?action=BLOCKED&subject_id=staff-7&limit=10", reviewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, store.VerdictFilter{Action: risk.ActionBlocked, SubjectID: "staff-7", Limit: 10}, f.verdicts.filter)

	w, body = f.do(t, http.MethodGet, "/api/v1/verdicts?action=flagged", reviewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, body["data"])

	w, _ = f.do(t, http.MethodGet, "/api/v1/verdicts?action=ignored", reviewer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/v1/verdicts?limit=-1", reviewer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviews(t *testing.T) {
	f := newFixture(t)
	reviewer := token(t, "dr-a", "reviewer")

	w, body := f.do(t, http.MethodPost, "/api/v1/verdicts/v-1/reviews", reviewer,
		map[string]string{"decision": "false_positive", "notes": "GPS drift near the lift"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "dr-a", data["reviewed_by"])
	assert.Equal(t, "false_positive", data["decision"])

	w, body = f.do(t, http.MethodPost, "/api/v1/verdicts/v-1/reviews", reviewer, map[string]string{"decision": "looks fine"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_DECISION", body["error"].(map[string]interface{})["code"])

	w, _ = f.do(t, http.MethodPost, "/api/v1/verdicts/v-1/reviews", reviewer, map[string]string{"notes": "no decision"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/verdicts/ghost/reviews", reviewer, map[string]string{"decision": "needs_followup"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = f.do(t, http.MethodGet, "/api/v1/verdicts/v-1/reviews", reviewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)
}

func TestSearchVerdicts(t *testing.T) {
	f := newFixture(t)
	reviewer := token(t, "dr-a", "admin")

	w, body := f.do(t, http.MethodGet, "/api/v1/search/verdicts?zone_id=igd&min_score=60&lat=-6.2&lon=106.8&within_km=2", reviewer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["data"].(map[string]interface{})["total"])
	assert.Equal(t, "igd", f.searcher.query.ZoneID)
	assert.Equal(t, 60, f.searcher.query.MinScore)
	require.NotNil(t, f.searcher.query.Near)
	assert.Equal(t, 2.0, f.searcher.query.WithinKm)

	w, _ = f.do(t, http.MethodGet, "/api/v1/search/verdicts?lat=95&lon=0", reviewer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchVerdicts_DisabledWithoutSearcher(t *testing.T) {
	h := NewHandler(&fakeGate{}, &fakeVerdicts{}, &fakeReviews{}, nil, nil)
	router := NewRouter(RouterConfig{ServiceName: "presensi-test", JWTSecret: testSecret}, h, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search/verdicts", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "root", "admin"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_OpsRoutesArePublic(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		w, _ := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w, _ := f.do(t, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, DefaultAPIVersion, w.Header().Get(HeaderAPIVersion))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRouter_RateLimitsSubjects(t *testing.T) {
	mr := testutil.Start(t)
	gate := &fakeGate{}
	h := NewHandler(gate, &fakeVerdicts{}, &fakeReviews{}, nil, zap.NewNop())
	router := NewRouter(RouterConfig{
		ServiceName: "presensi-test",
		JWTSecret:   testSecret,
		RateLimit:   middleware.RateLimitConfig{Requests: 2, Window: time.Hour},
		Redis:       mr.Client(),
	}, h, nil, zap.NewNop())

	bearer := token(t, "staff-7")
	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/zones", nil)
		req.Header.Set("Authorization", "Bearer "+bearer)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestCheckIn_ListsEveryMissingField(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/attendance/check_in", token(t, "staff-7"), map[string]interface{}{"zone_id": "igd"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	errBody := body["error"].(map[string]interface{})
	fields := errBody["metadata"].(map[string]interface{})["fields"].([]interface{})
	var names []string
	for _, f := range fields {
		names = append(names, f.(map[string]interface{})["field"].(string))
	}
	assert.Equal(t, []string{"latitude", "longitude", "accuracy", "timestamp"}, names)
}
