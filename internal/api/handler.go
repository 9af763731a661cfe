// Package api exposes the attendance gate and the reviewer workflow over HTTP
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/dokterku/presensi/internal/common/errors"
	"github.com/dokterku/presensi/internal/common/middleware"
	"github.com/dokterku/presensi/internal/common/validation"
	"github.com/dokterku/presensi/internal/geo"
	"github.com/dokterku/presensi/internal/presensi"
	"github.com/dokterku/presensi/internal/review"
	"github.com/dokterku/presensi/internal/risk"
	"github.com/dokterku/presensi/internal/search"
	"github.com/dokterku/presensi/internal/store"
)

// VerdictReader serves stored verdicts to reviewers
type VerdictReader interface {
	GetVerdict(ctx context.Context, id string) (*presensi.RiskVerdict, error)
	ListVerdicts(ctx context.Context, f store.VerdictFilter) ([]presensi.RiskVerdict, error)
}

// Reviewer records and lists review annotations
type Reviewer interface {
	AddReview(ctx context.Context, verdictID, reviewer, decision, notes string) (*review.Annotation, error)
	ListReviews(ctx context.Context, verdictID string) ([]review.Annotation, error)
}

// VerdictSearcher queries the verdict search index
type VerdictSearcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Document, int, error)
}

const maxListLimit = 500

var actionNames = []string{
	string(risk.ActionNone),
	string(risk.ActionFlagged),
	string(risk.ActionWarning),
	string(risk.ActionBlocked),
}

// ReviewerRoles may read verdicts and add reviews
var ReviewerRoles = []string{"admin", "reviewer"}

// Handler holds the HTTP handlers
type Handler struct {
	gate     AttendanceGate
	verdicts VerdictReader
	reviews  Reviewer
	searcher VerdictSearcher
	logger   *zap.Logger
}

// NewHandler creates the API handler. searcher may be nil when search is disabled.
func NewHandler(gate AttendanceGate, verdicts VerdictReader, reviews Reviewer, searcher VerdictSearcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gate:     gate,
		verdicts: verdicts,
		reviews:  reviews,
		searcher: searcher,
		logger:   logger.With(zap.String("component", "api")),
	}
}

// RegisterRoutes mounts the authenticated API under group, which must already
// run the Auth middleware
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	attendance := group.Group("/attendance")
	attendance.POST("/check_in", h.checkIn)
	attendance.POST("/check_out", h.checkOut)

	group.GET("/zones", h.listZones)

	reviewer := group.Group("", middleware.RequireRoles(ReviewerRoles...))
	reviewer.GET("/verdicts", h.listVerdicts)
	reviewer.GET("/verdicts/:id", h.getVerdict)
	reviewer.GET("/verdicts/:id/reviews", h.listReviews)
	reviewer.POST("/verdicts/:id/reviews", h.addReview)
	if h.searcher != nil {
		reviewer.GET("/search/verdicts", h.searchVerdicts)
	}
}

func (h *Handler) getVerdict(c *gin.Context) {
	v, err := h.verdicts.GetVerdict(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	respondOK(c, v)
}

func (h *Handler) listVerdicts(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err == nil {
		err = validation.ValidateAll(
			validation.ValidateRange("limit", limit, 0, maxListLimit),
			validation.ValidateOneOf("action", strings.ToLower(c.Query("action")), actionNames),
		)
	}
	if err != nil {
		handleError(c, err)
		return
	}

	verdicts, err := h.verdicts.ListVerdicts(c.Request.Context(), store.VerdictFilter{
		Action:    risk.Action(strings.ToLower(c.Query("action"))),
		SubjectID: c.Query("subject_id"),
		ZoneID:    c.Query("zone_id"),
		Limit:     limit,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	if verdicts == nil {
		verdicts = []presensi.RiskVerdict{}
	}
	respondOK(c, verdicts)
}

// ReviewRequest is the body of POST /verdicts/:id/reviews
type ReviewRequest struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

const maxNotesLength = 2000

func (h *Handler) addReview(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.ValidationError("Invalid request body").WithDetails(err.Error()))
		return
	}
	if err := validation.ValidateMaxLength("notes", req.Notes, maxNotesLength); err != nil {
		handleError(c, validation.ValidateAll(err))
		return
	}

	annotation, err := h.reviews.AddReview(c.Request.Context(), c.Param("id"), middleware.SubjectID(c), req.Decision, req.Notes)
	if err != nil {
		handleError(c, err)
		return
	}
	respond(c, http.StatusCreated, annotation)
}

func (h *Handler) listReviews(c *gin.Context) {
	annotations, err := h.reviews.ListReviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if annotations == nil {
		annotations = []review.Annotation{}
	}
	respondOK(c, annotations)
}

// SearchResult is the response of the verdict search
type SearchResult struct {
	Total     int               `json:"total"`
	Documents []search.Document `json:"documents"`
}

func (h *Handler) searchVerdicts(c *gin.Context) {
	q := search.Query{
		SubjectID: c.Query("subject_id"),
		ZoneID:    c.Query("zone_id"),
		Action:    c.Query("action"),
	}

	var err error
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		apperrors.HandleError(c, apperrors.ValidationError(err.Error()))
		return
	}
	if q.MinScore, err = queryInt(c, "min_score"); err != nil {
		apperrors.HandleError(c, apperrors.ValidationError(err.Error()))
		return
	}
	q.Action = strings.ToLower(q.Action)
	if err := validation.ValidateAll(
		validation.ValidateOneOf("action", q.Action, actionNames),
		validation.ValidateRange("limit", q.Limit, 0, maxListLimit),
		validation.ValidateRange("min_score", q.MinScore, 0, risk.MaxScore),
	); err != nil {
		handleError(c, err)
		return
	}

	if lat, lon := c.Query("lat"), c.Query("lon"); lat != "" || lon != "" {
		near, within, err := parseNear(lat, lon, c.DefaultQuery("within_km", "1"))
		if err != nil {
			apperrors.HandleError(c, apperrors.ValidationError(err.Error()))
			return
		}
		q.Near, q.WithinKm = near, within
	}

	docs, total, err := h.searcher.Search(c.Request.Context(), q)
	if err != nil {
		handleError(c, err)
		return
	}
	if docs == nil {
		docs = []search.Document{}
	}
	respondOK(c, SearchResult{Total: total, Documents: docs})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &validation.FieldError{Field: key, Message: "must be a non-negative integer", Value: raw}
	}
	return n, nil
}

func parseNear(lat, lon, within string) (*search.GeoPoint, float64, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("lat must be a number")
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("lon must be a number")
	}
	km, err := strconv.ParseFloat(within, 64)
	if err != nil || km <= 0 {
		return nil, 0, fmt.Errorf("within_km must be a positive number")
	}
	if err := geo.ValidateLatLon(geo.LatLon{Latitude: la, Longitude: lo}); err != nil {
		return nil, 0, err
	}
	return &search.GeoPoint{Lat: la, Lon: lo}, km, nil
}
