package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/dokterku/presensi/internal/common/errors"
	"github.com/dokterku/presensi/internal/common/middleware"
	"github.com/dokterku/presensi/internal/common/validation"
	"github.com/dokterku/presensi/internal/geo"
	"github.com/dokterku/presensi/internal/presensi"
	"github.com/dokterku/presensi/internal/risk"
	"github.com/dokterku/presensi/internal/signals"
	"github.com/dokterku/presensi/internal/zone"
)

const maxIdentifierLength = 64

// AttendanceGate is the part of the attendance gate the API drives
type AttendanceGate interface {
	Submit(ctx context.Context, s presensi.Submission) (*presensi.RiskVerdict, error)
	ListZones(ctx context.Context, shift string) ([]zone.WorkZone, error)
}

// AttendanceRequest is the body of check_in and check_out. Coordinates are
// pointers so a missing field is told apart from zero.
type AttendanceRequest struct {
	ZoneID    string     `json:"zone_id"`
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Accuracy  *float64   `json:"accuracy"`
	Timestamp *time.Time `json:"timestamp"`
	Shift     string     `json:"shift,omitempty"`
	signals.DeviceSignalSet
}

func (r AttendanceRequest) validate() error {
	return validation.ValidateAll(
		validation.ValidateRequired("zone_id", r.ZoneID),
		validation.ValidateMaxLength("zone_id", r.ZoneID, maxIdentifierLength),
		validation.ValidatePresent("latitude", r.Latitude != nil),
		validation.ValidatePresent("longitude", r.Longitude != nil),
		validation.ValidatePresent("accuracy", r.Accuracy != nil),
		validation.ValidatePresent("timestamp", r.Timestamp != nil),
		validation.ValidateMaxLength("shift", r.Shift, maxIdentifierLength),
	)
}

// AttendanceResponse is what the client sees. Weights and factors stay server side.
type AttendanceResponse struct {
	VerdictID              string         `json:"verdict_id"`
	RiskLevel              risk.RiskLevel `json:"risk_level"`
	IsSpoofed              bool           `json:"is_spoofed"`
	ActionTaken            risk.Action    `json:"action_taken"`
	DistanceFromZoneMeters float64        `json:"distance_from_zone_meters"`
	IsWithinZone           bool           `json:"is_within_zone"`
	Message                string         `json:"message"`
}

// NewAttendanceResponse builds the client view of a verdict
func NewAttendanceResponse(v *presensi.RiskVerdict) AttendanceResponse {
	return AttendanceResponse{
		VerdictID:              v.ID,
		RiskLevel:              v.RiskLevel,
		IsSpoofed:              v.IsSpoofed,
		ActionTaken:            v.ActionTaken,
		DistanceFromZoneMeters: v.Geofence.DistanceFromZoneMeters,
		IsWithinZone:           v.Geofence.IsWithinZone,
		Message:                messageFor(v),
	}
}

func messageFor(v *presensi.RiskVerdict) string {
	switch v.ActionTaken {
	case risk.ActionBlocked:
		return "location could not be verified"
	case risk.ActionWarning:
		return "attendance recorded; your location will be checked by the clinic"
	case risk.ActionFlagged:
		return "attendance recorded and queued for review"
	}
	if !v.Geofence.IsWithinZone {
		return "attendance recorded outside the work zone"
	}
	return "attendance recorded"
}

// ZoneView is the client discovery form of a work zone
type ZoneView struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Center              geo.LatLon `json:"center"`
	RadiusMeters        float64    `json:"radius_meters"`
	AllowedShifts       []string   `json:"allowed_shifts"`
	GPSAccuracyRequired float64    `json:"gps_accuracy_required"`
	RequirePhoto        bool       `json:"require_photo"`
}

func newZoneView(z zone.WorkZone) ZoneView {
	shifts := z.AllowedShifts
	if shifts == nil {
		shifts = []string{}
	}
	return ZoneView{
		ID:                  z.ID,
		Name:                z.Name,
		Center:              z.Center,
		RadiusMeters:        z.RadiusMeters,
		AllowedShifts:       shifts,
		GPSAccuracyRequired: z.GPSAccuracyRequired,
		RequirePhoto:        z.RequirePhoto,
	}
}

func (h *Handler) checkIn(c *gin.Context) {
	h.submit(c, presensi.CheckIn)
}

func (h *Handler) checkOut(c *gin.Context) {
	h.submit(c, presensi.CheckOut)
}

func (h *Handler) submit(c *gin.Context, kind presensi.AttendanceType) {
	var req AttendanceRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		apperrors.HandleError(c, apperrors.ValidationError("Invalid request body").WithDetails(err.Error()))
		return
	}
	if err := req.validate(); err != nil {
		handleError(c, err)
		return
	}

	point, err := geo.NewGeoPoint(*req.Latitude, *req.Longitude, *req.Accuracy, req.Timestamp.UTC())
	if err != nil {
		handleError(c, err)
		return
	}

	subjectID := middleware.SubjectID(c)
	verdict, err := h.gate.Submit(c.Request.Context(), presensi.Submission{
		SubjectID: subjectID,
		ZoneID:    strings.TrimSpace(req.ZoneID),
		Type:      kind,
		Point:     point,
		Device:    req.DeviceSignalSet,
		ShiftTag:  strings.ToLower(strings.TrimSpace(req.Shift)),
	})
	if errors.Is(err, presensi.ErrDuplicateVerdict) && verdict != nil {
		apperrors.HandleError(c, apperrors.DuplicateAttendance(NewAttendanceResponse(verdict)))
		return
	}
	if err != nil {
		h.logger.Warn("Attendance submission failed",
			zap.String("subject_id", subjectID),
			zap.String("attendance_type", string(kind)),
			zap.Error(err))
		handleError(c, err)
		return
	}

	respondOK(c, NewAttendanceResponse(verdict))
}

func (h *Handler) listZones(c *gin.Context) {
	zones, err := h.gate.ListZones(c.Request.Context(), c.Query("shift"))
	if err != nil {
		handleError(c, err)
		return
	}
	views := make([]ZoneView, 0, len(zones))
	for _, z := range zones {
		views = append(views, newZoneView(z))
	}
	respond(c, http.StatusOK, views)
}
