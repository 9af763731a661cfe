// Package search indexes attendance verdicts into Elasticsearch so reviewers
// can query them by subject, zone, action, score and location.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/common/database"
	"github.com/dokterku/presensi/internal/common/events"
	"github.com/dokterku/presensi/internal/metrics"
	"github.com/dokterku/presensi/internal/presensi"
)

// DefaultIndex is the verdict index name
const DefaultIndex = "presensi-verdicts"

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":              {"type": "keyword"},
      "subject_id":      {"type": "keyword"},
      "zone_id":         {"type": "keyword"},
      "attendance_type": {"type": "keyword"},
      "attendance_date": {"type": "date", "format": "yyyy-MM-dd"},
      "risk_score":      {"type": "integer"},
      "risk_level":      {"type": "keyword"},
      "is_spoofed":      {"type": "boolean"},
      "action_taken":    {"type": "keyword"},
      "location":        {"type": "geo_point"},
      "accuracy_meters": {"type": "float"},
      "distance_from_zone_meters": {"type": "float"},
      "factors":         {"type": "keyword"},
      "created_at":      {"type": "date"}
    }
  }
}`

// Document is the indexed form of a verdict
type Document struct {
	ID                     string    `json:"id"`
	SubjectID              string    `json:"subject_id"`
	ZoneID                 string    `json:"zone_id"`
	AttendanceType         string    `json:"attendance_type"`
	AttendanceDate         string    `json:"attendance_date"`
	RiskScore              int       `json:"risk_score"`
	RiskLevel              string    `json:"risk_level"`
	IsSpoofed              bool      `json:"is_spoofed"`
	ActionTaken            string    `json:"action_taken"`
	Location               GeoPoint  `json:"location"`
	AccuracyMeters         float64   `json:"accuracy_meters"`
	DistanceFromZoneMeters float64   `json:"distance_from_zone_meters"`
	Factors                []string  `json:"factors"`
	CreatedAt              time.Time `json:"created_at"`
}

// GeoPoint is the Elasticsearch geo_point object form
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewDocument flattens a verdict for indexing
func NewDocument(v *presensi.RiskVerdict) Document {
	factors := make([]string, 0, len(v.Factors))
	for _, f := range v.Factors {
		factors = append(factors, f.Name)
	}
	return Document{
		ID:                     v.ID,
		SubjectID:              v.SubjectID,
		ZoneID:                 v.ZoneID,
		AttendanceType:         string(v.AttendanceType),
		AttendanceDate:         v.AttendanceDate,
		RiskScore:              v.RiskScore,
		RiskLevel:              string(v.RiskLevel),
		IsSpoofed:              v.IsSpoofed,
		ActionTaken:            string(v.ActionTaken),
		Location:               GeoPoint{Lat: v.Point.Latitude, Lon: v.Point.Longitude},
		AccuracyMeters:         v.Point.AccuracyMeters,
		DistanceFromZoneMeters: v.Geofence.DistanceFromZoneMeters,
		Factors:                factors,
		CreatedAt:              v.CreatedAt,
	}
}

// VerdictIndexer writes verdicts to Elasticsearch and queries them back
type VerdictIndexer struct {
	es     *database.ElasticsearchClient
	index  string
	logger *zap.Logger
}

// NewVerdictIndexer creates an indexer for index (DefaultIndex when empty)
func NewVerdictIndexer(es *database.ElasticsearchClient, index string, logger *zap.Logger) *VerdictIndexer {
	if index == "" {
		index = DefaultIndex
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerdictIndexer{
		es:     es,
		index:  index,
		logger: logger.With(zap.String("component", "verdict_indexer")),
	}
}

// EnsureIndex creates the verdict index with its mapping if it does not exist
func (x *VerdictIndexer) EnsureIndex(ctx context.Context) error {
	return x.es.EnsureIndex(ctx, x.index, indexMapping)
}

// IndexVerdict upserts the document for v, keyed by verdict id
func (x *VerdictIndexer) IndexVerdict(ctx context.Context, v *presensi.RiskVerdict) error {
	body, err := json.Marshal(NewDocument(v))
	if err != nil {
		return fmt.Errorf("encode verdict document: %w", err)
	}
	if err := x.es.Index(ctx, x.index, v.ID, body); err != nil {
		metrics.IncSinkFailure("elasticsearch")
		x.logger.Warn("Failed to index verdict", zap.String("verdict_id", v.ID), zap.Error(err))
		return err
	}
	return nil
}

// HandleEvent is an events.EventHandler for verdict-recorded events
func (x *VerdictIndexer) HandleEvent(ctx context.Context, e events.Event) error {
	v, ok := e.Payload.(*presensi.RiskVerdict)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}
	return x.IndexVerdict(ctx, v)
}

// Query filters verdict searches. Zero fields are ignored.
type Query struct {
	SubjectID string
	ZoneID    string
	Action    string
	MinScore  int
	Near      *GeoPoint
	WithinKm  float64
	Limit     int
}

func (q Query) body() map[string]interface{} {
	var filters []interface{}
	term := func(field, value string) {
		if value != "" {
			filters = append(filters, map[string]interface{}{"term": map[string]interface{}{field: value}})
		}
	}
	term("subject_id", q.SubjectID)
	term("zone_id", q.ZoneID)
	term("action_taken", q.Action)

	if q.MinScore > 0 {
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"risk_score": map[string]interface{}{"gte": q.MinScore}},
		})
	}
	if q.Near != nil && q.WithinKm > 0 {
		filters = append(filters, map[string]interface{}{
			"geo_distance": map[string]interface{}{
				"distance": fmt.Sprintf("%gkm", q.WithinKm),
				"location": q.Near,
			},
		})
	}

	size := q.Limit
	if size <= 0 || size > 500 {
		size = 50
	}

	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if len(filters) > 0 {
		query = map[string]interface{}{"bool": map[string]interface{}{"filter": filters}}
	}
	return map[string]interface{}{
		"query": query,
		"size":  size,
		"sort":  []interface{}{map[string]interface{}{"created_at": map[string]interface{}{"order": "desc"}}},
	}
}

// Search runs q and returns matching documents, newest first
func (x *VerdictIndexer) Search(ctx context.Context, q Query) ([]Document, int, error) {
	body, err := json.Marshal(q.body())
	if err != nil {
		return nil, 0, fmt.Errorf("encode query: %w", err)
	}

	raw, err := x.es.Search(ctx, x.index, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}

	var resp database.EsSearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}

	docs := make([]Document, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var d Document
		if err := json.Unmarshal(hit.Source, &d); err != nil {
			return nil, 0, fmt.Errorf("decode hit: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, resp.Hits.Total.Value, nil
}
