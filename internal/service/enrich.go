package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/arielsync/internal/ariel"
	"github.com/raphaelgruber/arielsync/internal/models"
)

// Enricher adds reporting fields to decoded records.
type Enricher struct {
	// Location is the zone ReportDate and WeekFrom are computed in.
	Location *time.Location
	// EpochFields lists record keys holding the event start in epoch
	// milliseconds; the first present one is used.
	EpochFields []string
	// Now supplies the ingestion timestamp.
	Now func() time.Time
}

// NewEnricher returns an enricher for loc using the default epoch fields.
func NewEnricher(loc *time.Location) *Enricher {
	if loc == nil {
		loc = time.Local
	}
	return &Enricher{
		Location:    loc,
		EpochFields: models.DefaultEpochFields,
		Now:         time.Now,
	}
}

// Enrich sets createdAt on rec and, when an epoch start field is present,
// Start Time ISO, WeekFrom and ReportDate.
func (e *Enricher) Enrich(rec models.Record) {
	if ms, ok := e.epochMillis(rec); ok {
		sec := ms / 1000
		local := time.Unix(sec, 0).In(e.Location)
		rec[models.FieldStartTimeISO] = time.Unix(sec, 0).UTC()
		rec[models.FieldWeekFrom] = previousSaturday(local).Format(models.ReportDateLayout)
		rec[models.FieldReportDate] = local.Format(models.ReportDateLayout)
	}
	rec[models.FieldCreatedAt] = e.Now().UTC()
}

func (e *Enricher) epochMillis(rec models.Record) (int64, bool) {
	for _, field := range e.EpochFields {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case int64:
			return n, true
		case int:
			return int64(n), true
		case float64:
			return int64(math.Floor(n)), true
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, true
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

// previousSaturday returns the date of the Saturday on or before t.
func previousSaturday(t time.Time) time.Time {
	back := (int(t.Weekday()) - int(time.Saturday) + 7) % 7
	return t.AddDate(0, 0, -back)
}

// DecodeRecord parses the first JSON object in fragment. Numbers become int64
// when integral and float64 otherwise.
func DecodeRecord(fragment string) (models.Record, error) {
	dec := json.NewDecoder(strings.NewReader(fragment))
	dec.UseNumber()

	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decode record: %v", ariel.ErrMalformedResponse, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: record is null", ariel.ErrMalformedResponse)
	}
	for k, v := range rec {
		rec[k] = normalizeNumbers(v)
	}
	return rec, nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, inner := range x {
			x[k] = normalizeNumbers(inner)
		}
		return x
	case []any:
		for i, inner := range x {
			x[i] = normalizeNumbers(inner)
		}
		return x
	default:
		return v
	}
}
