package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format every Earthdata service accepts
const TimeLayout = "2006-01-02T15:04:05Z"

// BoundingBox is a rectangular geographic filter in decimal degrees
type BoundingBox struct {
	West  float64 `json:"west" yaml:"west"`
	South float64 `json:"south" yaml:"south"`
	East  float64 `json:"east" yaml:"east"`
	North float64 `json:"north" yaml:"north"`
}

// TemporalRange is an inclusive time window
type TemporalRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// SearchCriteria selects the granules of one dataset. It is a value type;
// copies are never shared mutably.
type SearchCriteria struct {
	ShortName   string        `json:"short_name" yaml:"short_name"`
	Version     string        `json:"version" yaml:"version"`
	Provider    string        `json:"provider,omitempty" yaml:"provider,omitempty"`
	BoundingBox BoundingBox   `json:"bounding_box" yaml:"bounding_box"`
	Temporal    TemporalRange `json:"temporal" yaml:"temporal"`
}

// FieldError names the criteria field that failed validation
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks the bounding box and temporal invariants
func (c SearchCriteria) Validate() error {
	if strings.TrimSpace(c.ShortName) == "" {
		return &FieldError{Field: "short_name", Reason: "is required"}
	}
	if strings.TrimSpace(c.Version) == "" {
		return &FieldError{Field: "version", Reason: "is required"}
	}
	if err := c.BoundingBox.Validate(); err != nil {
		return err
	}
	return c.Temporal.Validate()
}

// Validate checks west < east, south < north and coordinate ranges
func (b BoundingBox) Validate() error {
	for _, v := range []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"west", b.West, -180, 180},
		{"east", b.East, -180, 180},
		{"south", b.South, -90, 90},
		{"north", b.North, -90, 90},
	} {
		if v.value != v.value || v.value < v.min || v.value > v.max {
			return &FieldError{Field: "bounding_box." + v.name, Reason: fmt.Sprintf("%v outside [%v,%v]", v.value, v.min, v.max)}
		}
	}
	if b.West >= b.East {
		return &FieldError{Field: "bounding_box", Reason: fmt.Sprintf("west %v must be less than east %v", b.West, b.East)}
	}
	if b.South >= b.North {
		return &FieldError{Field: "bounding_box", Reason: fmt.Sprintf("south %v must be less than north %v", b.South, b.North)}
	}
	return nil
}

// Validate checks start <= end and that both are set
func (t TemporalRange) Validate() error {
	if t.Start.IsZero() || t.End.IsZero() {
		return &FieldError{Field: "temporal", Reason: "start and end are required"}
	}
	if t.Start.After(t.End) {
		return &FieldError{Field: "temporal", Reason: "start must not be after end"}
	}
	return nil
}

// String renders the box as "W,S,E,N"
func (b BoundingBox) String() string {
	return strings.Join([]string{
		formatCoord(b.West), formatCoord(b.South), formatCoord(b.East), formatCoord(b.North),
	}, ",")
}

// String renders the range as "start,end" in UTC
func (t TemporalRange) String() string {
	return t.Start.UTC().Format(TimeLayout) + "," + t.End.UTC().Format(TimeLayout)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseBoundingBox parses "W,S,E,N". The result is not validated.
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("bounding box %q: expected W,S,E,N", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("bounding box %q: %w", s, err)
		}
		vals[i] = v
	}
	return BoundingBox{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}, nil
}

// ParseTemporalRange parses "start,end" timestamps in TimeLayout or RFC3339
func ParseTemporalRange(s string) (TemporalRange, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return TemporalRange{}, fmt.Errorf("temporal %q: expected start,end", s)
	}
	start, err := ParseTime(parts[0])
	if err != nil {
		return TemporalRange{}, err
	}
	end, err := ParseTime(parts[1])
	if err != nil {
		return TemporalRange{}, err
	}
	return TemporalRange{Start: start, End: end}, nil
}

// ParseTime accepts "2006-01-02T15:04:05Z", RFC3339 and a bare date
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// OrderOptions are service-specific options layered on top of the criteria.
// Empty fields are omitted from the encoded request.
type OrderOptions struct {
	Variables    []string          `json:"variables,omitempty" yaml:"variables,omitempty"`
	Format       string            `json:"format,omitempty" yaml:"format,omitempty"`
	Email        string            `json:"email,omitempty" yaml:"email,omitempty"`
	CollectionID string            `json:"collection_id,omitempty" yaml:"collection_id,omitempty"`
	Extra        map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// OrderRequest is a validated, encoded request ready for submission
type OrderRequest struct {
	Service  string         `json:"service" yaml:"service"`
	Criteria SearchCriteria `json:"criteria" yaml:"criteria"`
	Options  OrderOptions   `json:"options" yaml:"options"`
	Params   url.Values     `json:"params" yaml:"params"`
}

// MergeExtra copies extra into v. Keys in reserved carry validated criteria
// or service invariants and cannot be overridden.
func MergeExtra(v url.Values, extra map[string]string, reserved ...string) error {
	for key, value := range extra {
		for _, r := range reserved {
			if strings.EqualFold(strings.TrimSpace(key), r) {
				return &FieldError{Field: "extra." + key, Reason: "overrides a reserved parameter"}
			}
		}
		v.Set(key, value)
	}
	return nil
}
