package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/orders"
)

func TestSplitHost(t *testing.T) {
	tests := []struct {
		in, scheme, host string
	}{
		{"urs.earthdata.nasa.gov", "https", "urs.earthdata.nasa.gov"},
		{"http://localhost:8089", "http", "localhost:8089"},
		{"https://uat.urs.earthdata.nasa.gov/", "https", "uat.urs.earthdata.nasa.gov"},
	}
	for _, tt := range tests {
		scheme, host := splitHost(tt.in)
		assert.Equal(t, tt.scheme, scheme, tt.in)
		assert.Equal(t, tt.host, host, tt.in)
	}
}

func TestCriteriaFlags(t *testing.T) {
	c := criteriaFlags{
		shortName: "ATL07",
		version:   "003",
		bbox:      "-62.8,81.7,-56.4,83",
		temporal:  "2019-06-22T00:00:00Z,2019-06-22T23:59:59Z",
	}
	got, err := c.criteria()
	require.NoError(t, err)
	assert.Equal(t, -62.8, got.BoundingBox.West)

	c.bbox = "-56.4,81.7,-62.8,83"
	_, err = c.criteria()
	assert.ErrorIs(t, err, orders.ErrInvalidCriteria)

	c.bbox = "1,2,3"
	_, err = c.criteria()
	var ice *orders.InvalidCriteriaError
	require.True(t, errors.As(err, &ice))
	assert.Equal(t, "bounding_box", ice.Field)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2<<20))
}

func TestSummarize(t *testing.T) {
	r := &orders.FetchResult{
		JobID:     "42",
		Succeeded: []string{"a.h5"},
		Failed:    []orders.FileFailure{{File: models.FileDescriptor{Name: "b.h5"}, Err: errors.New("checksum mismatch")}},
		Bytes:     10,
	}
	s := summarize(r, nil)
	assert.Equal(t, orders.OutcomePartial, s.Outcome)
	assert.Equal(t, "checksum mismatch", s.Failed["b.h5"])
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	old := outputFormat
	defer func() { outputFormat = old }()
	outputFormat = "xml"
	assert.Error(t, render(struct{}{}, func() {}))
}
