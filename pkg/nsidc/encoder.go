// Package nsidc talks to the NSIDC EGI subsetting and ordering API.
package nsidc

import (
	"net/url"
	"strings"

	"github.com/psantana5/earthfetch/pkg/models"
)

// ServiceName identifies NSIDC jobs
const ServiceName = "nsidc"

// DefaultPageSize is the number of granules per EGI order page
const DefaultPageSize = "2000"

// reservedParams are derived from validated criteria and may not appear in
// OrderOptions.Extra
var reservedParams = []string{
	"short_name", "version", "temporal", "bounding_box", "bbox", "polygon", "provider", "request_mode",
}

// Encoder encodes criteria as EGI request parameters
type Encoder struct{}

// Service implements query.Encoder
func (Encoder) Service() string { return ServiceName }

// Encode implements query.Encoder. Orders are always placed asynchronously;
// a synchronous EGI request streams the zip in the response and cannot be
// polled.
func (Encoder) Encode(c models.SearchCriteria, opts models.OrderOptions) (url.Values, error) {
	v := url.Values{}
	v.Set("short_name", c.ShortName)
	v.Set("version", c.Version)
	v.Set("temporal", c.Temporal.String())
	v.Set("bounding_box", c.BoundingBox.String())
	v.Set("bbox", c.BoundingBox.String())
	if c.Provider != "" {
		v.Set("provider", c.Provider)
	}

	v.Set("email", opts.Email)
	v.Set("format", opts.Format)
	if len(opts.Variables) > 0 {
		v.Set("Coverage", strings.Join(opts.Variables, ","))
	}

	v.Set("page_size", DefaultPageSize)
	v.Set("agent", "NO")
	v.Set("include_meta", "Y")
	if err := models.MergeExtra(v, opts.Extra, reservedParams...); err != nil {
		return nil, err
	}
	v.Set("request_mode", "async")
	return v, nil
}
