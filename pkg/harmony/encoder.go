// Package harmony talks to the Earthdata Harmony OGC coverages API.
package harmony

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/psantana5/earthfetch/pkg/models"
)

// ServiceName identifies Harmony jobs
const ServiceName = "harmony"

// Params keys that carry the request path rather than query parameters
const (
	paramCollection = "_collection"
	paramVariables  = "_variables"
)

// Encoder encodes criteria as Harmony rangeset parameters
type Encoder struct{}

// Service implements query.Encoder
func (Encoder) Service() string { return ServiceName }

// Encode implements query.Encoder. Harmony addresses collections by CMR
// concept id, so opts.CollectionID is required.
func (Encoder) Encode(c models.SearchCriteria, opts models.OrderOptions) (url.Values, error) {
	if strings.TrimSpace(opts.CollectionID) == "" {
		return nil, &models.FieldError{Field: "collection_id", Reason: "is required for harmony"}
	}

	b := c.BoundingBox
	v := url.Values{}
	v.Set(paramCollection, opts.CollectionID)
	if len(opts.Variables) > 0 {
		v.Set(paramVariables, strings.Join(opts.Variables, ","))
	}
	v.Add("subset", fmt.Sprintf("lat(%s:%s)", coord(b.South), coord(b.North)))
	v.Add("subset", fmt.Sprintf("lon(%s:%s)", coord(b.West), coord(b.East)))
	v.Add("subset", fmt.Sprintf(`time("%s":"%s")`,
		c.Temporal.Start.UTC().Format(models.TimeLayout), c.Temporal.End.UTC().Format(models.TimeLayout)))
	v.Set("format", opts.Format)
	if err := models.MergeExtra(v, opts.Extra, paramCollection, paramVariables, "subset", "forceAsync"); err != nil {
		return nil, err
	}
	v.Set("forceAsync", "true")
	return v, nil
}

func coord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// rangesetURL builds the request URL from encoded params
func rangesetURL(root string, params url.Values) (string, error) {
	collection := params.Get(paramCollection)
	if collection == "" {
		return "", fmt.Errorf("request has no collection id")
	}
	vars := "all"
	if v := params.Get(paramVariables); v != "" {
		vars = url.PathEscape(v)
	}

	q := url.Values{}
	for key, values := range params {
		if key == paramCollection || key == paramVariables {
			continue
		}
		q[key] = values
	}
	return fmt.Sprintf("%s/%s/ogc-api-coverages/1.0.0/collections/%s/coverage/rangeset?%s",
		root, url.PathEscape(collection), vars, q.Encode()), nil
}
