package cmr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/orders"
)

func atl07() models.SearchCriteria {
	return models.SearchCriteria{
		ShortName:   "ATL07",
		Version:     "003",
		BoundingBox: models.BoundingBox{West: -62.8, South: 81.7, East: -56.4, North: 83},
		Temporal: models.TemporalRange{
			Start: time.Date(2019, 6, 22, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2019, 6, 22, 23, 59, 59, 0, time.UTC),
		},
	}
}

func TestSearchGranulesPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/granules.json", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "ATL07", r.PostForm.Get("short_name"))
		assert.Equal(t, "-62.8,81.7,-56.4,83", r.PostForm.Get("bounding_box"))

		w.Header().Set("CMR-Hits", "3")
		var entries []map[string]string
		if r.Header.Get("CMR-Search-After") == "" {
			w.Header().Set("CMR-Search-After", `["page2"]`)
			entries = []map[string]string{
				{"id": "G1", "title": "ATL07-01_20190622055317_12980301_003_01.h5", "granule_size": "120.5"},
				{"id": "G2", "title": "ATL07-01_20190622073008_12990301_003_01.h5", "granule_size": "99.5"},
			}
		} else {
			assert.Equal(t, `["page2"]`, r.Header.Get("CMR-Search-After"))
			entries = []map[string]string{{"id": "G3", "title": "third", "granule_size": "10"}}
		}
		json.NewEncoder(w).Encode(map[string]any{"feed": map[string]any{"entry": entries}})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, nil, nil).SearchGranules(context.Background(), atl07())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Hits)
	assert.Len(t, res.Granules, 3)
	assert.InDelta(t, 230.0, res.TotalSizeMB, 0.001)
}

func TestSearchGranulesInvalid(t *testing.T) {
	c := atl07()
	c.Temporal.End = c.Temporal.Start.Add(-time.Hour)
	_, err := NewClient("http://127.0.0.1:1", nil, nil).SearchGranules(context.Background(), c)
	assert.True(t, errors.Is(err, orders.ErrInvalidCriteria))
}

func TestCollectionIDAndServices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/collections.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("short_name") == "missing" {
			fmt.Fprint(w, `{"feed":{"entry":[]}}`)
			return
		}
		fmt.Fprint(w, `{"feed":{"entry":[{"id":"C1940473819-POCLOUD","short_name":"MODIS_A-JPL-L2P-v2019.0","version_id":"2019.0","associations":{"services":["S1962070864-POCLOUD"]}}]}}`)
	})
	mux.HandleFunc("/search/services.umm_json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "S1962070864-POCLOUD", r.URL.Query().Get("concept_id"))
		fmt.Fprint(w, `{"items":[{"meta":{"concept-id":"S1962070864-POCLOUD"},"umm":{"Name":"PODAAC L2 Cloud Subsetter","Type":"Harmony","URL":{"URLValue":"https://harmony.earthdata.nasa.gov"},"ServiceOptions":{"Subset":{"SpatialSubset":{"BoundingBox":{"AllowMultipleValues":false}}}}}}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	id, err := c.CollectionID(context.Background(), "MODIS_A-JPL-L2P-v2019.0", "2019.0", "POCLOUD")
	require.NoError(t, err)
	assert.Equal(t, "C1940473819-POCLOUD", id)

	services, err := c.SearchServices(context.Background(), "MODIS_A-JPL-L2P-v2019.0", "2019.0", "")
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "Harmony", services[0].Type)
	assert.Contains(t, string(services[0].Options), "SpatialSubset")

	_, err = c.CollectionID(context.Background(), "missing", "1", "")
	assert.True(t, errors.Is(err, ErrNotFound))
}
