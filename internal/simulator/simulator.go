// Package simulator is an in-process fake of the CMR, NSIDC EGI, Harmony
// and Earthdata Login endpoints earthfetch talks to. Orders progress one
// state per status request so clients can be exercised end to end.
package simulator

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/models"
)

// FailShortName makes any order for it fail on the service side
const FailShortName = "FAIL"

// Config tunes the simulator
type Config struct {
	// Token is the bearer token the data endpoints require; empty disables auth
	Token string
	// Username and Password are accepted by the token endpoint
	Username string
	Password string
	// PollsToComplete is how many status requests an order takes to finish
	PollsToComplete int
	Logger          *logging.Logger
}

type order struct {
	id        string
	service   string
	shortName string
	version   string
	polls     int
	cancelled bool
	files     map[string][]byte
}

// Simulator serves the fake endpoints
type Simulator struct {
	cfg    Config
	logger *logging.Logger

	mu     sync.Mutex
	orders map[string]*order
	nextID int64
}

// New creates a simulator
func New(cfg Config) *Simulator {
	if cfg.PollsToComplete <= 0 {
		cfg.PollsToComplete = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Simulator{cfg: cfg, logger: logger, orders: make(map[string]*order), nextID: 5000000962482}
}

// Handler returns the routed HTTP handler
func (s *Simulator) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger(s.logger), authMiddleware(s.cfg.Token))

	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/api/users/find_or_create_token", s.token).Methods("POST")

	r.HandleFunc("/search/granules.json", s.searchGranules).Methods("POST", "GET")
	r.HandleFunc("/search/collections.json", s.searchCollections).Methods("GET")
	r.HandleFunc("/search/services.umm_json", s.searchServices).Methods("GET")

	r.HandleFunc("/egi/request", s.egiSubmit).Methods("GET")
	r.HandleFunc("/egi/request/{id}", s.egiStatus).Methods("GET")
	r.HandleFunc("/esir/{id}.zip", s.egiDownload).Methods("GET")

	// Specific job routes before the collection wildcard
	r.HandleFunc("/jobs/{id}", s.harmonyStatus).Methods("GET")
	r.HandleFunc("/jobs/{id}/cancel", s.harmonyCancel).Methods("POST")
	r.HandleFunc("/service-results/{id}/{name}", s.harmonyDownload).Methods("GET")
	r.HandleFunc("/{collection}/ogc-api-coverages/1.0.0/collections/{variables}/coverage/rangeset", s.harmonySubmit).Methods("GET")
	return r
}

func (s *Simulator) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Simulator) token(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != s.cfg.Username || pass != s.cfg.Password {
		http.Error(w, `{"error":"invalid_credentials"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"access_token":    s.cfg.Token,
		"token_type":      "Bearer",
		"expiration_date": "12/31/2099",
	})
}

// granuleName is the file a fake order produces
func granuleName(shortName, version string) string {
	return fmt.Sprintf("processed_%s-01_20190622055317_12980301_%s_01.h5", shortName, version)
}

func granuleBody(shortName string) []byte {
	return []byte("HDF5 simulated granule for " + shortName + "\n")
}

// GranuleChecksum returns the SHA-256 of the granule produced for shortName
func GranuleChecksum(shortName string) string {
	sum := sha256.Sum256(granuleBody(shortName))
	return hex.EncodeToString(sum[:])
}

func (s *Simulator) searchGranules(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	short := r.Form.Get("short_name")
	version := r.Form.Get("version")
	w.Header().Set("CMR-Hits", "1")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"feed": map[string]any{"entry": []map[string]string{{
		"id":           "G2041547848-NSIDC_ECS",
		"title":        strings.TrimPrefix(granuleName(short, version), "processed_"),
		"granule_size": strconv.Itoa(len(granuleBody(short))),
		"time_start":   "2019-06-22T05:53:17.000Z",
		"time_end":     "2019-06-22T06:02:26.000Z",
	}}}})
}

// CollectionID is the concept id the simulator reports for shortName
func CollectionID(shortName string) string {
	return "C1595422627-" + shortName
}

func (s *Simulator) searchCollections(w http.ResponseWriter, r *http.Request) {
	short := r.URL.Query().Get("short_name")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("CMR-Hits", "1")
	json.NewEncoder(w).Encode(map[string]any{"feed": map[string]any{"entry": []map[string]any{{
		"id":           CollectionID(short),
		"short_name":   short,
		"version_id":   r.URL.Query().Get("version"),
		"title":        short + " simulated collection",
		"associations": map[string][]string{"services": {"S0000000001-SIM"}},
	}}}})
}

func (s *Simulator) searchServices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{
		"meta": map[string]string{"concept-id": r.URL.Query().Get("concept_id")},
		"umm": map[string]any{
			"Name": "Simulated subsetter",
			"Type": "Harmony",
			"URL":  map[string]string{"URLValue": "http://" + r.Host},
			"ServiceOptions": map[string]any{
				"Subset": map[string]any{"SpatialSubset": map[string]any{"BoundingBox": map[string]bool{"AllowMultipleValues": false}}},
			},
		},
	}}})
}

func (s *Simulator) newOrder(service, shortName, version string) *order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	if service == "nsidc" {
		id = strconv.FormatInt(s.nextID, 10)
		s.nextID++
	} else {
		id = uuid.NewString()
	}
	o := &order{id: id, service: service, shortName: shortName, version: version, files: make(map[string][]byte)}
	s.orders[id] = o
	return o
}

// advance records one status request and returns the resulting state
func (s *Simulator) advance(id string) (*order, models.JobStatus, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, "", 0, false
	}
	if o.cancelled {
		return o, models.JobStatusCancelled, 100 * o.polls / s.cfg.PollsToComplete, true
	}
	o.polls++
	progress := 100 * o.polls / s.cfg.PollsToComplete
	switch {
	case o.shortName == FailShortName && o.polls > 1:
		return o, models.JobStatusFailed, progress, true
	case o.polls >= s.cfg.PollsToComplete:
		return o, models.JobStatusComplete, 100, true
	case o.polls == 1:
		return o, models.JobStatusPending, 0, true
	default:
		return o, models.JobStatusRunning, progress, true
	}
}

func (s *Simulator) lookup(id string) (*order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func writeXML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
		`<eesi:agentResponse xmlns:eesi="http://eosdis.nasa.gov/esi/rsp/e">`+body+`</eesi:agentResponse>`)
}

func (s *Simulator) egiSubmit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("short_name") == "" || q.Get("version") == "" {
		w.WriteHeader(http.StatusBadRequest)
		writeXML(w, `<exception><Code>MissingParameterValue</Code><Message>short_name and version are required</Message></exception>`)
		return
	}
	if q.Get("request_mode") != "async" {
		w.WriteHeader(http.StatusBadRequest)
		writeXML(w, `<exception><Code>InvalidParameterValue</Code><Message>only async orders are simulated</Message></exception>`)
		return
	}
	o := s.newOrder("nsidc", q.Get("short_name"), q.Get("version"))
	s.logger.Info("EGI order accepted", logging.Fields{"order_id": o.id, "short_name": o.shortName})
	writeXML(w, `<order><orderId>`+o.id+`</orderId><Info>Your order has been received.</Info></order>`)
}

var egiStatusNames = map[models.JobStatus]string{
	models.JobStatusPending:   "pending",
	models.JobStatusRunning:   "processing",
	models.JobStatusComplete:  "complete",
	models.JobStatusFailed:    "failed",
	models.JobStatusCancelled: "canceled",
}

func (s *Simulator) egiStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, status, progress, ok := s.advance(id)
	if !ok {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	info := `<info>order ` + o.id + ` is ` + egiStatusNames[status] + `</info>`
	if status == models.JobStatusFailed {
		info = `<info>no granules matched the subset</info>`
	}
	writeXML(w, fmt.Sprintf(`<requestStatus><status>%s</status><numberProcessed>%d</numberProcessed><totalNumber>100</totalNumber></requestStatus><processInfo>%s</processInfo>`,
		egiStatusNames[status], progress, info))
}

func (s *Simulator) egiDownload(w http.ResponseWriter, r *http.Request) {
	o, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("173386050/" + granuleName(o.shortName, o.version))
	if err == nil {
		_, err = f.Write(granuleBody(o.shortName))
	}
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

func (s *Simulator) harmonySubmit(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	if len(r.URL.Query()["subset"]) == 0 {
		http.Error(w, `{"code":"harmony.RequestValidationError","description":"subset is required"}`, http.StatusBadRequest)
		return
	}
	short := collection
	if i := strings.IndexByte(collection, '-'); i >= 0 {
		short = collection[i+1:]
	}
	o := s.newOrder("harmony", short, "1")
	o.files[short+"_subsetted.nc4"] = granuleBody(short)
	s.logger.Info("Harmony job accepted", logging.Fields{"job_id": o.id, "collection": collection})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jobID":    o.id,
		"status":   "accepted",
		"progress": 0,
		"message":  "The job is being processed",
	})
}

var harmonyStatusNames = map[models.JobStatus]string{
	models.JobStatusPending:   "accepted",
	models.JobStatusRunning:   "running",
	models.JobStatusComplete:  "successful",
	models.JobStatusFailed:    "failed",
	models.JobStatusCancelled: "canceled",
}

func (s *Simulator) harmonyStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, status, progress, ok := s.advance(id)
	if !ok {
		http.Error(w, `{"code":"harmony.NotFoundError"}`, http.StatusNotFound)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	links := []map[string]string{{"href": scheme + "://" + r.Host + "/jobs/" + o.id, "rel": "self"}}
	if status == models.JobStatusComplete {
		s.mu.Lock()
		for name := range o.files {
			links = append(links, map[string]string{
				"href": scheme + "://" + r.Host + "/service-results/" + o.id + "/" + name,
				"rel":  "data",
			})
		}
		s.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jobID":    o.id,
		"status":   harmonyStatusNames[status],
		"progress": progress,
		"message":  "simulated job " + harmonyStatusNames[status],
		"links":    links,
	})
}

func (s *Simulator) harmonyCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	o, ok := s.orders[mux.Vars(r)["id"]]
	if ok {
		o.cancelled = true
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"jobID": o.id, "status": "canceled"})
}

func (s *Simulator) harmonyDownload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.mu.Lock()
	var data []byte
	var ok bool
	if o, found := s.orders[vars["id"]]; found {
		data, ok = o.files[vars["name"]]
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/x-netcdf4")
	w.Write(data)
}
