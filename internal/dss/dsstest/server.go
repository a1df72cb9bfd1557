// Package dsstest provides an in-memory store server for tests.
package dsstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// File is a registered file version.
type File struct {
	SourceURL string
	pending   int
	readyAt   time.Time
}

// BundleFile mirrors the bundle registration entry.
type BundleFile struct {
	UUID    string `json:"uuid"`
	Version string `json:"version"`
	Name    string `json:"name"`
	Indexed bool   `json:"indexed"`
}

type failure struct {
	method string
	prefix string
	status int
	times  int
}

// Server is a fake store. Identical re-registrations answer 200, differing
// ones 409, new ones 201 (or 202 when async copies are enabled).
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	files      map[string]map[string]*File
	bundles    map[string]map[string][]BundleFile
	calls      map[string]int
	failures   []*failure
	asyncHeads int
	copyDelay  time.Duration
	authz      []string
}

// NewServer starts a fake store. Its API root is URL + "/v1".
func NewServer() *Server {
	s := &Server{
		files:   make(map[string]map[string]*File),
		bundles: make(map[string]map[string][]BundleFile),
		calls:   make(map[string]int),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.record)
	api.HandleFunc("/files/{uuid}", s.putFile).Methods(http.MethodPut)
	api.HandleFunc("/files/{uuid}", s.headFile).Methods(http.MethodHead)
	api.HandleFunc("/bundles/{uuid}", s.putBundle).Methods(http.MethodPut)
	api.HandleFunc("/bundles/{uuid}", s.getBundle).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	return s
}

// Endpoint is the API root to configure clients with.
func (s *Server) Endpoint() string {
	return s.URL + "/v1"
}

// FailNext makes the next times requests matching method and path prefix
// (relative to /v1, e.g. "/bundles") answer status.
func (s *Server) FailNext(method, prefix string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, prefix: prefix, status: status, times: times})
}

// AsyncCopies makes new file registrations answer 202 and stay invisible to
// HEAD for the given number of polls.
func (s *Server) AsyncCopies(pendingHeads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asyncHeads = pendingHeads
}

// CopyDelay makes new file registrations answer 202 and stay invisible to
// HEAD until d has passed.
func (s *Server) CopyDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copyDelay = d
}

// Calls counts requests by method and resource ("files" or "bundles").
func (s *Server) Calls(method, resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+resource]
}

// TotalCalls counts every request.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Bundle returns the files of a registered bundle version.
func (s *Server) Bundle(uuid, version string) ([]BundleFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, ok := s.bundles[uuid][version]
	return files, ok
}

// BundleCount counts registered bundle versions.
func (s *Server) BundleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, versions := range s.bundles {
		n += len(versions)
	}
	return n
}

// FileCount counts registered file versions.
func (s *Server) FileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, versions := range s.files {
		n += len(versions)
	}
	return n
}

// Authorizations returns the Authorization headers seen so far.
func (s *Server) Authorizations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authz...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/v1")
		resource := strings.SplitN(strings.TrimPrefix(rel, "/"), "/", 2)[0]

		s.mu.Lock()
		s.calls[r.Method+" "+resource]++
		s.authz = append(s.authz, r.Header.Get("Authorization"))
		for _, f := range s.failures {
			if f.times > 0 && f.method == r.Method && strings.HasPrefix(rel, f.prefix) {
				f.times--
				s.mu.Unlock()
				writeJSON(w, f.status, map[string]string{"code": http.StatusText(f.status)})
				return
			}
		}
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) putFile(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	version := r.URL.Query().Get("version")

	var req struct {
		SourceURL  string `json:"source_url"`
		CreatorUID int    `json:"creator_uid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceURL == "" || version == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "illegal_arguments"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.files[uuid][version]; ok {
		if existing.SourceURL != req.SourceURL {
			writeJSON(w, http.StatusConflict, map[string]string{"code": "file_already_exists"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"version": version})
		return
	}

	if s.files[uuid] == nil {
		s.files[uuid] = make(map[string]*File)
	}
	s.files[uuid][version] = &File{SourceURL: req.SourceURL, pending: s.asyncHeads, readyAt: time.Now().Add(s.copyDelay)}
	status := http.StatusCreated
	if s.asyncHeads > 0 || s.copyDelay > 0 {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]string{"version": version})
}

func (s *Server) headFile(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	version := r.URL.Query().Get("version")

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[uuid][version]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if f.pending > 0 {
		f.pending--
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if time.Now().Before(f.readyAt) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) putBundle(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	version := r.URL.Query().Get("version")

	var req struct {
		CreatorUID int          `json:"creator_uid"`
		Files      []BundleFile `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || version == "" || len(req.Files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "illegal_arguments"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range req.Files {
		if _, ok := s.files[f.UUID][f.Version]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "file_missing", "uuid": f.UUID})
			return
		}
	}

	if existing, ok := s.bundles[uuid][version]; ok {
		if !reflect.DeepEqual(existing, req.Files) {
			writeJSON(w, http.StatusConflict, map[string]string{"code": "bundle_already_exists"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"version": version})
		return
	}

	if s.bundles[uuid] == nil {
		s.bundles[uuid] = make(map[string][]BundleFile)
	}
	s.bundles[uuid][version] = req.Files
	writeJSON(w, http.StatusCreated, map[string]string{"version": version})
}

func (s *Server) getBundle(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	version := r.URL.Query().Get("version")

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.bundles[uuid]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found"})
		return
	}
	if version == "" {
		for v := range versions {
			if v > version {
				version = v
			}
		}
	}
	files, ok := versions[version]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bundle": map[string]any{"uuid": uuid, "version": version, "files": files},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
