// Package sdktest provides an in-process fake of the vendor remote API for tests.
package sdktest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Server is a fake remote API backed by httptest.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	tokens    map[string]map[string]any // token -> user object
	tokenErrs map[string]int
	units     []map[string]any
	resources []map[string]any
	zones     map[int64][]map[string]any
	zoneDelay map[int64]time.Duration
	svcErrs   map[string]int
	calls     map[string]int
	created   []map[string]any
	nextZone  int64
	sid       string
}

// New starts a fake remote API. The bootstrap script is served at /wialon/js/wialon.js.
func New() *Server {
	s := &Server{
		tokens:    make(map[string]map[string]any),
		tokenErrs: make(map[string]int),
		zones:     make(map[int64][]map[string]any),
		zoneDelay: make(map[int64]time.Duration),
		svcErrs:   make(map[string]int),
		calls:     make(map[string]int),
		nextZone:  100,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/wialon/js/wialon.js", func(w http.ResponseWriter, r *http.Request) {
		s.count("bootstrap")
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("var wialon = {};"))
	})
	mux.HandleFunc("/wialon/ajax.html", s.handleAjax)
	s.Server = httptest.NewServer(mux)
	return s
}

// ScriptURL returns the bootstrap URL.
func (s *Server) ScriptURL() string {
	return s.URL + "/wialon/js/wialon.js"
}

// AddToken registers a token that logs in as the given user.
func (s *Server) AddToken(token string, userID int64, userName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = map[string]any{"id": userID, "nm": userName}
}

// RejectToken makes token/login fail with code for token.
func (s *Server) RejectToken(token string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenErrs[token] = code
}

// SetUnits replaces the unit items returned by update_data_flags.
func (s *Server) SetUnits(units ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = units
}

// SetResources replaces the resource items.
func (s *Server) SetResources(resources ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = resources
}

// SetZones replaces the zones of a resource.
func (s *Server) SetZones(resourceID int64, zones ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[resourceID] = zones
}

// DelayZones delays get_zone_data responses for a resource.
func (s *Server) DelayZones(resourceID int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoneDelay[resourceID] = d
}

// FailService makes every call to svc answer with the error code.
func (s *Server) FailService(svc string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.svcErrs[svc] = code
}

// RecoverService clears a failure set by FailService.
func (s *Server) RecoverService(svc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.svcErrs, svc)
}

// Calls returns how many times svc was called.
func (s *Server) Calls(svc string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[svc]
}

// CreatedZones returns the raw params of every resource/update_zone call.
func (s *Server) CreatedZones() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.created))
	copy(out, s.created)
	return out
}

func (s *Server) count(svc string) {
	s.mu.Lock()
	s.calls[svc]++
	s.mu.Unlock()
}

func (s *Server) handleAjax(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	svc := r.Form.Get("svc")
	s.count(svc)

	var params map[string]any
	if raw := r.Form.Get("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			writeJSON(w, map[string]any{"error": 4})
			return
		}
	}

	s.mu.Lock()
	code, failing := s.svcErrs[svc]
	s.mu.Unlock()
	if failing {
		writeJSON(w, map[string]any{"error": code})
		return
	}

	switch svc {
	case "token/login":
		s.login(w, params)
	case "core/logout":
		s.mu.Lock()
		s.sid = ""
		s.mu.Unlock()
		writeJSON(w, map[string]any{"error": 0})
	case "core/update_data_flags":
		s.updateDataFlags(w, r.Form.Get("sid"), params)
	case "resource/get_zone_data":
		s.zoneData(w, params)
	case "resource/update_zone":
		s.updateZone(w, params)
	default:
		writeJSON(w, map[string]any{"error": 2})
	}
}

func (s *Server) login(w http.ResponseWriter, params map[string]any) {
	token, _ := params["token"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.tokenErrs[token]; ok {
		writeJSON(w, map[string]any{"error": code})
		return
	}
	user, ok := s.tokens[token]
	if !ok {
		writeJSON(w, map[string]any{"error": 8})
		return
	}
	s.sid = "sid-" + strconv.Itoa(len(s.calls))
	writeJSON(w, map[string]any{"eid": s.sid, "user": user})
}

func (s *Server) updateDataFlags(w http.ResponseWriter, sid string, params map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sid == "" || sid != s.sid {
		writeJSON(w, map[string]any{"error": 1})
		return
	}

	specs, _ := params["spec"].([]any)
	out := []map[string]any{}
	for _, raw := range specs {
		spec, _ := raw.(map[string]any)
		var items []map[string]any
		switch spec["data"] {
		case "avl_unit":
			items = s.units
		case "avl_resource":
			items = s.resources
		}
		for _, it := range items {
			out = append(out, map[string]any{"i": it["id"], "d": it, "f": spec["flags"]})
		}
	}
	writeJSON(w, out)
}

func (s *Server) zoneData(w http.ResponseWriter, params map[string]any) {
	id := int64(toFloat(params["itemId"]))

	s.mu.Lock()
	delay := s.zoneDelay[id]
	zones := s.zones[id]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if zones == nil {
		zones = []map[string]any{}
	}
	writeJSON(w, zones)
}

func (s *Server) updateZone(w http.ResponseWriter, params map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.created = append(s.created, params)
	name, _ := params["n"].(string)
	if name == "" {
		writeJSON(w, map[string]any{"error": 4})
		return
	}

	s.nextZone++
	zone := map[string]any{
		"id": s.nextZone,
		"n":  name,
		"t":  params["t"],
		"w":  params["w"],
		"c":  params["c"],
		"p":  params["p"],
	}
	resID := int64(toFloat(params["itemId"]))
	s.zones[resID] = append(s.zones[resID], zone)
	writeJSON(w, []any{s.nextZone, zone})
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
	}
}
