package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tidwall/sjson"

	"github.com/orion-sentinel/netsec/internal/device"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handlePlaybooksReload loads the playbook set from its source and installs
// it atomically into the engine; a reload never invalidates an in-flight
// evaluation. It only ever reparses the backing file through loadPBs.
func (s *Server) handlePlaybooksReload(w http.ResponseWriter, r *http.Request) {
	if s.loadPBs == nil {
		writeError(w, http.StatusNotImplemented, "playbook reload not configured")
		return
	}
	pbs, err := s.loadPBs()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.engine.Reload(pbs)
	writeJSON(w, http.StatusOK, map[string]interface{}{"reloaded": len(pbs)})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := device.Filter{Tag: q.Get("tag")}
	if t := q.Get("guessed_type"); t != "" {
		filter.GuessedType = device.Type(t)
	}
	if q.Get("unknown_only") == "true" {
		filter.UnknownOnly = true
	}
	writeJSON(w, http.StatusOK, s.devices.List(filter))
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, err := s.devices.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type addTagRequest struct {
	Tag string `json:"tag"`
}

func (s *Server) handleAddDeviceTag(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req addTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tag == "" {
		writeError(w, http.StatusBadRequest, "tag is required")
		return
	}

	if err := s.devices.AddTag(id, req.Tag); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "tagged"})
}

func (s *Server) handleIOCStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.iocs.Stats())
}

// handleRecentEvents answers with the raw event lines from the log store
// over the requested lookback window, each stamped with the trace ID of the
// request that retrieved it. The stamping is done in place on the raw JSON
// via sjson rather than a full unmarshal/re-marshal round trip, so fields
// the operator's event schema doesn't know about yet still pass through.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.logClient == nil {
		writeError(w, http.StatusNotImplemented, "log store not configured")
		return
	}

	q := r.URL.Query()
	selector := q.Get("selector")
	if selector == "" {
		selector = `{app="orion-sentinel"}`
	}
	lookback := 15 * time.Minute
	if raw := q.Get("lookback_seconds"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			lookback = time.Duration(secs) * time.Second
		}
	}
	limit := 200
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	end := time.Now().UTC()
	records, err := s.logClient.Query(r.Context(), selector, end.Add(-lookback), end, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	traceID := w.Header().Get("X-Trace-ID")
	lines := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		stamped, err := sjson.SetBytes(rec.Line, "retrieved_by_trace", traceID)
		if err != nil {
			stamped = rec.Line
		}
		lines = append(lines, json.RawMessage(stamped))
	}
	writeJSON(w, http.StatusOK, lines)
}
