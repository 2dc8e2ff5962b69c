// Package api serves the run history as JSON.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/btag-effmaps/internal/db"
	"github.com/banshee-data/btag-effmaps/internal/effmap"
)

type Server struct {
	db *db.DB
}

func NewServer(db *db.DB) *Server {
	return &Server{db: db}
}

// ServeMux returns the API routes, to be mounted under /api/.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /runs", s.listRuns)
	mux.HandleFunc("GET /runs/{id}", s.showRun)
	mux.HandleFunc("GET /runs/{id}/datasets", s.listOutcomes)
	mux.HandleFunc("GET /runs/{id}/bins/{dataset}", s.listBins)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf("[%d] %s %s %.2fms", lrw.statusCode, r.Method, r.RequestURI,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeLookupError maps an unknown run to 404 and anything else to 500.
func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrRunNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

type runJSON struct {
	RunID        string   `json:"run_id"`
	StartedUnix  float64  `json:"started_unix"`
	FinishedUnix *float64 `json:"finished_unix"`
	Period       string   `json:"period"`
	Algo         string   `json:"algo"`
	WorkingPoint string   `json:"working_point"`
	Threshold    float64  `json:"threshold"`
	PtMin        float64  `json:"pt_min"`
	PtMax        float64  `json:"pt_max"`
	Adaptive     bool     `json:"adaptive"`
	Status       string   `json:"status"`
}

func toRunJSON(r db.Run) runJSON {
	return runJSON{
		RunID:        r.RunID,
		StartedUnix:  r.StartedUnix,
		FinishedUnix: r.FinishedUnix,
		Period:       r.Period,
		Algo:         r.Algo,
		WorkingPoint: r.WorkingPoint,
		Threshold:    r.Threshold,
		PtMin:        r.PtMin,
		PtMax:        r.PtMax,
		Adaptive:     r.Adaptive,
		Status:       r.Status,
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.db.ListRuns(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]runJSON, len(runs))
	for i, run := range runs {
		out[i] = toRunJSON(run)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	resp := struct {
		runJSON
		Config json.RawMessage `json:"config,omitempty"`
	}{runJSON: toRunJSON(*run)}
	if json.Valid([]byte(run.ConfigJSON)) {
		resp.Config = json.RawMessage(run.ConfigJSON)
	}
	writeJSON(w, http.StatusOK, resp)
}

type outcomeJSON struct {
	Dataset string `json:"dataset"`
	Status  string `json:"status"`
	Flags   string `json:"flags"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) listOutcomes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.db.GetRun(id); err != nil {
		writeLookupError(w, err)
		return
	}
	outcomes, err := s.db.DatasetOutcomes(id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]outcomeJSON, len(outcomes))
	for i, o := range outcomes {
		out[i] = outcomeJSON{Dataset: o.Dataset, Status: o.Status, Flags: o.Flags, Error: o.Error}
	}
	writeJSON(w, http.StatusOK, out)
}

type binJSON struct {
	Flavour     string               `json:"flavour"`
	EtaIndex    int                  `json:"eta_index"`
	PtIndex     int                  `json:"pt_index"`
	Bin         effmap.EfficiencyBin `json:"bin"`
	SumW        float64              `json:"sum_w"`
	SumW2       float64              `json:"sum_w2"`
	NEff        *float64             `json:"n_eff"`
	SeedSlices  int                  `json:"seed_slices"`
	Target      *float64             `json:"target"`
	Relaxations int                  `json:"relaxations"`
	Flags       string               `json:"flags"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (s *Server) listBins(w http.ResponseWriter, r *http.Request) {
	id, dataset := r.PathValue("id"), r.PathValue("dataset")
	if _, err := s.db.GetRun(id); err != nil {
		writeLookupError(w, err)
		return
	}
	bins, err := s.db.Bins(id, dataset)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(bins) == 0 {
		writeJSONError(w, http.StatusNotFound, "no bins for dataset "+dataset)
		return
	}
	out := make([]binJSON, len(bins))
	for i, b := range bins {
		out[i] = binJSON{
			Flavour:     string(b.Flavour),
			EtaIndex:    b.EtaIndex,
			PtIndex:     b.PtIndex,
			Bin:         b.Bin,
			SumW:        b.SumW,
			SumW2:       b.SumW2,
			NEff:        nullable(b.NEff),
			SeedSlices:  b.SeedSlices,
			Target:      nullable(b.Target),
			Relaxations: b.Relaxations,
			Flags:       b.Flags,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
