package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pingsantohq/connprobe/internal/batch"
	"github.com/pingsantohq/connprobe/internal/metrics"
	"github.com/pingsantohq/connprobe/internal/monitor"
	"github.com/pingsantohq/connprobe/internal/runtime"
	"github.com/pingsantohq/connprobe/internal/target"
	"github.com/pingsantohq/connprobe/pkg/types"
)

// Config controls HTTP server settings.
type Config struct {
	Addr             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	AdminBearerToken string
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger  *log.Logger
	Runtime *runtime.Runtime
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs the HTTP control API.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/check", checkHandler(cfg, deps)).Methods(http.MethodPost)
	api.HandleFunc("/monitor", monitorListHandler(cfg, deps)).Methods(http.MethodGet)
	api.HandleFunc("/monitor/targets", addTargetHandler(cfg, deps)).Methods(http.MethodPost)
	api.HandleFunc("/monitor/targets/{address}", updateTargetHandler(cfg, deps)).Methods(http.MethodPut)
	api.HandleFunc("/monitor/targets/{address}", removeTargetHandler(cfg, deps)).Methods(http.MethodDelete)
	api.HandleFunc("/monitor/start", startHandler(cfg, deps)).Methods(http.MethodPost)
	api.HandleFunc("/monitor/stop", stopHandler(cfg, deps)).Methods(http.MethodPost)
	api.HandleFunc("/monitor/interval", intervalHandler(cfg, deps)).Methods(http.MethodPut)
	api.HandleFunc("/events", eventsHandler(cfg, deps)).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.NewHTTPHandler(deps.Runtime.Metrics()))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.HandleFunc("/readyz", readyHandler(deps))

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

type checkRequest struct {
	Targets    []string `json:"targets"`
	Ports      string   `json:"ports"`
	AllPorts   bool     `json:"all_ports"`
	TimeoutSec float64  `json:"timeout_sec"`
	VerifyTLS  *bool    `json:"verify_tls"`
}

type outcomeView struct {
	Classification types.Classification `json:"classification"`
	Detail         string               `json:"detail"`
	StatusCode     int                  `json:"status_code,omitempty"`
	LatencyMs      *float64             `json:"latency_ms,omitempty"`
}

type reportView struct {
	Address string              `json:"address"`
	Port    int                 `json:"port,omitempty"`
	Line    int                 `json:"line,omitempty"`
	HTTP    *outcomeView        `json:"http,omitempty"`
	HTTPS   *outcomeView        `json:"https,omitempty"`
	ICMP    *outcomeView        `json:"icmp,omitempty"`
	TCP     *outcomeView        `json:"tcp,omitempty"`
	Status  types.OverallStatus `json:"status"`
}

type checkResponse struct {
	ID         string                       `json:"id"`
	Total      int                          `json:"total"`
	Workers    int                          `json:"workers"`
	Complete   bool                         `json:"complete"`
	DurationMs int64                        `json:"duration_ms"`
	Invalid    []target.InvalidLine         `json:"invalid"`
	Results    []reportView                 `json:"results"`
	Counts     map[types.Classification]int `json:"counts"`
}

// checkHandler runs a one-shot batch. A client disconnect cancels dispatch
// and the partial result is still returned when the connection allows it.
func checkHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.TimeoutSec < 0 {
			http.Error(w, "timeout_sec must not be negative", http.StatusBadRequest)
			return
		}

		targets, invalid := target.ParseTargets(strings.Join(req.Targets, "\n"))
		if len(targets) == 0 {
			writeJSON(w, http.StatusBadRequest, struct {
				Error   string               `json:"error"`
				Invalid []target.InvalidLine `json:"invalid"`
			}{Error: "no valid targets", Invalid: invalid})
			return
		}

		opts := runtime.CheckOptions{
			Timeout:   time.Duration(req.TimeoutSec * float64(time.Second)),
			VerifyTLS: req.VerifyTLS,
			Ports:     target.ParsePortList(req.Ports),
			AllPorts:  req.AllPorts,
		}
		result := deps.Runtime.Check(r.Context(), targets, opts)
		if !result.Complete {
			deps.Logger.Printf("check %s returned partial result outcomes=%d", result.ID, len(result.Outcomes))
		}

		writeJSON(w, http.StatusOK, checkResponse{
			ID:         result.ID,
			Total:      result.Targets,
			Workers:    result.Workers,
			Complete:   result.Complete,
			DurationMs: result.Duration().Milliseconds(),
			Invalid:    invalid,
			Results:    reportViews(batch.Reports(result)),
			Counts:     result.Counts,
		})
	}
}

func reportViews(reports []types.TargetReport) []reportView {
	out := make([]reportView, 0, len(reports))
	for _, rep := range reports {
		view := reportView{
			Address: rep.Target.Address,
			Port:    rep.Target.Port,
			Line:    rep.Target.Line,
			Status:  rep.Overall,
		}
		for _, o := range rep.Outcomes {
			ov := &outcomeView{
				Classification: o.Classification,
				Detail:         o.Detail,
				StatusCode:     o.StatusCode,
				LatencyMs:      o.LatencyMs,
			}
			switch o.Protocol {
			case "http":
				view.HTTP = ov
			case "https":
				view.HTTPS = ov
			case "icmp":
				view.ICMP = ov
			case "tcp":
				view.TCP = ov
			}
		}
		out = append(out, view)
	}
	return out
}

type monitorView struct {
	Running     bool                   `json:"running"`
	IntervalSec float64                `json:"interval_sec"`
	Entries     []types.MonitoredEntry `json:"entries"`
}

func monitorListHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := monitor.SortSpec{Column: r.URL.Query().Get("sort")}
		if raw := r.URL.Query().Get("desc"); raw != "" {
			desc, err := strconv.ParseBool(raw)
			if err != nil {
				http.Error(w, "desc must be a boolean", http.StatusBadRequest)
				return
			}
			spec.Descending = desc
		}
		entries, err := deps.Runtime.Monitor().Sorted(spec)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, monitorStatus(deps, entries))
	}
}

func monitorStatus(deps Dependencies, entries []types.MonitoredEntry) monitorView {
	mon := deps.Runtime.Monitor()
	if entries == nil {
		entries = mon.Snapshot()
	}
	return monitorView{
		Running:     mon.Running(),
		IntervalSec: mon.Interval().Seconds(),
		Entries:     entries,
	}
}

func addTargetHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(r, cfg.AdminBearerToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req types.RegistryRecord
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		entry, err := deps.Runtime.Monitor().AddTarget(r.Context(), req)
		if err != nil {
			writeMonitorError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func updateTargetHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(r, cfg.AdminBearerToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req types.RegistryRecord
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		entry, err := deps.Runtime.Monitor().UpdateTarget(r.Context(), mux.Vars(r)["address"], req)
		if err != nil {
			writeMonitorError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func removeTargetHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(r, cfg.AdminBearerToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := deps.Runtime.Monitor().RemoveTarget(r.Context(), mux.Vars(r)["address"]); err != nil {
			writeMonitorError(w, deps, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type intervalRequest struct {
	IntervalSec float64 `json:"interval_sec"`
}

func (req intervalRequest) duration() time.Duration {
	return time.Duration(req.IntervalSec * float64(time.Second))
}

func startHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(r, cfg.AdminBearerToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req intervalRequest
		if err := decodeOptional(r, &req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		interval := req.duration()
		if req.IntervalSec == 0 {
			interval = deps.Runtime.Monitor().Interval()
		}
		if err := deps.Runtime.StartMonitor(interval); err != nil {
			writeMonitorError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, monitorStatus(deps, nil))
	}
}

func stopHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(r, cfg.AdminBearerToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		deps.Runtime.StopMonitor()
		writeJSON(w, http.StatusOK, monitorStatus(deps, nil))
	}
}

func intervalHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(r, cfg.AdminBearerToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req intervalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := deps.Runtime.SetInterval(req.duration()); err != nil {
			writeMonitorError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, monitorStatus(deps, nil))
	}
}

// eventsHandler streams monitor events as server-sent events until the
// client goes away. The server write timeout does not apply to the stream.
func eventsHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			deps.Logger.Printf("clear event stream write deadline failed: %v", err)
		}
		events, cancel := deps.Runtime.Events().Subscribe(64)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					deps.Logger.Printf("encode event failed: %v", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func readyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready, reasons := deps.Runtime.Health().Ready(time.Now().UTC())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func writeMonitorError(w http.ResponseWriter, deps Dependencies, err error) {
	switch {
	case errors.Is(err, monitor.ErrDuplicateTarget):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, monitor.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, monitor.ErrInvalidTarget), errors.Is(err, monitor.ErrInvalidInterval):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		deps.Logger.Printf("monitor request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// authorizeAdmin accepts every request when no token is configured.
func authorizeAdmin(r *http.Request, token string) bool {
	if strings.TrimSpace(token) == "" {
		return true
	}
	const prefix = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(value, prefix)) == token
}
