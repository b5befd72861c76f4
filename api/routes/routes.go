package routes

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/metalmatze/signal/server/signalhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gpufabric/gpu-stats-analytics/api/models"
	"github.com/gpufabric/gpu-stats-analytics/api/response"
	"github.com/gpufabric/gpu-stats-analytics/internal/aggregate"
	"github.com/gpufabric/gpu-stats-analytics/internal/db"
	"github.com/gpufabric/gpu-stats-analytics/internal/stats"
)

const (
	dateLayout = "2006-01-02"

	// window served when the request carries no explicit range
	defaultRangeDays = 7
)

// StatsProvider is what the handlers need from the statistics
// service.
type StatsProvider interface {
	Refresh(ctx context.Context, params stats.RefreshParams) (*stats.Dashboard, error)
	Clients(ctx context.Context) ([]db.ClientRecord, error)
	Devices(ctx context.Context, clientID []byte) ([]db.DeviceRecord, error)
	ExportClients(ctx context.Context, params stats.RefreshParams, w io.Writer) error
	ExportDevices(ctx context.Context, params stats.RefreshParams, w io.Writer) error
}

type routes struct {
	mux   *http.ServeMux
	stats StatsProvider
	now   func() time.Time
}

type Option func(*routes)

func WithStatsProvider(provider StatsProvider) Option {
	return func(r *routes) {
		r.stats = provider
	}
}

// WithNow overrides the clock used for default date ranges.
func WithNow(now func() time.Time) Option {
	return func(r *routes) {
		r.now = now
	}
}

func WithHandlers(registry *prometheus.Registry) Option {
	return func(r *routes) {
		i := signalhttp.NewHandlerInstrumenter(registry, []string{"handler"})
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.Handle("/api/v1/clients", i.NewHandler(
			prometheus.Labels{"handler": "clients"},
			r.logged(http.HandlerFunc(r.clients)),
		))
		mux.Handle("/api/v1/devices", i.NewHandler(
			prometheus.Labels{"handler": "devices"},
			r.logged(http.HandlerFunc(r.devices)),
		))
		mux.Handle("/api/v1/dashboard", i.NewHandler(
			prometheus.Labels{"handler": "dashboard"},
			r.logged(http.HandlerFunc(r.dashboard)),
		))
		mux.Handle("/api/v1/export/clients.csv", i.NewHandler(
			prometheus.Labels{"handler": "export_clients"},
			r.logged(http.HandlerFunc(r.exportClients)),
		))
		mux.Handle("/api/v1/export/devices.csv", i.NewHandler(
			prometheus.Labels{"handler": "export_devices"},
			r.logged(http.HandlerFunc(r.exportDevices)),
		))
		r.mux = mux
	}
}

func NewRoutes(opts ...Option) (*routes, error) {
	r := &routes{
		mux: http.NewServeMux(),
		now: time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.stats == nil {
		return nil, fmt.Errorf("routes: no stats provider configured")
	}
	return r, nil
}

func (r *routes) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// logged wraps a handler with status and size capture.
func (r *routes) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rw := response.NewResponseWriter(w)
		next.ServeHTTP(rw, req)
		slog.Debug("request served",
			"path", req.URL.Path,
			"status", rw.GetStatusCode(),
			"bytes", rw.GetBodySize(),
			"duration", time.Since(start),
		)
	})
}

func (r *routes) clients(w http.ResponseWriter, req *http.Request) {
	records, err := r.stats.Clients(req.Context())
	if err != nil {
		writeStatsError(req, w, err)
		return
	}

	clients := make([]models.Client, 0, len(records))
	for _, rec := range records {
		clients = append(clients, models.ClientFromRecord(rec))
	}
	writeJSONResponse(req, w, clients)
}

func (r *routes) devices(w http.ResponseWriter, req *http.Request) {
	clientID, err := getClientIDParam(req)
	if err != nil {
		writeErrorResponse(req, w, err, http.StatusBadRequest)
		return
	}

	records, err := r.stats.Devices(req.Context(), clientID)
	if err != nil {
		writeStatsError(req, w, err)
		return
	}

	devices := make([]models.Device, 0, len(records))
	for _, rec := range records {
		devices = append(devices, models.DeviceFromRecord(rec))
	}
	writeJSONResponse(req, w, devices)
}

func (r *routes) dashboard(w http.ResponseWriter, req *http.Request) {
	params, err := r.refreshParams(req)
	if err != nil {
		writeErrorResponse(req, w, err, http.StatusBadRequest)
		return
	}

	dash, err := r.stats.Refresh(req.Context(), params)
	if err != nil {
		writeStatsError(req, w, err)
		return
	}

	writeJSONResponse(req, w, models.DashboardFromResult(dash))
}

func (r *routes) exportClients(w http.ResponseWriter, req *http.Request) {
	r.export(w, req, "client_daily_stats.csv", r.stats.ExportClients)
}

func (r *routes) exportDevices(w http.ResponseWriter, req *http.Request) {
	r.export(w, req, "device_daily_stats.csv", r.stats.ExportDevices)
}

func (r *routes) export(w http.ResponseWriter, req *http.Request, filename string, run func(context.Context, stats.RefreshParams, io.Writer) error) {
	params, err := r.refreshParams(req)
	if err != nil {
		writeErrorResponse(req, w, err, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	rw := response.NewResponseWriter(w)
	if err := run(req.Context(), params, rw); err != nil {
		if rw.GetBodySize() == 0 {
			w.Header().Del("Content-Disposition")
			writeStatsError(req, rw, err)
			return
		}
		// rows already streamed, all we can do is log
		slog.Error("csv export failed", "path", req.URL.Path, "err", err)
	}
}

func (r *routes) refreshParams(req *http.Request) (stats.RefreshParams, error) {
	var params stats.RefreshParams

	rng := db.LastDays(defaultRangeDays, r.now())
	from, to := rng.From, rng.To

	if v := req.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			return params, fmt.Errorf("invalid from parameter: %w", err)
		}
		from = parsed
	}
	if v := req.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			return params, fmt.Errorf("invalid to parameter: %w", err)
		}
		to = parsed
	}
	if to.Before(from) {
		return params, fmt.Errorf("invalid range: to %s before from %s", to.Format(dateLayout), from.Format(dateLayout))
	}
	params.Range = db.DateRange{From: from, To: to}

	clientID, err := getClientIDParam(req)
	if err != nil {
		return params, err
	}
	params.ClientID = clientID

	if v := req.URL.Query().Get("device_index"); v != "" {
		index, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return params, fmt.Errorf("invalid device_index parameter: %w", err)
		}
		params.DeviceIndex = &index
	}
	return params, nil
}

func getClientIDParam(req *http.Request) ([]byte, error) {
	v := req.URL.Query().Get("client_id")
	if v == "" {
		return nil, nil
	}
	id, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid client_id parameter: %w", err)
	}
	return id, nil
}

// writeStatsError maps service failures onto HTTP statuses: busy
// refresh is a conflict, an unreachable database is unavailable,
// everything else is internal.
func writeStatsError(req *http.Request, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stats.ErrRefreshInProgress):
		writeErrorResponse(req, w, err, http.StatusConflict)
	case db.IsConnectionError(err):
		writeErrorResponse(req, w, err, http.StatusServiceUnavailable)
	default:
		if _, ok := aggregate.AsDataAggregationError(err); ok || db.IsSchemaError(err) || db.IsQueryError(err) {
			slog.Error("refresh failed", "err", err)
		}
		writeErrorResponse(req, w, err, http.StatusInternalServerError)
	}
}

func writeJSONResponse(req *http.Request, w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
		writeErrorResponse(req, w, fmt.Errorf("failed to encode response: %w", err), http.StatusInternalServerError)
		return
	}
}

func writeErrorResponse(_ *http.Request, w http.ResponseWriter, err error, status int) {
	payload := struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}{
		Error: err.Error(),
		Code:  status,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
