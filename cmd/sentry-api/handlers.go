package main

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"iotsentry/internal/engine/bandwidth"
	"iotsentry/internal/model"
)

const (
	defaultWindowHours = 24
	defaultFlowLimit   = 100
	defaultAlertLimit  = 50
	defaultDestLimit   = 10
)

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	store    model.Store
	reporter *bandwidth.Reporter
	log      zerolog.Logger
}

func (h *APIHandler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.Devices(r.Context())
	if err != nil {
		h.serverError(w, err, "failed to list devices")
		return
	}
	writeJSON(w, devices)
}

func (h *APIHandler) deviceFlows(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", defaultFlowLimit)

	flows, err := h.store.FlowsByDevice(r.Context(), id, limit)
	if err != nil {
		h.serverError(w, err, "failed to query flows")
		return
	}
	writeJSON(w, flows)
}

func (h *APIHandler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultAlertLimit)

	alerts, err := h.store.RecentAlerts(r.Context(), limit)
	if err != nil {
		h.serverError(w, err, "failed to query alerts")
		return
	}
	writeJSON(w, alerts)
}

func (h *APIHandler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.AcknowledgeAlert(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "acknowledged", "id": id})
}

func (h *APIHandler) bandwidthUsage(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)

	usage, err := h.reporter.ByDevice(r.Context(), hours)
	if err != nil {
		h.serverError(w, err, "failed to compute usage")
		return
	}
	writeJSON(w, usage)
}

func (h *APIHandler) bandwidthHogs(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)
	threshold := queryFloat(r, "threshold", bandwidth.DefaultHogThresholdPct)

	hogs, err := h.reporter.DetectHogs(r.Context(), hours, threshold)
	if err != nil {
		h.serverError(w, err, "failed to detect hogs")
		return
	}
	writeJSON(w, hogs)
}

func (h *APIHandler) bandwidthTimeline(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)
	deviceID := int64(queryInt(r, "device_id", 0)) // 0 means all devices

	timeline, err := h.reporter.Timeline(r.Context(), deviceID, hours)
	if err != nil {
		h.serverError(w, err, "failed to build timeline")
		return
	}
	writeJSON(w, timeline)
}

func (h *APIHandler) topDestinations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultDestLimit)
	deviceID := int64(queryInt(r, "device_id", 0))

	dests, err := h.reporter.TopDestinations(r.Context(), deviceID, limit)
	if err != nil {
		h.serverError(w, err, "failed to query destinations")
		return
	}
	writeJSON(w, dests)
}

func (h *APIHandler) bandwidthReport(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)

	report, err := h.reporter.Report(r.Context(), hours)
	if err != nil {
		h.serverError(w, err, "failed to build report")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(report))
}

func (h *APIHandler) stats(w http.ResponseWriter, r *http.Request) {
	totals, err := h.store.Totals(r.Context())
	if err != nil {
		h.serverError(w, err, "failed to query totals")
		return
	}
	writeJSON(w, totals)
}

func (h *APIHandler) serverError(w http.ResponseWriter, err error, msg string) {
	h.log.Error().Err(err).Msg(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}
