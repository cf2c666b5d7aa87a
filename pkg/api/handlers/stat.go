// Package handlers contains the HTTP endpoint handlers for the
// statistics API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/waypost-dev/waypost/pkg/relay"
)

// snapshotLimit caps the number of pair descriptors in a stat response.
const snapshotLimit = 10

// TrafficCounter reports the accumulated relay traffic.
type TrafficCounter interface {
	BytesTransferred() uint64
}

// StatHandler serves the traffic and live-pair statistics endpoint.
type StatHandler struct {
	counter TrafficCounter
	pairs   *relay.PairTable
}

// NewStatHandler creates a stat handler. Either parameter may be nil,
// in which case the corresponding field reads as empty.
func NewStatHandler(counter TrafficCounter, pairs *relay.PairTable) *StatHandler {
	return &StatHandler{counter: counter, pairs: pairs}
}

// PairDescriptor is one live relay pairing in the stat response.
type PairDescriptor struct {
	ActiveDeviceID  int64  `json:"active_device_id"`
	ActiveAddr      string `json:"active_addr"`
	PassiveDeviceID int64  `json:"passive_device_id"`
	PassiveAddr     string `json:"passive_addr"`
	Timestamp       int64  `json:"timestamp"`
}

// StatResponse is the GET /api/stat payload.
type StatResponse struct {
	BytesTransferred uint64           `json:"bytes_transferred"`
	ClientSnapshot   []PairDescriptor `json:"client_snapshot"`
}

// Stat handles GET /api/stat.
//
// The client snapshot is truncated to at most ten pairs; the byte
// counter reflects the last published snapshot, not the live value.
func (h *StatHandler) Stat(w http.ResponseWriter, r *http.Request) {
	resp := StatResponse{
		ClientSnapshot: []PairDescriptor{},
	}
	if h.counter != nil {
		resp.BytesTransferred = h.counter.BytesTransferred()
	}
	if h.pairs != nil {
		for _, p := range h.pairs.Snapshot(snapshotLimit) {
			resp.ClientSnapshot = append(resp.ClientSnapshot, PairDescriptor{
				ActiveDeviceID:  p.ActiveDeviceID,
				ActiveAddr:      p.ActiveAddr,
				PassiveDeviceID: p.PassiveDeviceID,
				PassiveAddr:     p.PassiveAddr,
				Timestamp:       p.OpenedAt.Unix(),
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}
