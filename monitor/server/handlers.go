package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"time"

	"github.com/chainsentry/evm-transfer-monitor/monitor/rpc"
	"github.com/chainsentry/evm-transfer-monitor/monitor/stats"
)

type pendingSummary struct {
	Transfers    int            `json:"transfers"`
	Blocks       int            `json:"blocks"`
	ByKind       map[string]int `json:"by_kind"`
	ByBlock      map[uint64]int `json:"by_block"`
	OldestAgeSec float64        `json:"oldest_age_seconds"`
}

type queueSummary struct {
	Connected bool  `json:"connected"`
	Processed int64 `json:"processed"`
}

type statsResponse struct {
	Monitor stats.Report   `json:"monitor"`
	RPC     rpc.Stats      `json:"rpc"`
	Pending pendingSummary `json:"pending"`
	Queue   *queueSummary  `json:"queue,omitempty"`
}

type policyResponse struct {
	Strategy   string            `json:"strategy"`
	Watched    int               `json:"watched_addresses"`
	Thresholds map[string]string `json:"high_value_thresholds,omitempty"`
}

type watchlistResponse struct {
	Addresses []string `json:"addresses"`
	Count     int      `json:"count"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Could not encode response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Service) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	statuses := s.cfg.Registry.Statuses()
	hasError := false
	var buf bytes.Buffer
	for k, v := range statuses {
		var status string
		if v == nil {
			status = "OK"
		} else {
			hasError = true
			status = "ERROR " + v.Error()
		}
		if _, err := buf.WriteString(fmt.Sprintf("%s: %s\n", k, status)); err != nil {
			hasError = true
		}
	}

	if hasError {
		w.WriteHeader(http.StatusInternalServerError)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Error("Could not write healthz response")
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	stack := debug.Stack()
	if _, err := w.Write(stack); err != nil {
		log.WithError(err).Error("Could not write goroutine stack")
	}
	if err := pprof.Lookup("goroutine").WriteTo(w, 2); err != nil {
		log.WithError(err).Error("Could not write pprof goroutines")
	}
}

func (s *Service) statsHandler(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Monitor: s.cfg.Collector.Snapshot(),
		RPC:     s.cfg.RPC.Stats(),
		Pending: pendingSummary{
			Transfers:    s.cfg.Index.Len(),
			Blocks:       s.cfg.Index.BlockCount(),
			ByKind:       s.cfg.Index.CountsByKind(),
			ByBlock:      s.cfg.Index.CountsByBlock(),
			OldestAgeSec: s.cfg.Index.OldestAge(time.Now()).Seconds(),
		},
	}
	if s.cfg.Queue != nil {
		resp.Queue = &queueSummary{
			Connected: s.cfg.Queue.Connected(),
			Processed: s.cfg.Queue.Processed(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) resetStatsHandler(w http.ResponseWriter, _ *http.Request) {
	s.cfg.Collector.Reset()
	s.cfg.RPC.ResetCounters()
	log.Info("Runtime statistics reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Service) policyHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, policyResponse{
		Strategy:   s.cfg.Policy.Strategy(),
		Watched:    s.cfg.Watchlist.Len(),
		Thresholds: s.cfg.Policy.Thresholds(),
	})
}

func (s *Service) updatePolicyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Policy.SetStrategy(req.Strategy); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log.WithField("strategy", req.Strategy).Info("Monitoring strategy updated")
	writeJSON(w, http.StatusOK, policyResponse{
		Strategy: s.cfg.Policy.Strategy(),
		Watched:  s.cfg.Watchlist.Len(),
	})
}

func (s *Service) watchlistHandler(w http.ResponseWriter, _ *http.Request) {
	addrs := s.cfg.Watchlist.Addresses()
	writeJSON(w, http.StatusOK, watchlistResponse{Addresses: addrs, Count: len(addrs)})
}

func (s *Service) addWatchHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	added, err := s.cfg.Watchlist.Add(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if added {
		log.WithField("address", req.Address).Info("Address added to watchlist")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"added":   added,
		"watched": s.cfg.Watchlist.Len(),
	})
}
