package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/graph"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text   string `json:"text"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, `{"error":"text required"}`, http.StatusBadRequest)
		return
	}

	source := graph.SourceUser
	if req.Source == "model" {
		source = graph.SourceModel
	}

	ids, err := s.engine.Ingest(r.Context(), req.Text, source)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"node_ids": ids,
		"count":    len(ids),
	})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query    string  `json:"query"`
		Momentum float64 `json:"momentum"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, `{"error":"query required"}`, http.StatusBadRequest)
		return
	}

	res, err := s.engine.Retrieve(r.Context(), req.Query, req.Momentum)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type nodeJSON struct {
		ID       int64   `json:"id"`
		Label    string  `json:"label"`
		Value    string  `json:"value"`
		Salience float64 `json:"salience"`
	}
	nodes := make([]nodeJSON, len(res.Nodes))
	for i, n := range res.Nodes {
		nodes[i] = nodeJSON{n.ID, n.Label, n.Value, n.Salience}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"packet": res.Packet,
		"nodes":  nodes,
		"tokens": res.Tokens,
		"domain": res.Domain,
	})
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string  `json:"text"`
		Momentum float64 `json:"momentum"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, `{"error":"text required"}`, http.StatusBadRequest)
		return
	}

	s.engine.ObserveOutput(req.Text, req.Momentum)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

func (s *Server) handleGuardrail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Output string `json:"output"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Output == "" {
		http.Error(w, `{"error":"output required"}`, http.StatusBadRequest)
		return
	}

	checked := s.engine.Guardrail(req.Output)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"output":   checked,
		"modified": checked != req.Output,
	})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConceptKey string `json:"concept_key"`
		Pinned     *bool  `json:"pinned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.ConceptKey == "" {
		http.Error(w, `{"error":"concept_key required"}`, http.StatusBadRequest)
		return
	}
	pinned := true
	if req.Pinned != nil {
		pinned = *req.Pinned
	}

	if err := s.engine.Pin(req.ConceptKey, pinned); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "pinned": pinned})
}

func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID int64 `json:"node_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.NodeID == 0 {
		http.Error(w, `{"error":"node_id required"}`, http.StatusBadRequest)
		return
	}

	if err := s.engine.Retract(req.NodeID); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "retracted"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir string `json:"dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Dir == "" {
		http.Error(w, `{"error":"dir required"}`, http.StatusBadRequest)
		return
	}

	if err := s.engine.Snapshot(req.Dir); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("snapshot written", zap.String("dir", req.Dir))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "dir": req.Dir})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir string `json:"dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Dir == "" {
		http.Error(w, `{"error":"dir required"}`, http.StatusBadRequest)
		return
	}

	if err := s.engine.Restore(req.Dir); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("graph restored", zap.String("dir", req.Dir))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "restored"})
}

// writeError maps engine sentinels to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, graph.ErrBadInput):
		status = http.StatusBadRequest
	case errors.Is(err, graph.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, graph.ErrReadOnly):
		status = http.StatusServiceUnavailable
	case errors.Is(err, graph.ErrOutOfCapacity):
		status = http.StatusInsufficientStorage
	}
	http.Error(w, `{"error":"`+err.Error()+`"}`, status)
}
