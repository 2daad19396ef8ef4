package fakeadmin

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/storefront/adminsync/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var item map[string]any
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return item, nil
}

func fromMap(item map[string]any, dst any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func cloneMap(item map[string]any) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// applyStub reports whether the request was fully answered by a stub.
func (s *Server) applyStub(w http.ResponseWriter, r *http.Request, kind string) (Stub, bool) {
	stub, ok := s.nextStub(r.Method, kind)
	if !ok {
		return Stub{}, false
	}

	if stub.Delay > 0 {
		select {
		case <-time.After(stub.Delay):
		case <-r.Context().Done():
			return stub, true
		}
	}

	if stub.Status != 0 && (stub.Status < 200 || stub.Status >= 300) {
		message := stub.Message
		if message == "" {
			message = http.StatusText(stub.Status)
		}
		writeError(w, stub.Status, message)
		return stub, true
	}
	return stub, false
}

func (s *Server) handleActivityLogs(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	logs := append([]models.ActivityLog{}, s.logs...)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleLatestActivityLogs(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		since = parsed
	}

	s.mu.RLock()
	latest := make([]models.ActivityLog, 0)
	for _, l := range s.logs {
		if l.Time.After(since) {
			latest = append(latest, l)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	if _, done := s.applyStub(w, r, kind); done {
		return
	}

	s.mu.Lock()
	list := s.collectionLocked(kind).list()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, id := vars["kind"], vars["id"]
	if _, done := s.applyStub(w, r, kind); done {
		return
	}

	s.mu.Lock()
	item, ok := s.collectionLocked(kind).items[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, kind+" "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func decodeBody(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	item := map[string]any{}
	if len(data) == 0 {
		return item, nil
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	stub, done := s.applyStub(w, r, kind)
	if done {
		return
	}

	item, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	id := s.NextID(kind)
	item["id"] = id

	s.mu.Lock()
	s.collectionLocked(kind).put(id, item)
	confirmed := cloneMap(item)
	s.mu.Unlock()

	if stub.Empty {
		w.WriteHeader(http.StatusCreated)
		return
	}
	writeJSON(w, http.StatusCreated, confirmed)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, id := vars["kind"], vars["id"]
	stub, done := s.applyStub(w, r, kind)
	if done {
		return
	}

	patch, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	c := s.collectionLocked(kind)
	item, ok := c.items[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, kind+" "+id+" not found")
		return
	}
	updated := cloneMap(item)
	for k, v := range patch {
		updated[k] = v
	}
	updated["id"] = id
	c.put(id, updated)
	confirmed := cloneMap(updated)
	s.mu.Unlock()

	if stub.Empty {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, confirmed)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, id := vars["kind"], vars["id"]
	if _, done := s.applyStub(w, r, kind); done {
		return
	}

	s.mu.Lock()
	removed := s.collectionLocked(kind).remove(id)
	s.mu.Unlock()
	if !removed {
		writeError(w, http.StatusNotFound, kind+" "+id+" not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
