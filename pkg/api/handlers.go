package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/damian-sirenko/signq/pkg/legacy"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/store"
)

// entryRequest is the body of the mutating queue endpoints.
type entryRequest struct {
	Type        string          `json:"type"`
	ClientID    json.RawMessage `json:"clientId"`
	Month       string          `json:"month"`
	Index       *int            `json:"index"`
	PlannedDate model.Date      `json:"plannedDate"`
	ClientName  string          `json:"clientName,omitempty"`
	Entry       json.RawMessage `json:"entry,omitempty"`
}

func (req entryRequest) key() (model.Key, error) {
	typ, err := model.ParseType(req.Type)
	if err != nil {
		return model.Key{}, err
	}
	period, err := model.ParsePeriod(req.Month)
	if err != nil {
		return model.Key{}, err
	}
	if req.Index == nil {
		return model.Key{}, errors.New("index is required")
	}
	k := model.Key{Type: typ, SubjectID: subjectID(req.ClientID), Period: period, Index: *req.Index}
	return k, store.Validate(k)
}

// subjectID accepts the id as a JSON string or number.
func subjectID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if v := strings.TrimSpace(string(raw)); v != "null" {
		return v
	}
	return ""
}

type itemsResponse struct {
	Items []json.RawMessage `json:"items"`
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// filterParams reads the optional type and month query parameters.
func filterParams(r *http.Request) (model.Type, model.Period, error) {
	var (
		typ    model.Type
		period model.Period
		err    error
	)
	if v := r.URL.Query().Get("type"); v != "" {
		if typ, err = model.ParseType(v); err != nil {
			return "", "", err
		}
	}
	if v := r.URL.Query().Get("month"); v != "" {
		if period, err = model.ParsePeriod(v); err != nil {
			return "", "", err
		}
	}
	return typ, period, nil
}

func rawItems(raws [][]byte) itemsResponse {
	items := make([]json.RawMessage, len(raws))
	for i, raw := range raws {
		items[i] = raw
	}
	return itemsResponse{Items: items}
}

func decodeEntry(w http.ResponseWriter, r *http.Request) (entryRequest, model.Key, bool) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, model.Key{}, false
	}
	k, err := req.key()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, model.Key{}, false
	}
	return req, k, true
}

func (a *App) listQueue(w http.ResponseWriter, r *http.Request) {
	typ, period, err := filterParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raws, err := a.Store.Raw(r.Context(), store.Filter{Type: typ, Period: period})
	if err != nil {
		a.Logger.Error("task store read failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	writeJSON(w, http.StatusOK, rawItems(raws))
}

func (a *App) upsertQueue(w http.ResponseWriter, r *http.Request) {
	req, k, ok := decodeEntry(w, r)
	if !ok {
		return
	}
	ok, err := a.Store.Upsert(r.Context(), store.Entry{Key: k, PlannedDate: req.PlannedDate})
	if err != nil {
		a.Logger.Error("task store upsert failed", "key", k, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to update queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

func (a *App) removeQueue(w http.ResponseWriter, r *http.Request) {
	_, k, ok := decodeEntry(w, r)
	if !ok {
		return
	}
	removed, err := a.Store.Remove(r.Context(), k)
	if err != nil {
		a.Logger.Error("task store remove failed", "key", k, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to update queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
}

func (a *App) listLegacy(w http.ResponseWriter, r *http.Request) {
	typ, period, err := filterParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raws, err := a.Legacy.Raw(r.Context(), typ, period)
	if err != nil {
		a.Logger.Error("legacy queue read failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	writeJSON(w, http.StatusOK, rawItems(raws))
}

func (a *App) enqueueLegacy(w http.ResponseWriter, r *http.Request) {
	req, k, ok := decodeEntry(w, r)
	if !ok {
		return
	}
	it, err := a.Legacy.Enqueue(r.Context(), legacy.EnqueueRequest{
		Key:         k,
		ClientName:  req.ClientName,
		Entry:       req.Entry,
		PlannedDate: req.PlannedDate,
	})
	if err != nil {
		a.Logger.Error("legacy enqueue failed", "key", k, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to update queue")
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (a *App) clearLegacy(w http.ResponseWriter, r *http.Request) {
	if err := a.Legacy.Clear(r.Context()); err != nil {
		a.Logger.Error("legacy clear failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to clear queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
