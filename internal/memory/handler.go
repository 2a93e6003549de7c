package memory

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/chatrelay/internal/observability"
)

// AppendRequest is the body accepted by the append endpoint.
type AppendRequest struct {
	Message *Message `json:"message"`
}

// NewHandler exposes a Store over HTTP, addressed per session:
//
//	POST /sessions/{sessionKey}/append  {"message":{"role","text"}}  -> 200 ok
//	GET  /sessions/{sessionKey}/list                                 -> 200 [...]
func NewHandler(store Store) http.Handler {
	h := &storeHandler{store: store}
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Post("/sessions/{sessionKey}/append", h.handleAppend)
	r.Get("/sessions/{sessionKey}/list", h.handleList)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusNotFound, "Not found")
	})
	return r
}

type storeHandler struct {
	store Store
}

func (h *storeHandler) handleAppend(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKeyParam(w, r)
	if !ok {
		return
	}

	var req AppendRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == nil {
		writeText(w, http.StatusBadRequest, "invalid append body")
		return
	}

	if err := h.store.Append(r.Context(), key, *req.Message); err != nil {
		h.writeStoreError(w, r, "append", err)
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (h *storeHandler) handleList(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKeyParam(w, r)
	if !ok {
		return
	}

	log, err := h.store.List(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, r, "list", err)
		return
	}
	if log == nil {
		log = []Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(log)
}

func (h *storeHandler) writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, ErrInvalidMessage) {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	observability.LoggerFromContext(r.Context()).Error("store operation failed", "op", op, "error", err)
	writeText(w, http.StatusServiceUnavailable, "storage unavailable")
}

// sessionKeyParam returns the decoded key. chi routes on RawPath when the
// request has one, so the param is still escaped only in that case.
func sessionKeyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "sessionKey")
	var err error
	if r.URL.RawPath != "" {
		key, err = url.PathUnescape(key)
	}
	if err != nil || key == "" {
		writeText(w, http.StatusBadRequest, "invalid session key")
		return "", false
	}
	return key, true
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
