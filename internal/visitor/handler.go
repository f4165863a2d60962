// Package visitor serves the visitor counter over HTTP.
package visitor

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tckz/visitor-counter/internal/counter"
)

type Handler struct {
	counter counter.Counter
	logger  *zap.SugaredLogger
}

func NewHandler(c counter.Counter, logger *zap.SugaredLogger) *Handler {
	return &Handler{counter: c, logger: logger}
}

// Routes returns the router with every endpoint wrapped by the middleware chain.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", h.index).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/visitor", h.visit).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/visitor/reset", h.reset).Methods(http.MethodGet, http.MethodHead)

	// Recover sits inside RequestLog so a panic still gets its access entry.
	return RequestLog(h.logger, Recover(h.logger, r))
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, Banner)
}

func (h *Handler) visit(w http.ResponseWriter, r *http.Request) {
	n, err := h.counter.Up(r.Context())
	if err != nil {
		h.fail(w, r, "Up", err)
		return
	}
	writeText(w, http.StatusOK, FormatVisit(n))
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.counter.Set(ctx, 0); err != nil {
		h.fail(w, r, "Set", err)
		return
	}

	n, err := h.counter.Get(ctx)
	if err != nil {
		h.fail(w, r, "Get", err)
		return
	}
	writeText(w, http.StatusOK, FormatReset(n))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.With(zap.String("requestID", RequestID(r.Context()))).Errorf("%s: %v", op, err)

	switch {
	case errors.Is(err, counter.ErrStoreUnavailable):
		writeText(w, http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, counter.ErrStoreProtocol):
		writeText(w, http.StatusInternalServerError, "store protocol error")
	default:
		writeText(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, body)
}
