// Package transport carries named binary messages between profilesync
// processes over HTTP. A message is POSTed to {addr}/message/{name} with the
// sender's public address in the X-Profilesync-From header.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/profile"
)

// DefaultMaxMessageSize bounds an inbound message body.
const DefaultMaxMessageSize int64 = 1 << 20

// Handler processes one inbound message from the participant at from.
type Handler = func(ctx context.Context, from string, data []byte) error

// HTTP sends messages with cluster.PostBytes and routes inbound ones to the
// handler registered for their name.
// Thread-safe: handlers may be registered while requests are served.
type HTTP struct {
	handlers map[string]Handler
	log      *slog.Logger
	self     string
	maxBody  int64
	mu       sync.RWMutex
}

// NewHTTP creates a transport that identifies itself as self, the public
// address other participants use to reach this process.
func NewHTTP(self string, log *slog.Logger) *HTTP {
	return &HTTP{
		handlers: make(map[string]Handler),
		log:      log,
		self:     strings.TrimRight(self, "/"),
		maxBody:  DefaultMaxMessageSize,
	}
}

// Send delivers data as message name to the participant at addr.
func (t *HTTP) Send(ctx context.Context, addr, name string, data []byte) error {
	url := strings.TrimRight(addr, "/") + "/message/" + name
	if err := cluster.PostBytes(ctx, url, t.self, data); err != nil {
		return fmt.Errorf("send %s to %s: %w", name, addr, err)
	}
	return nil
}

// OnMessage registers h for inbound messages called name, replacing any
// previous handler.
func (t *HTTP) OnMessage(name string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = h
}

// Routes mounts the inbound message endpoint on r.
func (t *HTTP) Routes(r chi.Router) {
	r.Post("/message/{name}", t.handleMessage)
}

func (t *HTTP) handleMessage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	t.mu.RLock()
	h, ok := t.handlers[name]
	t.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown message", http.StatusNotFound)
		return
	}

	from := r.Header.Get(cluster.HeaderFrom)
	if from == "" {
		http.Error(w, "missing "+cluster.HeaderFrom, http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	err = h(r.Context(), from, data)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, profile.ErrMalformedMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, cluster.ErrUnknownSender):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		t.log.Error("Message handler failed", "name", name, "from", from, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
