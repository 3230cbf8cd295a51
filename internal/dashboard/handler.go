package dashboard

import (
	"context"
	"log"
	"sync"

	"github.com/storesync/storesync/internal/synclog"
)

// Handler forwards new sync log entries from the sink to the server as
// sync_log messages.
type Handler struct {
	server *Server
	sink   *synclog.Sink
	logger *log.Logger

	mu        sync.Mutex
	forwarded int
}

// NewHandler creates a handler bridging sink and server.
func NewHandler(server *Server, sink *synclog.Sink, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		sink:   sink,
		logger: logger,
	}
}

// Run subscribes to the sink and forwards entries until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	entries, cancel := h.sink.Subscribe(32)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			h.OnEntry(e)
		}
	}
}

// OnEntry broadcasts one entry.
func (h *Handler) OnEntry(e synclog.Entry) {
	msg, err := newMessage(MessageTypeSyncLog, e)
	if err != nil {
		h.logger.Printf("Failed to format sync log entry %s: %v", e.ID, err)
		return
	}
	msg.Timestamp = e.Time()
	h.server.Broadcast(msg)

	h.mu.Lock()
	h.forwarded++
	h.mu.Unlock()
}

// Forwarded returns how many entries have been broadcast.
func (h *Handler) Forwarded() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.forwarded
}
