package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/logger"
	"github.com/emergent-company/emergent.graph/pkg/scope"
	"github.com/emergent-company/emergent.graph/pkg/sse"
)

// HeartbeatInterval is how often an idle stream receives a heartbeat.
const HeartbeatInterval = 30 * time.Second

// Handler serves the change event stream.
type Handler struct {
	svc       *Service
	log       *slog.Logger
	heartbeat time.Duration

	mu          sync.Mutex
	connections map[string]context.CancelFunc
	seq         atomic.Uint64
}

// NewHandler creates a new events handler
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc:         svc,
		log:         log.With(logger.Scope("events.handler")),
		heartbeat:   HeartbeatInterval,
		connections: make(map[string]context.CancelFunc),
	}
}

// Stream handles GET /api/graph/events.
// It relays the project's change events until the client disconnects or the
// server stops.
func (h *Handler) Stream(c echo.Context) error {
	projectID := scope.ProjectID(c)

	w := sse.NewWriter(c.Response())
	if err := w.Start(); err != nil {
		return apperror.ErrInternal.WithMessage("streaming not supported")
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	connectionID := generateConnectionID()
	h.mu.Lock()
	h.connections[connectionID] = cancel
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.connections, connectionID)
		h.mu.Unlock()
	}()

	log := h.log.With(
		slog.String("connection_id", connectionID),
		slog.String("project_id", projectID.String()),
	)
	log.Info("change stream opened")

	if err := w.WriteEvent("connected", ConnectedEvent{ConnectionID: connectionID, ProjectID: projectID}); err != nil {
		log.Warn("failed to send connected event", logger.Error(err))
		return nil
	}

	unsubscribe := h.svc.Subscribe(projectID, func(ev ChangeEvent) {
		id := strconv.FormatUint(h.seq.Add(1), 10)
		if err := w.WriteEventWithID(id, string(ev.Type), ev); err != nil {
			log.Warn("failed to send change event", logger.Error(err))
			cancel()
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("change stream closed")
			return nil
		case now := <-ticker.C:
			if err := w.WriteEvent("heartbeat", HeartbeatEvent{Timestamp: now.UTC().Format(time.RFC3339)}); err != nil {
				log.Warn("failed to send heartbeat", logger.Error(err))
				return nil
			}
		}
	}
}

// ConnectionsCount handles GET /api/graph/events/connections/count.
func (h *Handler) ConnectionsCount(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"count": h.ConnectionCount()})
}

// ConnectionCount returns the number of open streams.
func (h *Handler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// Stop closes every open stream.
func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cancel := range h.connections {
		cancel()
	}
}

func generateConnectionID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return fmt.Sprintf("sse_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
