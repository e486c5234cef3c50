package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/metrics"
	"github.com/evyataryagoni/membermap/internal/service"
)

// DefaultKeepAlive is the interval between ": ping" comments on an idle stream
const DefaultKeepAlive = 15 * time.Second

// EventsHandler streams member change notifications as Server-Sent Events
//
// Wire format, one event per change:
//
//	data: {"eventType":"insert","new":{...}}
//
// The stream ends when the client disconnects or the subscription is
// dropped; clients are expected to reconnect and reload.
type EventsHandler struct {
	service   *service.MemberService
	metrics   *metrics.Metrics
	logger    *logger.Logger
	keepAlive time.Duration
}

// NewEventsHandler creates an SSE handler. m and log may be nil.
func NewEventsHandler(svc *service.MemberService, m *metrics.Metrics, log *logger.Logger, keepAlive time.Duration) *EventsHandler {
	if log == nil {
		log = logger.Nop()
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &EventsHandler{
		service:   svc,
		metrics:   m,
		logger:    log.WithComponent("EventsHandler"),
		keepAlive: keepAlive,
	}
}

// ServeHTTP handles GET /v1/members/events
// @Summary      Member change stream
// @Description  text/event-stream of insert, update and delete notifications
// @Tags         Members
// @Produce      text/event-stream
// @Success      200
// @Failure      503  {object}  models.ErrorResponse  "Subscription unavailable"
// @Router       /v1/members/events [get]
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.WithRequestID(middleware.GetReqID(ctx))

	sub, err := h.service.Subscribe(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open change subscription")
		respondError(w, http.StatusServiceUnavailable, "Change stream unavailable")
		return
	}
	defer sub.Close() //nolint:errcheck

	rc := http.NewResponseController(w)
	// the server's write timeout would otherwise cut the stream
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("Cannot clear write deadline")
	}

	if h.metrics != nil {
		h.metrics.EventSubscribers.Inc()
		defer h.metrics.EventSubscribers.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Error().Err(err).Msg("Response writer does not support streaming")
		return
	}

	log.Info().Msg("Change stream opened")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Change stream closed by client")
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}

		case ev, ok := <-sub.Events():
			if !ok {
				log.Warn().Err(sub.Err()).Msg("Change subscription ended")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode change event")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}
