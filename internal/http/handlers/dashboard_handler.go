// README: Dashboard counters, report history and the server-sent change stream for admin screens.
package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"restaurantbot/internal/modules/events"
	"restaurantbot/internal/modules/order"
	"restaurantbot/internal/modules/stats"
	"restaurantbot/internal/types"
)

type StatsService interface {
	GetDashboard(ctx context.Context) (stats.Dashboard, error)
	ReportHistory(ctx context.Context, from, to string) ([]stats.Report, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, topics ...string) (<-chan events.Envelope, error)
}

type DashboardHandler struct {
	stats StatsService
	bus   Subscriber
}

func NewDashboardHandler(svc StatsService, bus Subscriber) *DashboardHandler {
	return &DashboardHandler{stats: svc, bus: bus}
}

func (h *DashboardHandler) Get(c *gin.Context) {
	d, err := h.stats.GetDashboard(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DashboardHandler) Reports(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	for _, v := range []string{from, to} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(types.DayLayout, v); err != nil {
			writeError(c, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}
	reports, err := h.stats.ReportHistory(c.Request.Context(), from, to)
	if err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"reports": reports})
}

// Stream relays order, dashboard and customer change notifications as SSE until the client leaves.
func (h *DashboardHandler) Stream(c *gin.Context) {
	if h.bus == nil {
		writeError(c, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	ctx := c.Request.Context()
	ch, err := h.bus.Subscribe(ctx, order.TopicOrders, order.TopicDashboard, order.TopicCustomers)
	if err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	c.Stream(func(w io.Writer) bool {
		select {
		case env, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(env.Topic, env)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
