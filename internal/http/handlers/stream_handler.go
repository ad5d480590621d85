// README: Websocket push of live dashboard snapshots.
package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/http/middleware"
	"ridemarket/internal/logger"
	"ridemarket/internal/modules/dashboard"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type StreamHandler struct {
	dash     *dashboard.Service
	upgrader websocket.Upgrader
	log      *zap.Logger
	now      func() time.Time
}

// NewStreamHandler accepts browser connections from allowedOrigins; with
// none configured only same-origin pages may connect.
func NewStreamHandler(dash *dashboard.Service, allowedOrigins []string, log *zap.Logger) *StreamHandler {
	return &StreamHandler{
		dash: dash,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: logger.OrNop(log),
		now: time.Now,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	_, anyOrigin := set["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			// Non-browser clients send no Origin.
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

type streamFrame struct {
	View  dashboard.View `json:"view"`
	At    time.Time      `json:"at"`
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

func frameOf(s dashboard.Snapshot) streamFrame {
	f := streamFrame{View: s.View, At: s.At, Data: s.Data}
	if s.Err != nil {
		f.Error = &errorResponse{Code: apperr.Code(s.Err), Error: s.Err.Error()}
	}
	return f
}

// Stream serves GET /api/dashboard/stream?view=<view>[&since=...]. The first
// render happens before the upgrade so rejections are plain HTTP errors.
func (h *StreamHandler) Stream(c *gin.Context) {
	q := dashboard.Query{View: dashboard.View(c.DefaultQuery("view", string(dashboard.ViewActive)))}
	if q.View == dashboard.ViewEarnings {
		since, err := parseSince(c.Query("since"), h.now())
		if err != nil {
			writeError(c, err)
			return
		}
		q.Since = since
	}
	if !h.upgrader.CheckOrigin(c.Request) {
		writeError(c, apperr.Forbidden("origin %q may not open the dashboard stream", c.GetHeader("Origin")))
		return
	}
	actor := middleware.CallerActor(c)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Only the newest snapshot matters; a slow client skips intermediate ones.
	latest := make(chan dashboard.Snapshot, 1)
	unsub, err := h.dash.Watch(ctx, q, actor, func(s dashboard.Snapshot) {
		select {
		case <-latest:
		default:
		}
		select {
		case latest <- s:
		default:
		}
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer unsub()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Err(err))
		return
	}
	defer conn.Close()

	// Reader: only control frames are expected; any error ends the stream.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case s := <-latest:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frameOf(s)); err != nil {
				h.log.Debug("dashboard stream write failed", logger.Err(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
