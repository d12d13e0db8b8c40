package chartapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"stockchart/internal/chart"
	"stockchart/internal/logger"
	"stockchart/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 64 << 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// wsIn is a client message. Type is "COMPUTE" or "PING".
type wsIn struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Request ComputeRequest `json:"request"`
}

// wsOut is a server message. Type is "RESULT", "ERROR" or "PONG"; ID echoes
// the request.
type wsOut struct {
	Type   string    `json:"type"`
	ID     string    `json:"id,omitempty"`
	Data   *ChartOut `json:"data,omitempty"`
	Error  string    `json:"error,omitempty"`
	Status int       `json:"status,omitempty"`
}

type wsHandler struct {
	svc  *chart.Service
	prom *metrics.Metrics
}

func newWSHandler(svc *chart.Service, prom *metrics.Metrics) *wsHandler {
	return &wsHandler{svc: svc, prom: prom}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", append(logger.LogWithTrace(r.Context()), "error", err)...)
		return
	}
	if h.prom != nil {
		h.prom.WSClients.Inc()
		defer h.prom.WSClients.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c := &wsClient{conn: conn, send: make(chan wsOut, 16), svc: h.svc, cancel: cancel}
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump(ctx)
	<-done
}

// wsClient is one websocket peer. Requests are served in arrival order.
type wsClient struct {
	conn   *websocket.Conn
	send   chan wsOut
	svc    *chart.Service
	cancel context.CancelFunc // stops readers blocked on send once the writer is gone
}

func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		close(c.send)
		slog.Debug("ws client disconnected", logger.LogWithTrace(ctx)...)
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in wsIn
		if err := json.Unmarshal(msg, &in); err != nil {
			c.reply(ctx, wsOut{Type: "ERROR", Error: "invalid JSON", Status: http.StatusBadRequest})
			continue
		}

		switch in.Type {
		case "PING":
			c.reply(ctx, wsOut{Type: "PONG", ID: in.ID})
		case "COMPUTE":
			reqCtx := logger.WithTraceID(ctx, logger.GenerateTraceID("ws", time.Now()))
			out, err := runCompute(reqCtx, c.svc, in.Request)
			if err != nil {
				c.reply(ctx, wsOut{Type: "ERROR", ID: in.ID, Error: err.Error(), Status: statusFor(err)})
				continue
			}
			c.reply(ctx, wsOut{Type: "RESULT", ID: in.ID, Data: &out})
		default:
			c.reply(ctx, wsOut{Type: "ERROR", ID: in.ID, Error: "unknown message type " + in.Type, Status: http.StatusBadRequest})
		}
	}
}

func (c *wsClient) reply(ctx context.Context, out wsOut) {
	select {
	case c.send <- out:
	case <-ctx.Done():
	}
}

// writePump owns the connection's shutdown: it drains send until readPump
// closes it, then sends the close frame.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
