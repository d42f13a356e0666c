package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Live/internal/app/orch"
	"github.com/dkeye/Live/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultSendBuffer = 32
	defaultReadLimit  = 32768
	writeWait         = 5 * time.Second
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// ChatLimit appends per ChatInterval and connection; zero disables the limit.
	ChatLimit    int
	ChatInterval time.Duration
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	Chat *RoomRateLimiter

	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	ctl := &SignalWSController{Orch: o, opts: opts}
	if opts.ChatLimit > 0 && opts.ChatInterval > 0 {
		ctl.Chat = NewRoomRateLimiter(opts.ChatLimit, opts.ChatInterval)
	}
	return ctl
}

type WsSignalConn struct {
	id   core.ConnectionID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the socket until either side
// closes it. Every socket is its own connection, even when a browser opens
// several with the same client token.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := core.ConnectionID(uuid.NewString())
	logger := log.With().Str("module", "signal").Str("conn", string(id)).Str("client", c.GetString("client_token")).Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	logger.Info().Msg("new WS connection")

	conn := &WsSignalConn{
		id:   id,
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	connCtx := ctl.Orch.OnConnect(ctx, id, conn)

	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, conn)
}
