package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
)

// Options tunes one gateway. Zero values fall back to the defaults below.
type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	RateLimit    int
	RateInterval time.Duration
	ReportErrors bool
}

func OptionsFromConfig(cfg config.SignalConfig) Options {
	return Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteWait:    cfg.WriteWait,
		SendBuffer:   cfg.SendBuffer,
		RateLimit:    cfg.RateLimit,
		RateInterval: cfg.RateInterval,
		ReportErrors: cfg.ReportErrors,
	}
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.RateInterval <= 0 {
		o.RateInterval = time.Second
	}
	return o
}

// SignalWSController is the WebSocket side of the room session gateway.
// One controller serves every connection.
type SignalWSController struct {
	Orch *orch.Orchestrator

	opts     Options
	limiter  *RoomRateLimiter
	handlers map[string]handlerFunc
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	ctl := &SignalWSController{
		Orch:    o,
		opts:    opts,
		limiter: NewRoomRateLimiter(opts.RateLimit, opts.RateInterval),
	}
	ctl.handlers = ctl.dispatchTable()
	return ctl
}

// WsSignalConn is a core.SignalConnection over a gorilla connection.
// Frames are queued for the write pump; a full queue rejects the frame.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
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

// Close stops the write pump and the socket. Safe to call repeatedly.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

// Context keys the HTTP layer sets before the upgrade.
const (
	ClientTokenKey = "client_token"
	UserIDKey      = "user_id"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until it
// closes or ctx is canceled.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	peer := app.Peer{
		Token:  c.GetString(ClientTokenKey),
		UserID: domain.UserID(c.GetString(UserIDKey)),
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("token", peer.Token).Str("user", string(peer.UserID)).Msg("new WS connection")

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(sid, peer, conn, cancel)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn, cancel)
}
