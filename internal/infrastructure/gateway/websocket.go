package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

const (
	maxFrameBytes       = 16 << 10
	maxDecodeErrors     = 5
	defaultWriteTimeout = 5 * time.Second
)

type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) send(payload []byte, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	return websocket.Message.Send(p.conn, string(payload))
}

// WebSocketGateway terminates client channels in process. It serves the
// /ws route and implements connection.Pusher for the channels it holds.
type WebSocketGateway struct {
	dispatcher   *Dispatcher
	log          *zap.Logger
	writeTimeout time.Duration

	mu    sync.RWMutex
	peers map[string]*wsPeer
}

// NewWebSocketGateway creates a gateway; writeTimeout <= 0 uses 5s.
func NewWebSocketGateway(dispatcher *Dispatcher, writeTimeout time.Duration, log *zap.Logger) *WebSocketGateway {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WebSocketGateway{
		dispatcher:   dispatcher,
		log:          log,
		writeTimeout: writeTimeout,
		peers:        make(map[string]*wsPeer),
	}
}

// Push writes payload as one text frame. A channel this process does not
// hold, or one whose write fails, is reported as gone.
func (g *WebSocketGateway) Push(_ context.Context, connectionID string, payload []byte) error {
	g.mu.RLock()
	peer, ok := g.peers[connectionID]
	g.mu.RUnlock()
	if !ok {
		return shared.ErrChannelGone.Withf("connection %s is not open", connectionID)
	}
	if err := peer.send(payload, g.writeTimeout); err != nil {
		return shared.ErrChannelGone.Wrap(err)
	}
	return nil
}

// Open returns the number of live channels.
func (g *WebSocketGateway) Open() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.peers)
}

func (g *WebSocketGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	websocket.Handler(g.serve).ServeHTTP(w, r)
}

func (g *WebSocketGateway) serve(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()
	conn.MaxPayloadBytes = maxFrameBytes

	id := uuid.NewString()
	ctx := conn.Request().Context()
	log := g.log.With(zap.String("connection_id", id))
	peer := &wsPeer{conn: conn}

	g.mu.Lock()
	g.peers[id] = peer
	g.mu.Unlock()

	if err := g.dispatcher.Connect(ctx, id); err != nil {
		log.Error("failed to register connection", zap.Error(err))
		g.drop(id)
		return
	}
	defer func() {
		g.drop(id)
		if err := g.dispatcher.Disconnect(context.WithoutCancel(ctx), id); err != nil {
			log.Warn("failed to unregister connection", zap.Error(err))
		}
	}()

	decodeErrors := 0
	for {
		var frame string
		if err := websocket.Message.Receive(conn, &frame); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("channel read ended", zap.Error(err))
			}
			return
		}

		req, err := g.dispatcher.Dispatch(ctx, id, []byte(frame))
		if err == nil {
			decodeErrors = 0
			continue
		}
		if errors.Is(err, shared.ErrValidation) {
			decodeErrors++
		}
		log.Info("action failed", zap.String("action", req.Action), zap.Error(err))
		reply := connection.Message{
			Type:          connection.TypeError,
			TransactionID: req.TransactionID,
			RequestID:     req.RequestID,
			Reason:        errorReason(err),
		}
		if sendErr := peer.send(reply.Encode(), g.writeTimeout); sendErr != nil {
			return
		}
		if decodeErrors >= maxDecodeErrors {
			return
		}
	}
}

func (g *WebSocketGateway) drop(id string) {
	g.mu.Lock()
	delete(g.peers, id)
	g.mu.Unlock()
}

// errorReason exposes the domain code to the client and hides anything else.
func errorReason(err error) string {
	if code := shared.CodeOf(err); code != "" {
		return code
	}
	return "INTERNAL_ERROR"
}

var _ connection.Pusher = (*WebSocketGateway)(nil)
