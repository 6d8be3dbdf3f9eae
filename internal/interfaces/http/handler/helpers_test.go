package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/event"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/dto"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

func newEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(logger.RequestID())
	return engine
}

func do(t *testing.T, engine http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

type captureTopic struct {
	mu   sync.Mutex
	msgs []event.Message
	err  error
}

func (t *captureTopic) Publish(_ context.Context, msg event.Message) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	t.msgs = append(t.msgs, msg)
	return "msg-" + string(rune('0'+len(t.msgs))), nil
}

func (t *captureTopic) Close() error { return nil }

// channelPusher records pushes per connection; ids in gone behave like
// closed API Gateway channels.
type channelPusher struct {
	mu     sync.Mutex
	pushes map[string][]connection.Message
	gone   map[string]bool
}

func newChannelPusher() *channelPusher {
	return &channelPusher{pushes: map[string][]connection.Message{}, gone: map[string]bool{}}
}

func (p *channelPusher) Push(_ context.Context, connectionID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone[connectionID] {
		return shared.ErrChannelGone
	}
	var msg connection.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	p.pushes[connectionID] = append(p.pushes[connectionID], msg)
	return nil
}

func (p *channelPusher) messages(connectionID string) []connection.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]connection.Message(nil), p.pushes[connectionID]...)
}

func (p *channelPusher) last(connectionID string) connection.Message {
	msgs := p.messages(connectionID)
	if len(msgs) == 0 {
		return connection.Message{}
	}
	return msgs[len(msgs)-1]
}
