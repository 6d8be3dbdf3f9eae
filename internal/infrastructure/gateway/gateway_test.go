package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

type recordingLifecycle struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (l *recordingLifecycle) OnConnect(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, id)
	return nil
}

func (l *recordingLifecycle) OnDisconnect(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = append(l.disconnected, id)
	return nil
}

func (l *recordingLifecycle) snapshot() ([]string, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.connected...), append([]string(nil), l.disconnected...)
}

func dial(t *testing.T, gw *WebSocketGateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) connection.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame string
	require.NoError(t, websocket.Message.Receive(conn, &frame))
	var msg connection.Message
	require.NoError(t, json.Unmarshal([]byte(frame), &msg))
	return msg
}

func TestWebSocketGateway_ActionRoundTrip(t *testing.T) {
	lifecycle := &recordingLifecycle{}
	dispatcher := NewDispatcher(lifecycle, zap.NewNop())
	gw := NewWebSocketGateway(dispatcher, time.Second, zap.NewNop())

	dispatcher.Handle(ActionGetImportURL, func(ctx context.Context, id string, req Request) error {
		msg := connection.Message{Type: connection.TypeUploadURL, TransactionID: "t1", URL: "http://upload", RequestID: req.RequestID}
		return gw.Push(ctx, id, msg.Encode())
	})
	dispatcher.Handle(ActionCancelImport, func(context.Context, string, Request) error {
		return shared.ErrNotFound.Withf("no such transaction")
	})

	conn := dial(t, gw)
	require.NoError(t, websocket.Message.Send(conn, `{"action":"getImportUrl","requestId":"r-1"}`))
	msg := readMessage(t, conn)
	assert.Equal(t, connection.TypeUploadURL, msg.Type)
	assert.Equal(t, "r-1", msg.RequestID)

	require.NoError(t, websocket.Message.Send(conn, `{"action":"cancelImport","transactionId":"t9"}`))
	msg = readMessage(t, conn)
	assert.Equal(t, connection.TypeError, msg.Type)
	assert.Equal(t, shared.CodeNotFound, msg.Reason)
	assert.Equal(t, "t9", msg.TransactionID)

	require.NoError(t, websocket.Message.Send(conn, `{"action":"dance"}`))
	msg = readMessage(t, conn)
	assert.Equal(t, shared.CodeValidation, msg.Reason)

	connected, _ := lifecycle.snapshot()
	require.Len(t, connected, 1)
	assert.Equal(t, 1, gw.Open())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		_, disconnected := lifecycle.snapshot()
		return len(disconnected) == 1 && disconnected[0] == connected[0]
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return gw.Open() == 0 }, 2*time.Second, 10*time.Millisecond)

	err := gw.Push(context.Background(), connected[0], []byte(`{}`))
	assert.True(t, errors.Is(err, shared.ErrChannelGone))
}

func TestWebSocketGateway_DropsAfterRepeatedGarbage(t *testing.T) {
	lifecycle := &recordingLifecycle{}
	gw := NewWebSocketGateway(NewDispatcher(lifecycle, zap.NewNop()), time.Second, zap.NewNop())
	conn := dial(t, gw)

	for range maxDecodeErrors {
		require.NoError(t, websocket.Message.Send(conn, `not json`))
		assert.Equal(t, connection.TypeError, readMessage(t, conn).Type)
	}
	assert.Eventually(t, func() bool {
		_, disconnected := lifecycle.snapshot()
		return len(disconnected) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type fakeManagement struct {
	posted map[string][]byte
	err    error
}

func (f *fakeManagement) PostToConnection(_ context.Context, in *apigatewaymanagementapi.PostToConnectionInput, _ ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.posted == nil {
		f.posted = map[string][]byte{}
	}
	f.posted[aws.ToString(in.ConnectionId)] = in.Data
	return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
}

func TestAPIGatewayPusher(t *testing.T) {
	fake := &fakeManagement{}
	p := NewAPIGatewayPusher(fake)
	ctx := context.Background()

	require.NoError(t, p.Push(ctx, "c1", []byte(`{"type":"STATUS"}`)))
	assert.Equal(t, `{"type":"STATUS"}`, string(fake.posted["c1"]))

	fake.err = &types.GoneException{}
	assert.True(t, errors.Is(p.Push(ctx, "c1", nil), shared.ErrChannelGone))

	fake.err = &types.LimitExceededException{}
	assert.True(t, shared.IsRetryable(p.Push(ctx, "c1", nil)))

	fake.err = &types.ForbiddenException{}
	err := p.Push(ctx, "c1", nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrChannelGone))
}
