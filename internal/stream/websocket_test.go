package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-divergence/internal/sample"
)

var btc = sample.NewAsset(sample.RoleReference, "btcusdt")

// startServer runs a websocket endpoint; handle owns the server side of each connection.
func startServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/"
}

func newTestDialer(base string) *WebsocketDialer {
	return NewWebsocketDialer(Options{
		BaseURI:          base,
		Feed:             "aggTrade",
		PingInterval:     time.Second,
		PingTimeout:      time.Second,
		HandshakeTimeout: time.Second,
	}, zerolog.Nop())
}

func TestStreamURL(t *testing.T) {
	assert.Equal(t, "wss://stream.binancefuture.com/ws/btcusdt@aggTrade",
		StreamURL("wss://stream.binancefuture.com/ws/", "BTCUSDT", "aggTrade"))
	assert.Equal(t, "ws://host/ws/ethusdt@trade", StreamURL("ws://host/ws", "ethusdt", "trade"))
}

func TestDialAndRecv(t *testing.T) {
	paths := make(chan string, 1)
	base := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		paths <- r.URL.Path
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x1})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"T":1,"p":"1"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"T":2,"p":"2"}`))
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s, err := newTestDialer(base).Dial(context.Background(), btc)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "/ws/btcusdt@aggTrade", <-paths)

	first, err := s.Recv(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"T":1,"p":"1"}`, string(first), "binary frames are skipped")

	second, err := s.Recv(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"T":2,"p":"2"}`, string(second))
}

func TestRecvReportsServerClose(t *testing.T) {
	base := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	})

	s, err := newTestDialer(base).Dial(context.Background(), btc)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Recv(context.Background())
	require.Error(t, err)

	var lost *ConnectionLostError
	require.True(t, errors.As(err, &lost))
	assert.Equal(t, btc, lost.Asset)
	assert.True(t, errors.Is(err, ErrConnectionLost))
}

func TestRecvKeepaliveTimeout(t *testing.T) {
	release := make(chan struct{})
	// The server never reads, so pings are never answered.
	base := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		<-release
	})
	defer close(release)

	dialer := NewWebsocketDialer(Options{
		BaseURI:      base,
		PingInterval: 50 * time.Millisecond,
		PingTimeout:  50 * time.Millisecond,
	}, zerolog.Nop())

	s, err := dialer.Dial(context.Background(), btc)
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	_, err = s.Recv(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionLost))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRecvHonoursContextCancellation(t *testing.T) {
	release := make(chan struct{})
	base := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		<-release
	})
	defer close(release)

	s, err := newTestDialer(base).Dial(context.Background(), btc)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = s.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrConnectionLost))
}

func TestDialFailureIsConnectionLost(t *testing.T) {
	dialer := NewWebsocketDialer(Options{BaseURI: "ws://127.0.0.1:1/ws/", HandshakeTimeout: time.Second}, zerolog.Nop())

	_, err := dialer.Dial(context.Background(), btc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionLost))
}

func TestCloseIsIdempotent(t *testing.T) {
	base := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s, err := newTestDialer(base).Dial(context.Background(), btc)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { _ = s.Close() })
}
