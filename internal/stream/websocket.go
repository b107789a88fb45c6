package stream

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"price-divergence/internal/sample"
)

const writeWait = 5 * time.Second

// Options parameterise the websocket dialer.
type Options struct {
	BaseURI          string
	Feed             string
	PingInterval     time.Duration
	PingTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// WebsocketDialer connects to `<BaseURI><symbol>@<Feed>` trade streams.
type WebsocketDialer struct {
	opts   Options
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewWebsocketDialer constructs a dialer.
func NewWebsocketDialer(opts Options, logger zerolog.Logger) *WebsocketDialer {
	if opts.Feed == "" {
		opts.Feed = "aggTrade"
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 20 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	return &WebsocketDialer{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger.With().Str("component", "stream").Logger(),
	}
}

// StreamURL builds the per-asset stream address.
func StreamURL(baseURI, symbol, feed string) string {
	if !strings.HasSuffix(baseURI, "/") {
		baseURI += "/"
	}
	return baseURI + strings.ToLower(symbol) + "@" + feed
}

// Dial opens the asset's stream and starts its keepalive.
func (d *WebsocketDialer) Dial(ctx context.Context, asset sample.Asset) (Stream, error) {
	url := StreamURL(d.opts.BaseURI, asset.Symbol, d.opts.Feed)

	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &ConnectionLostError{Asset: asset, Err: err}
	}

	readWait := d.opts.PingInterval + d.opts.PingTimeout
	if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		conn.Close()
		return nil, &ConnectionLostError{Asset: asset, Err: err}
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	s := &wsStream{
		asset:    asset,
		conn:     conn,
		readWait: readWait,
		done:     make(chan struct{}),
		logger:   d.logger.With().Str("asset", asset.String()).Logger(),
	}
	go s.keepAlive(d.opts.PingInterval)

	s.logger.Info().Str("url", url).Msg("stream connected")
	return s, nil
}

type wsStream struct {
	asset     sample.Asset
	conn      *websocket.Conn
	readWait  time.Duration
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// Recv returns the next text frame. Control frames are handled by the connection's handlers.
func (s *wsStream) Recv(ctx context.Context) ([]byte, error) {
	// Unblock the pending read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &ConnectionLostError{Asset: s.asset, Err: err}
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readWait)); err != nil {
			return nil, &ConnectionLostError{Asset: s.asset, Err: err}
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (s *wsStream) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// Close sends a close frame and releases the socket. Safe to call more than once.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if writeErr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); writeErr != nil &&
			!errors.Is(writeErr, websocket.ErrCloseSent) {
			s.logger.Debug().Err(writeErr).Msg("close frame not sent")
		}
		err = s.conn.Close()
		s.logger.Info().Msg("stream closed")
	})
	return err
}

var _ Dialer = (*WebsocketDialer)(nil)
