package stream

import (
	"context"
	"errors"
	"fmt"

	"price-divergence/internal/sample"
)

// Stream yields raw text frames from one live trade feed.
type Stream interface {
	// Recv blocks until the next frame arrives, the connection is lost, or ctx is done.
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Stream for an asset.
type Dialer interface {
	Dial(ctx context.Context, asset sample.Asset) (Stream, error)
}

// ErrConnectionLost matches every ConnectionLostError via errors.Is.
var ErrConnectionLost = errors.New("stream: connection lost")

// ConnectionLostError reports a closed stream, a failed dial, or an expired keepalive.
type ConnectionLostError struct {
	Asset sample.Asset
	Err   error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("%s stream connection lost: %v", e.Asset, e.Err)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

// Is reports ErrConnectionLost as a match.
func (e *ConnectionLostError) Is(target error) bool {
	return target == ErrConnectionLost
}
