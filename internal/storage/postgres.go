package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"price-divergence/internal/sample"
)

const (
	insertPriceSQL = `INSERT INTO prices (
        reference_trade_time,
        reference_price,
        tracked_trade_time,
        tracked_price
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id;`

	averageOverWindowSQL = `SELECT
        (SELECT avg(reference_price) FROM prices WHERE reference_trade_time BETWEEN $1 AND $2),
        (SELECT avg(tracked_price)   FROM prices WHERE tracked_trade_time   BETWEEN $1 AND $2);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store persists observations to PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	lockKey int64
}

// NewStore wires a pgx pool into a Store. A non-zero lockKey makes each session hold that advisory lock.
func NewStore(pool *pgxpool.Pool, lockKey int64) *Store {
	return &Store{pool: pool, lockKey: lockKey}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Pool exposes the pool for schema migrations.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// OpenSession acquires a dedicated connection for one tracking attempt.
func (s *Store) OpenSession(ctx context.Context) (Session, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, unavailable("acquire connection", err)
	}

	sess := &pgSession{conn: conn}
	if s.lockKey == 0 {
		return sess, nil
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, s.lockKey).Scan(&acquired); err != nil {
		conn.Release()
		return nil, unavailable("try advisory lock", err)
	}
	if !acquired {
		conn.Release()
		return nil, fmt.Errorf("%w: advisory lock %d held by another process", ErrStorageUnavailable, s.lockKey)
	}
	sess.lockKey = s.lockKey
	return sess, nil
}

type pgSession struct {
	conn    *pgxpool.Conn
	lockKey int64
}

// AppendObservation inserts one row in a single statement.
func (p *pgSession) AppendObservation(ctx context.Context, obs sample.PairedObservation) (StoredRecord, error) {
	record := recordFromObservation(0, obs)

	if err := p.conn.QueryRow(ctx, insertPriceSQL,
		record.ReferenceTradeTime,
		record.ReferencePrice,
		record.TrackedTradeTime,
		record.TrackedPrice,
	).Scan(&record.ID); err != nil {
		return StoredRecord{}, classifyWrite("insert price", err)
	}
	return record, nil
}

// AverageOverWindow returns NULL-aware averages for both assets.
func (p *pgSession) AverageOverWindow(ctx context.Context, from, to time.Time) (WindowAverage, error) {
	var avg WindowAverage
	if err := p.conn.QueryRow(ctx, averageOverWindowSQL, from.UTC(), to.UTC()).Scan(&avg.Reference, &avg.Tracked); err != nil {
		return WindowAverage{}, classifyRead("average over window", err)
	}
	return avg, nil
}

// Close releases the advisory lock (best effort) and returns the connection to the pool.
func (p *pgSession) Close() {
	if p.conn == nil {
		return
	}
	if p.lockKey != 0 {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, _ = p.conn.Exec(ctxUnlock, advisoryUnlockSQL, p.lockKey)
		cancel()
	}
	p.conn.Release()
	p.conn = nil
}

var _ Backend = (*Store)(nil)
