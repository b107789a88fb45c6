package storage

import (
	"time"

	"price-divergence/internal/sample"
)

// StoredRecord is one persisted paired observation. Records are append-only.
type StoredRecord struct {
	ID                 int64
	ReferenceTradeTime time.Time
	ReferencePrice     float64
	TrackedTradeTime   time.Time
	TrackedPrice       float64
}

// WindowAverage holds per-asset mean prices over a window; nil means no rows qualified.
type WindowAverage struct {
	Reference *float64
	Tracked   *float64
}

func recordFromObservation(id int64, obs sample.PairedObservation) StoredRecord {
	return StoredRecord{
		ID:                 id,
		ReferenceTradeTime: obs.Reference.TradeTime.UTC(),
		ReferencePrice:     obs.Reference.Price,
		TrackedTradeTime:   obs.Tracked.TradeTime.UTC(),
		TrackedPrice:       obs.Tracked.Price,
	}
}
