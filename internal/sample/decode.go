package sample

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Frame field names of the exchange trade payload.
const (
	fieldTradeTime = "T"
	fieldPrice     = "p"
)

var errMissing = errors.New("field missing")

// DecodeError reports a frame that could not be turned into a PriceSample.
type DecodeError struct {
	Asset Asset
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s frame: %v", e.Asset, e.Err)
	}
	return fmt.Sprintf("decode %s frame: field %q: %v", e.Asset, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type tradeFrame struct {
	TradeTime json.RawMessage `json:"T"`
	Price     json.RawMessage `json:"p"`
}

// Decode parses one raw trade frame. It never substitutes defaults for absent or invalid fields.
func Decode(asset Asset, frame []byte) (PriceSample, error) {
	var raw tradeFrame
	if err := json.Unmarshal(frame, &raw); err != nil {
		return PriceSample{}, &DecodeError{Asset: asset, Err: err}
	}

	tradeTime, err := decodeTradeTime(raw.TradeTime)
	if err != nil {
		return PriceSample{}, &DecodeError{Asset: asset, Field: fieldTradeTime, Err: err}
	}

	price, err := decodePrice(raw.Price)
	if err != nil {
		return PriceSample{}, &DecodeError{Asset: asset, Field: fieldPrice, Err: err}
	}

	return PriceSample{Asset: asset, TradeTime: tradeTime, Price: price}, nil
}

func decodeTradeTime(raw json.RawMessage) (time.Time, error) {
	if isAbsent(raw) {
		return time.Time{}, errMissing
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err != nil {
		return time.Time{}, fmt.Errorf("parse epoch millis: %w", err)
	}
	if millis <= 0 {
		return time.Time{}, fmt.Errorf("non-positive epoch millis %d", millis)
	}
	return time.UnixMilli(millis).UTC(), nil
}

func decodePrice(raw json.RawMessage) (float64, error) {
	if isAbsent(raw) {
		return 0, errMissing
	}
	// decimal accepts both "123.45" and 123.45.
	var price decimal.Decimal
	if err := price.UnmarshalJSON(raw); err != nil {
		return 0, fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("price must be positive, got %s", price.String())
	}
	value := price.InexactFloat64()
	if value <= 0 || math.IsInf(value, 0) {
		return 0, fmt.Errorf("price %s out of float64 range", price.String())
	}
	return value, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Assemble decodes one frame per asset into a PairedObservation. A failure on either side fails
// the whole pair; when both fail the errors are joined.
func Assemble(reference, tracked Asset, referenceFrame, trackedFrame []byte) (PairedObservation, error) {
	ref, refErr := Decode(reference, referenceFrame)
	trk, trkErr := Decode(tracked, trackedFrame)
	if err := errors.Join(refErr, trkErr); err != nil {
		return PairedObservation{}, err
	}
	return PairedObservation{Reference: ref, Tracked: trk}, nil
}

// FailedAssets lists the assets whose frames failed to decode within err.
func FailedAssets(err error) []Asset {
	var assets []Asset
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if de, ok := e.(*DecodeError); ok {
			assets = append(assets, de.Asset)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return assets
}
