package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"SynthEngine/internal/fpmath"
)

// ErrStalePrice is returned when a feed reading fails the freshness policy.
// Callers must discard the reading entirely and abort the enclosing
// operation; no retry is attempted here.
var ErrStalePrice = errors.New("oracle: stale price")

// StalenessTimeout is the maximum tolerated age of a price reading.
const StalenessTimeout = 3 * time.Hour

// RoundData is one reading from an external price feed. Price carries the
// feed's native 8-decimal precision.
type RoundData struct {
	Price           *big.Int
	UpdatedAt       time.Time
	RoundID         uint64
	AnsweredInRound uint64
}

// PriceFeed is the external price source for a single collateral asset.
type PriceFeed interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
}

// Adapter wraps one PriceFeed, enforcing the staleness policy and
// normalizing prices to 18 decimals.
type Adapter struct {
	feed PriceFeed
	now  func() time.Time
}

func NewAdapter(feed PriceFeed) *Adapter {
	return &Adapter{feed: feed, now: time.Now}
}

// NewAdapterWithClock injects a clock for deterministic staleness tests.
func NewAdapterWithClock(feed PriceFeed, now func() time.Time) *Adapter {
	return &Adapter{feed: feed, now: now}
}

// NormalizedPrice returns the latest fresh price scaled to 18 decimals.
func (a *Adapter) NormalizedPrice(ctx context.Context) (*big.Int, error) {
	rd, err := a.feed.LatestRoundData(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest round data: %w", err)
	}
	if err := checkStale(rd, a.now()); err != nil {
		return nil, err
	}
	return new(big.Int).Mul(rd.Price, fpmath.FeedPrecisionBoost), nil
}

// checkStale rejects a reading when the feed never updated, when the round
// carries a stale answer forward, or when the reading is older than the
// staleness timeout.
func checkStale(rd RoundData, now time.Time) error {
	if rd.UpdatedAt.IsZero() || rd.UpdatedAt.Unix() == 0 {
		return fmt.Errorf("%w: round %d never updated", ErrStalePrice, rd.RoundID)
	}
	if rd.AnsweredInRound < rd.RoundID {
		return fmt.Errorf("%w: answered in round %d < round %d",
			ErrStalePrice, rd.AnsweredInRound, rd.RoundID)
	}
	if age := now.Sub(rd.UpdatedAt); age > StalenessTimeout {
		return fmt.Errorf("%w: reading is %s old (max %s)", ErrStalePrice, age, StalenessTimeout)
	}
	return nil
}
