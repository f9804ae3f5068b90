package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// StaticFeed is an in-process PriceFeed whose price is set by the operator.
// It stands in for the external feed contract in local deployments and tests.
type StaticFeed struct {
	mu    sync.Mutex
	round RoundData
}

// NewStaticFeed creates a feed answering with the given 8-decimal price,
// updated now.
func NewStaticFeed(price *big.Int) *StaticFeed {
	f := &StaticFeed{}
	f.Set(price)
	return f
}

// Set publishes a new price and advances the round.
func (f *StaticFeed) Set(price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	round := f.round.RoundID + 1
	f.round = RoundData{
		Price:           new(big.Int).Set(price),
		UpdatedAt:       time.Now(),
		RoundID:         round,
		AnsweredInRound: round,
	}
}

// SetRound publishes an arbitrary round, for exercising staleness paths.
func (f *StaticFeed) SetRound(rd RoundData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = rd
}

func (f *StaticFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.round, nil
}
