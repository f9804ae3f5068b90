package oracle_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"SynthEngine/internal/fpmath"
	"SynthEngine/internal/oracle"
)

// $2000 with 8-decimal feed precision
var rawPrice = big.NewInt(2000_00000000)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNormalizedPrice_Fresh(t *testing.T) {
	now := time.Now()
	feed := oracle.NewStaticFeed(rawPrice)
	a := oracle.NewAdapterWithClock(feed, fixedClock(now))

	got, err := a.NormalizedPrice(context.Background())
	if err != nil {
		t.Fatalf("NormalizedPrice: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(2000), fpmath.Wad)
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestNormalizedPrice_NeverUpdated(t *testing.T) {
	feed := &oracle.StaticFeed{}
	feed.SetRound(oracle.RoundData{Price: rawPrice, RoundID: 1, AnsweredInRound: 1})
	a := oracle.NewAdapter(feed)

	_, err := a.NormalizedPrice(context.Background())
	if !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("want ErrStalePrice for zero UpdatedAt, got %v", err)
	}
}

func TestNormalizedPrice_UnansweredRound(t *testing.T) {
	feed := &oracle.StaticFeed{}
	feed.SetRound(oracle.RoundData{
		Price:           rawPrice,
		UpdatedAt:       time.Now(),
		RoundID:         5,
		AnsweredInRound: 4,
	})
	a := oracle.NewAdapter(feed)

	_, err := a.NormalizedPrice(context.Background())
	if !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("want ErrStalePrice for carried-forward answer, got %v", err)
	}
}

func TestNormalizedPrice_TooOld(t *testing.T) {
	updated := time.Now()
	feed := &oracle.StaticFeed{}
	feed.SetRound(oracle.RoundData{
		Price:           rawPrice,
		UpdatedAt:       updated,
		RoundID:         1,
		AnsweredInRound: 1,
	})

	a := oracle.NewAdapterWithClock(feed, fixedClock(updated.Add(oracle.StalenessTimeout+time.Second)))
	if _, err := a.NormalizedPrice(context.Background()); !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("want ErrStalePrice past the timeout, got %v", err)
	}

	// Exactly at the timeout boundary the reading is still acceptable.
	a = oracle.NewAdapterWithClock(feed, fixedClock(updated.Add(oracle.StalenessTimeout)))
	if _, err := a.NormalizedPrice(context.Background()); err != nil {
		t.Errorf("reading at the boundary should pass: %v", err)
	}
}

func TestStaticFeed_SetAdvancesRound(t *testing.T) {
	feed := oracle.NewStaticFeed(rawPrice)
	rd1, _ := feed.LatestRoundData(context.Background())
	feed.Set(big.NewInt(1800_00000000))
	rd2, _ := feed.LatestRoundData(context.Background())

	if rd2.RoundID != rd1.RoundID+1 {
		t.Errorf("round should advance: %d -> %d", rd1.RoundID, rd2.RoundID)
	}
	if rd2.AnsweredInRound != rd2.RoundID {
		t.Errorf("answered-in-round should track round: %+v", rd2)
	}
}
