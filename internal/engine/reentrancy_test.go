package engine_test

import (
	"errors"
	"math/big"
	"testing"

	"SynthEngine/internal/engine"
	"SynthEngine/internal/event"
	"SynthEngine/internal/oracle"
	"SynthEngine/internal/testutil"
	"SynthEngine/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// reentrantToken wraps a token ledger and, on the first inbound pull, calls
// back into a mutating engine operation, recording the error it gets.
type reentrantToken struct {
	*token.Ledger
	eng      *engine.Engine
	attack   func(e *engine.Engine) error
	innerErr error
	fired    bool
}

func (rt *reentrantToken) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	if !rt.fired && rt.eng != nil {
		rt.fired = true
		rt.innerErr = rt.attack(rt.eng)
	}
	return rt.Ledger.TransferFrom(caller, from, to, amount)
}

func TestMutation_ReentrantCallRejected(t *testing.T) {
	engineAddr := testutil.Addr(0xee)
	deployer := testutil.Addr(0xdd)
	weth := testutil.Addr(0x01)
	attacker := testutil.Addr(0xa7)

	evil := &reentrantToken{
		Ledger: token.NewLedger("WETH", deployer),
		attack: func(e *engine.Engine) error {
			return e.MintDebt(ctx, testutil.Addr(0xa7), testutil.Wad(1))
		},
	}
	synth := token.NewLedger("sUSD", engineAddr)
	feed := oracle.NewStaticFeed(testutil.FeedPrice(2000))
	audit := make(chan event.Envelope, 16)

	eng, err := engine.New(
		engineAddr,
		[]common.Address{weth},
		[]oracle.PriceFeed{feed},
		[]token.Collateral{evil},
		synth,
		zerolog.Nop(),
		nil,
		audit,
	)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	evil.eng = eng

	if err := evil.Ledger.Mint(deployer, attacker, testutil.Wad(5)); err != nil {
		t.Fatal(err)
	}
	evil.Ledger.Approve(attacker, engineAddr, testutil.Wad(5))

	// The outer deposit succeeds; the nested mint inside the token callback
	// must be rejected without touching state.
	if err := eng.DepositCollateral(ctx, attacker, weth, testutil.Wad(5)); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if !evil.fired {
		t.Fatal("callback never ran")
	}
	if !errors.Is(evil.innerErr, engine.ErrReentrantCall) {
		t.Fatalf("nested call: want ErrReentrantCall, got %v", evil.innerErr)
	}

	// The rejected nested mint left no trace.
	debt, _, err := eng.AccountInfo(ctx, attacker)
	if err != nil {
		t.Fatal(err)
	}
	if debt.Sign() != 0 {
		t.Errorf("nested mint leaked debt: %s", debt)
	}
	if got := synth.TotalSupply(); got.Sign() != 0 {
		t.Errorf("nested mint leaked supply: %s", got)
	}
	if got := eng.CollateralBalance(attacker, weth); got.Cmp(testutil.Wad(5)) != 0 {
		t.Errorf("outer deposit position: got %s, want %s", got, testutil.Wad(5))
	}

	// Only the outer deposit was audited.
	var kinds []event.Kind
	for {
		select {
		case env := <-audit:
			kinds = append(kinds, env.Kind)
			continue
		default:
		}
		break
	}
	if len(kinds) != 1 || kinds[0] != event.KindCollateralDeposited {
		t.Errorf("audit kinds: %v", kinds)
	}
}

func TestMutation_SequentialCallsSucceed(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Fund(t, alice, testutil.Wad(4))

	// The guard releases between operations.
	for i := 0; i < 4; i++ {
		if err := f.Engine.DepositCollateral(ctx, alice, f.Weth, testutil.Wad(1)); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	if got := f.Engine.CollateralBalance(alice, f.Weth); got.Cmp(testutil.Wad(4)) != 0 {
		t.Errorf("position: got %s, want %s", got, testutil.Wad(4))
	}
}
