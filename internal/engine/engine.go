package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"SynthEngine/internal/event"
	"SynthEngine/internal/fpmath"
	"SynthEngine/internal/ledger"
	"SynthEngine/internal/observability"
	"SynthEngine/internal/oracle"
	"SynthEngine/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the position-accounting and liquidation engine: the single
// public surface over the collateral ledger, the debt ledger, the price
// oracles and the external token collaborators. All mutating entry points
// run under one whole-engine lock and commit atomically or abort with no
// observable state change.
type Engine struct {
	guard reentrancyGuard

	// address identifies the engine as a token holder: collateral custody
	// and the synth mint/burn authority are bound to it.
	address common.Address

	assets     []common.Address
	feeds      map[common.Address]*oracle.Adapter
	rawFeeds   map[common.Address]oracle.PriceFeed
	collateral map[common.Address]token.Collateral
	synth      token.Synth

	deposits *ledger.CollateralLedger
	debt     *ledger.DebtLedger

	seq   int64
	audit chan<- event.Envelope

	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New builds an engine over an ordered list of approved assets paired 1:1
// with their price feeds and token handles. The approved set is immutable
// afterward. audit may be nil; metrics may be nil.
func New(
	address common.Address,
	assets []common.Address,
	feeds []oracle.PriceFeed,
	tokens []token.Collateral,
	synth token.Synth,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	audit chan<- event.Envelope,
) (*Engine, error) {
	if len(assets) != len(feeds) || len(assets) != len(tokens) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds, %d tokens",
			ErrConfigMismatch, len(assets), len(feeds), len(tokens))
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: no approved assets", ErrConfigMismatch)
	}
	if synth == nil {
		return nil, fmt.Errorf("%w: missing synth token", ErrConfigMismatch)
	}

	e := &Engine{
		address:    address,
		assets:     make([]common.Address, len(assets)),
		feeds:      make(map[common.Address]*oracle.Adapter, len(assets)),
		rawFeeds:   make(map[common.Address]oracle.PriceFeed, len(assets)),
		collateral: make(map[common.Address]token.Collateral, len(assets)),
		synth:      synth,
		deposits:   ledger.NewCollateralLedger(),
		debt:       ledger.NewDebtLedger(),
		log:        logger,
		metrics:    metrics,
		audit:      audit,
		now:        time.Now,
	}
	copy(e.assets, assets)

	for i, asset := range assets {
		if feeds[i] == nil || tokens[i] == nil {
			return nil, fmt.Errorf("%w: asset %s missing feed or token",
				ErrConfigMismatch, asset.Hex())
		}
		if _, dup := e.feeds[asset]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrConfigMismatch, asset.Hex())
		}
		e.feeds[asset] = oracle.NewAdapter(feeds[i])
		e.rawFeeds[asset] = feeds[i]
		e.collateral[asset] = tokens[i]
	}

	return e, nil
}

// ResumeSequence fast-forwards the audit sequence counter past already
// persisted records. Called once at startup, before any operation runs.
func (e *Engine) ResumeSequence(seq int64) {
	e.guard.rlock()
	defer e.guard.runlock()
	if seq > e.seq {
		e.seq = seq
	}
}

// Address returns the engine's own token-holder identity.
func (e *Engine) Address() common.Address {
	return e.address
}

// ApprovedAssets returns the approved collateral set in construction order.
func (e *Engine) ApprovedAssets() []common.Address {
	out := make([]common.Address, len(e.assets))
	copy(out, e.assets)
	return out
}

// PriceFeedFor returns the feed backing an approved asset.
func (e *Engine) PriceFeedFor(asset common.Address) (oracle.PriceFeed, error) {
	feed, ok := e.rawFeeds[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnapprovedAsset, asset.Hex())
	}
	return feed, nil
}

// Constants reports the fixed protocol parameters.
type Constants struct {
	Wad                  *big.Int
	FeedPrecisionBoost   *big.Int
	LiquidationThreshold *big.Int
	LiquidationPrecision *big.Int
	LiquidationBonus     *big.Int
	MinHealthFactor      *big.Int
}

func (e *Engine) Constants() Constants {
	return Constants{
		Wad:                  new(big.Int).Set(fpmath.Wad),
		FeedPrecisionBoost:   new(big.Int).Set(fpmath.FeedPrecisionBoost),
		LiquidationThreshold: new(big.Int).Set(fpmath.LiquidationThreshold),
		LiquidationPrecision: new(big.Int).Set(fpmath.LiquidationPrecision),
		LiquidationBonus:     new(big.Int).Set(fpmath.LiquidationBonus),
		MinHealthFactor:      new(big.Int).Set(fpmath.MinHealthFactor),
	}
}

// --- Read-only queries ---
// Queries take the engine lock (blocking, not fail-fast) so they only ever
// observe committed state, and they never mutate the ledgers.

// CollateralBalance returns the deposited amount for one account and asset.
func (e *Engine) CollateralBalance(account, asset common.Address) *big.Int {
	e.guard.rlock()
	defer e.guard.runlock()
	return e.deposits.Balance(account, asset)
}

// UsdValue converts a wad token amount to its USD value at the current
// fresh oracle price.
func (e *Engine) UsdValue(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	e.guard.rlock()
	defer e.guard.runlock()
	return e.usdValue(ctx, asset, amount)
}

// TokenAmountFromUsd converts a wad USD amount to a token amount at the
// current fresh oracle price.
func (e *Engine) TokenAmountFromUsd(ctx context.Context, asset common.Address, usdAmount *big.Int) (*big.Int, error) {
	e.guard.rlock()
	defer e.guard.runlock()
	price, err := e.normalizedPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	return fpmath.TokenAmountFromUsd(usdAmount, price), nil
}

// AccountCollateralValue sums the USD value of every approved asset the
// account has deposited.
func (e *Engine) AccountCollateralValue(ctx context.Context, account common.Address) (*big.Int, error) {
	e.guard.rlock()
	defer e.guard.runlock()
	return e.accountCollateralValue(ctx, account)
}

// AccountInfo returns the account's total debt and collateral value.
func (e *Engine) AccountInfo(ctx context.Context, account common.Address) (debt, collateralValue *big.Int, err error) {
	e.guard.rlock()
	defer e.guard.runlock()
	collateralValue, err = e.accountCollateralValue(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return e.debt.Balance(account), collateralValue, nil
}

// HealthFactor returns the account's collateralization ratio in wad.
// Debt-free accounts report the maximum representable value.
func (e *Engine) HealthFactor(ctx context.Context, account common.Address) (*big.Int, error) {
	e.guard.rlock()
	defer e.guard.runlock()
	return e.healthFactor(ctx, account)
}

// --- Internal views (lock already held) ---

func (e *Engine) normalizedPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	adapter, ok := e.feeds[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnapprovedAsset, asset.Hex())
	}
	price, err := adapter.NormalizedPrice(ctx)
	if err != nil {
		if e.metrics != nil {
			e.metrics.StalePriceRejections.Inc()
		}
		return nil, err
	}
	return price, nil
}

func (e *Engine) usdValue(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	price, err := e.normalizedPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	return fpmath.UsdValue(price, amount), nil
}

func (e *Engine) accountCollateralValue(ctx context.Context, account common.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, asset := range e.assets {
		deposited := e.deposits.Balance(account, asset)
		if deposited.Sign() == 0 {
			continue
		}
		value, err := e.usdValue(ctx, asset, deposited)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

func (e *Engine) healthFactor(ctx context.Context, account common.Address) (*big.Int, error) {
	debt := e.debt.Balance(account)
	if debt.Sign() == 0 {
		// No oracle read needed: zero debt is always healthy, even with
		// zero collateral or stale feeds.
		return new(big.Int).Set(fpmath.MaxHealthFactor), nil
	}
	collateralValue, err := e.accountCollateralValue(ctx, account)
	if err != nil {
		return nil, err
	}
	return fpmath.HealthFactor(debt, collateralValue), nil
}

// revertIfUnhealthy enforces the post-mutation solvency invariant.
func (e *Engine) revertIfUnhealthy(ctx context.Context, account common.Address) error {
	hf, err := e.healthFactor(ctx, account)
	if err != nil {
		return err
	}
	if hf.Cmp(fpmath.MinHealthFactor) < 0 {
		return &HealthFactorError{Ratio: hf}
	}
	return nil
}

// --- Mutation plumbing ---

// mutate runs one guarded mutating operation: fail-fast lock, undo-log
// transaction, commit-or-rollback, metrics and logging.
func (e *Engine) mutate(op string, fn func(tx *txn) error) error {
	if err := e.guard.enter(); err != nil {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(op, "reentrant").Inc()
		}
		return err
	}
	defer e.guard.exit()

	start := e.now()
	tx := newTxn()

	if err := fn(tx); err != nil {
		tx.rollback()
		e.observe(op, start, err)
		return err
	}

	e.commit(tx)
	e.observe(op, start, nil)
	return nil
}

// commit assigns sequences and releases the buffered audit records.
// Downstream consumers get a non-blocking send: a full channel drops the
// record rather than stalling the engine (consumers read the audit table).
func (e *Engine) commit(tx *txn) {
	for _, pe := range tx.events {
		e.seq++
		env := event.Envelope{
			Sequence:  e.seq,
			ID:        uuid.New(),
			Kind:      pe.kind,
			Timestamp: e.now(),
			Payload:   pe.payload,
		}

		e.log.Info().
			Int64("sequence", env.Sequence).
			Str("kind", env.Kind.String()).
			Interface("payload", env.Payload).
			Msg("audit event")

		if e.metrics != nil {
			e.metrics.AuditEmitted.Inc()
			e.metrics.AuditSequence.Set(float64(e.seq))
		}

		if e.audit == nil {
			continue
		}
		select {
		case e.audit <- env:
		default:
			if e.metrics != nil {
				e.metrics.AuditDropped.Inc()
			}
		}
	}
}

func (e *Engine) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		e.log.Warn().Str("op", op).Err(err).Msg("operation aborted")
	}
	if e.metrics != nil {
		e.metrics.OpsTotal.WithLabelValues(op, outcome).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(e.now().Sub(start).Seconds())
	}
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
