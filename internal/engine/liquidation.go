package engine

import (
	"context"
	"fmt"
	"math/big"

	"SynthEngine/internal/event"
	"SynthEngine/internal/fpmath"

	"github.com/ethereum/go-ethereum/common"
)

// Liquidate lets a third party repay debtToCover of an undercollateralized
// account's debt in exchange for a bonus-weighted seizure of its
// collateral. Single-shot: no liquidation state persists across calls, and
// any failing step unwinds everything within the call.
//
// Ordering: eligibility, seizure math, ledger moves, improvement check,
// liquidator self-check, then the irreversible external transfers.
func (e *Engine) Liquidate(ctx context.Context, liquidator, asset, account common.Address, debtToCover *big.Int) error {
	return e.mutate("liquidate", func(tx *txn) error {
		if err := validAmount(debtToCover); err != nil {
			return err
		}

		startingHF, err := e.healthFactor(ctx, account)
		if err != nil {
			return err
		}
		if startingHF.Cmp(fpmath.MinHealthFactor) >= 0 {
			e.rejectLiquidation("target_healthy")
			return fmt.Errorf("%w: account %s at %s", ErrHealthFactorOk, account.Hex(), startingHF)
		}

		price, err := e.normalizedPrice(ctx, asset)
		if err != nil {
			return err
		}
		collateralFromDebt := fpmath.TokenAmountFromUsd(debtToCover, price)
		// Bonus is 10% of the debt-covered collateral. With heavy bad debt
		// the target may not hold this much; the ledger debit below then
		// fails closed and the liquidator must cover less.
		totalSeized := new(big.Int).Add(collateralFromDebt, fpmath.BonusAmount(collateralFromDebt))

		if err := e.redeemCollateral(tx, account, liquidator, asset, totalSeized); err != nil {
			e.rejectLiquidation("insufficient_collateral")
			return err
		}
		if err := e.burnDebt(tx, account, liquidator, debtToCover); err != nil {
			return err
		}

		endingHF, err := e.healthFactor(ctx, account)
		if err != nil {
			return err
		}
		if endingHF.Cmp(startingHF) <= 0 {
			e.rejectLiquidation("not_improved")
			return fmt.Errorf("%w: %s -> %s", ErrHealthFactorNotImproved, startingHF, endingHF)
		}

		// The liquidator may have minted against its own collateral to
		// fund the repayment; it must remain solvent too.
		if err := e.revertIfUnhealthy(ctx, liquidator); err != nil {
			e.rejectLiquidation("liquidator_unhealthy")
			return err
		}

		if err := e.settleBurn(tx, liquidator, debtToCover); err != nil {
			return err
		}
		if err := e.payOutCollateral(asset, liquidator, totalSeized); err != nil {
			return err
		}

		tx.emit(event.KindLiquidationExecuted, event.LiquidationExecuted{
			Liquidator:       liquidator,
			Account:          account,
			Asset:            asset,
			DebtCovered:      debtToCover,
			CollateralSeized: totalSeized,
		})
		if e.metrics != nil {
			e.metrics.LiquidationsExecuted.Inc()
		}
		return nil
	})
}

func (e *Engine) rejectLiquidation(reason string) {
	if e.metrics != nil {
		e.metrics.LiquidationsRejected.WithLabelValues(reason).Inc()
	}
}
