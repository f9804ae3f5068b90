package engine

import (
	"context"
	"fmt"
	"math/big"

	"SynthEngine/internal/event"

	"github.com/ethereum/go-ethereum/common"
)

// External value transfers are ordered after every ledger write and
// invariant check inside an operation, so a failed transfer only ever has
// in-memory ledger state to unwind. The one exception is the inbound
// deposit pull, whose inverse (paying the tokens back out of custody) is
// registered on the undo log.

// DepositCollateral pulls amount of an approved asset from the caller into
// engine custody and credits the caller's collateral position.
func (e *Engine) DepositCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error {
	return e.mutate("deposit_collateral", func(tx *txn) error {
		return e.depositCollateral(tx, caller, asset, amount)
	})
}

// MintDebt creates debt for the caller, aborting if the caller's health
// factor would drop below the minimum.
func (e *Engine) MintDebt(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.mutate("mint_debt", func(tx *txn) error {
		if err := e.mintDebt(tx, caller, amount); err != nil {
			return err
		}
		if err := e.revertIfUnhealthy(ctx, caller); err != nil {
			return err
		}
		return e.mintSynth(caller, amount)
	})
}

// DepositCollateralAndMint composes deposit and mint as one atomic
// operation: a failed mint rolls the deposit back too.
func (e *Engine) DepositCollateralAndMint(ctx context.Context, caller, asset common.Address, collateralAmount, debtAmount *big.Int) error {
	return e.mutate("deposit_collateral_and_mint", func(tx *txn) error {
		if err := e.depositCollateral(tx, caller, asset, collateralAmount); err != nil {
			return err
		}
		if err := e.mintDebt(tx, caller, debtAmount); err != nil {
			return err
		}
		if err := e.revertIfUnhealthy(ctx, caller); err != nil {
			return err
		}
		return e.mintSynth(caller, debtAmount)
	})
}

// RedeemCollateral withdraws collateral to the caller, aborting if the
// caller's remaining position would be undercollateralized.
func (e *Engine) RedeemCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error {
	return e.mutate("redeem_collateral", func(tx *txn) error {
		if err := e.redeemCollateral(tx, caller, caller, asset, amount); err != nil {
			return err
		}
		if err := e.revertIfUnhealthy(ctx, caller); err != nil {
			return err
		}
		return e.payOutCollateral(asset, caller, amount)
	})
}

// BurnDebt repays the caller's own debt, pulling the synth from the caller
// and destroying it. Burning can only improve the ratio but the invariant
// check still runs for consistency.
func (e *Engine) BurnDebt(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.mutate("burn_debt", func(tx *txn) error {
		if err := e.burnDebt(tx, caller, caller, amount); err != nil {
			return err
		}
		if err := e.revertIfUnhealthy(ctx, caller); err != nil {
			return err
		}
		return e.settleBurn(tx, caller, amount)
	})
}

// RedeemCollateralForDebt burns debt then redeems collateral as one atomic
// operation.
func (e *Engine) RedeemCollateralForDebt(ctx context.Context, caller, asset common.Address, collateralAmount, debtAmount *big.Int) error {
	return e.mutate("redeem_collateral_for_debt", func(tx *txn) error {
		if err := e.burnDebt(tx, caller, caller, debtAmount); err != nil {
			return err
		}
		if err := e.redeemCollateral(tx, caller, caller, asset, collateralAmount); err != nil {
			return err
		}
		if err := e.revertIfUnhealthy(ctx, caller); err != nil {
			return err
		}
		if err := e.settleBurn(tx, caller, debtAmount); err != nil {
			return err
		}
		return e.payOutCollateral(asset, caller, collateralAmount)
	})
}

// --- Shared primitives (lock held, inside a txn) ---

// depositCollateral credits the position and pulls the tokens in. Both the
// ledger credit and the inbound transfer register inverses: the pull is
// undone by paying the tokens back out of custody.
func (e *Engine) depositCollateral(tx *txn, account, asset common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	tok, ok := e.collateral[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnapprovedAsset, asset.Hex())
	}

	e.deposits.Credit(account, asset, amount)
	tx.onRollback(func() {
		if err := e.deposits.Debit(account, asset, amount); err != nil {
			e.log.Error().Err(err).Msg("rollback of collateral credit failed")
		}
	})
	tx.emit(event.KindCollateralDeposited, event.CollateralDeposited{
		Account: account, Asset: asset, Amount: amount,
	})

	if err := tok.TransferFrom(e.address, account, e.address, amount); err != nil {
		return fmt.Errorf("%w: pull %s: %v", ErrExternalTransferFailed, asset.Hex(), err)
	}
	tx.onRollback(func() {
		if err := tok.Transfer(e.address, account, amount); err != nil {
			e.log.Error().Err(err).Msg("rollback of collateral pull failed")
		}
	})
	return nil
}

// redeemCollateral debits from's position in favor of to. The outbound
// token transfer is sequenced separately (payOutCollateral) after all
// checks have passed.
func (e *Engine) redeemCollateral(tx *txn, from, to, asset common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if _, ok := e.collateral[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrUnapprovedAsset, asset.Hex())
	}

	if err := e.deposits.Debit(from, asset, amount); err != nil {
		return err
	}
	tx.onRollback(func() {
		e.deposits.Credit(from, asset, amount)
	})
	tx.emit(event.KindCollateralRedeemed, event.CollateralRedeemed{
		From: from, To: to, Asset: asset, Amount: amount,
	})
	return nil
}

// mintDebt credits the debt position. The external supply mint
// (mintSynth) runs after the invariant check.
func (e *Engine) mintDebt(tx *txn, account common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	e.debt.Credit(account, amount)
	tx.onRollback(func() {
		if err := e.debt.Debit(account, amount); err != nil {
			e.log.Error().Err(err).Msg("rollback of debt credit failed")
		}
	})
	tx.emit(event.KindDebtMinted, event.DebtMinted{Account: account, Amount: amount})
	return nil
}

// burnDebt debits onBehalfOf's debt position. The external pull-and-burn
// (settleBurn) runs after the invariant check.
func (e *Engine) burnDebt(tx *txn, onBehalfOf, payer common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := e.debt.Debit(onBehalfOf, amount); err != nil {
		return err
	}
	tx.onRollback(func() {
		e.debt.Credit(onBehalfOf, amount)
	})
	tx.emit(event.KindDebtBurned, event.DebtBurned{
		Account: onBehalfOf, Payer: payer, Amount: amount,
	})
	return nil
}

// --- External settlement steps ---

func (e *Engine) mintSynth(to common.Address, amount *big.Int) error {
	if err := e.synth.Mint(e.address, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	return nil
}

// settleBurn pulls the repayment from payer into custody and destroys it.
// The pull registers an inverse; the burn registers a re-mint, since the
// engine holds the mint authority.
func (e *Engine) settleBurn(tx *txn, payer common.Address, amount *big.Int) error {
	if err := e.synth.TransferFrom(e.address, payer, e.address, amount); err != nil {
		return fmt.Errorf("%w: pull synth from %s: %v", ErrExternalTransferFailed, payer.Hex(), err)
	}
	tx.onRollback(func() {
		if err := e.synth.Transfer(e.address, payer, amount); err != nil {
			e.log.Error().Err(err).Msg("rollback of synth pull failed")
		}
	})

	if err := e.synth.Burn(e.address, amount); err != nil {
		return fmt.Errorf("%w: burn synth: %v", ErrExternalTransferFailed, err)
	}
	tx.onRollback(func() {
		if err := e.synth.Mint(e.address, e.address, amount); err != nil {
			e.log.Error().Err(err).Msg("rollback of synth burn failed")
		}
	})
	return nil
}

func (e *Engine) payOutCollateral(asset, to common.Address, amount *big.Int) error {
	tok := e.collateral[asset]
	if err := tok.Transfer(e.address, to, amount); err != nil {
		return fmt.Errorf("%w: pay out %s: %v", ErrExternalTransferFailed, asset.Hex(), err)
	}
	return nil
}
