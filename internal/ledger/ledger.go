package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientBalance is returned by any debit that would take a
// position below zero. Decrements fail closed, never wrap.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// PositionKey identifies one account's holding of one collateral asset.
type PositionKey struct {
	Account common.Address
	Asset   common.Address
}

// CollateralLedger holds per-account, per-asset deposited amounts in wad.
// Positions come into existence on first credit and persist forever; a
// zero balance is a valid terminal state, not a deletion.
type CollateralLedger struct {
	deposits map[PositionKey]*big.Int
}

func NewCollateralLedger() *CollateralLedger {
	return &CollateralLedger{deposits: make(map[PositionKey]*big.Int)}
}

// Balance returns a copy of the deposited amount, zero if untouched.
func (l *CollateralLedger) Balance(account, asset common.Address) *big.Int {
	if b, ok := l.deposits[PositionKey{account, asset}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Credit increments the position. Amount validation is the caller's job.
func (l *CollateralLedger) Credit(account, asset common.Address, amount *big.Int) {
	key := PositionKey{account, asset}
	b, ok := l.deposits[key]
	if !ok {
		b = new(big.Int)
		l.deposits[key] = b
	}
	b.Add(b, amount)
}

// Debit decrements the position, failing closed when amount exceeds it.
func (l *CollateralLedger) Debit(account, asset common.Address, amount *big.Int) error {
	b := l.deposits[PositionKey{account, asset}]
	if b == nil || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s asset %s", ErrInsufficientBalance,
			account.Hex(), asset.Hex())
	}
	b.Sub(b, amount)
	return nil
}

// DebtLedger holds per-account minted synthetic-currency debt in wad.
type DebtLedger struct {
	minted map[common.Address]*big.Int
}

func NewDebtLedger() *DebtLedger {
	return &DebtLedger{minted: make(map[common.Address]*big.Int)}
}

// Balance returns a copy of the outstanding debt, zero if untouched.
func (l *DebtLedger) Balance(account common.Address) *big.Int {
	if b, ok := l.minted[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *DebtLedger) Credit(account common.Address, amount *big.Int) {
	b, ok := l.minted[account]
	if !ok {
		b = new(big.Int)
		l.minted[account] = b
	}
	b.Add(b, amount)
}

func (l *DebtLedger) Debit(account common.Address, amount *big.Int) error {
	b := l.minted[account]
	if b == nil || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s debt", ErrInsufficientBalance, account.Hex())
	}
	b.Sub(b, amount)
	return nil
}
