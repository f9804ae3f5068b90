package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotOwner              = errors.New("token: caller is not the owner")
	ErrZeroAmount            = errors.New("token: amount must be positive")
)

// Ledger is an in-memory fungible-token ledger with standard
// transfer/approve semantics and owner-gated mint/burn. It stands in for
// the external token contracts in local deployments and tests.
type Ledger struct {
	mu         sync.Mutex
	symbol     string
	owner      common.Address
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int // holder -> spender -> amount
}

func NewLedger(symbol string, owner common.Address) *Ledger {
	return &Ledger{
		symbol:     symbol,
		owner:      owner,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply)
}

func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Approve grants spender the right to move up to amount from holder.
func (l *Ledger) Approve(holder, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.allowances[holder]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.allowances[holder] = m
	}
	m[spender] = new(big.Int).Set(amount)
}

func (l *Ledger) Allowance(holder, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.allowances[holder]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

func (l *Ledger) Transfer(caller, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(caller, to, amount)
}

func (l *Ledger) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowances[from][caller]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s spender %s", ErrInsufficientAllowance, l.symbol, caller.Hex())
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

func (l *Ledger) Mint(caller, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return fmt.Errorf("%w: %s mint by %s", ErrNotOwner, l.symbol, caller.Hex())
	}
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	return nil
}

// Burn destroys amount from the caller's own balance.
func (l *Ledger) Burn(caller common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return fmt.Errorf("%w: %s burn by %s", ErrNotOwner, l.symbol, caller.Hex())
	}
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := l.debit(caller, amount); err != nil {
		return err
	}
	l.supply.Sub(l.supply, amount)
	return nil
}

// move, credit and debit assume l.mu is held.

func (l *Ledger) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

func (l *Ledger) credit(account common.Address, amount *big.Int) {
	b, ok := l.balances[account]
	if !ok {
		b = new(big.Int)
		l.balances[account] = b
	}
	b.Add(b, amount)
}

func (l *Ledger) debit(account common.Address, amount *big.Int) error {
	b := l.balances[account]
	if b == nil || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s account %s", ErrInsufficientBalance, l.symbol, account.Hex())
	}
	b.Sub(b, amount)
	return nil
}
