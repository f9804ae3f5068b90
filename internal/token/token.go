package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// The engine treats tokens as external collaborators: collateral assets it
// pulls in and pays out, and the synthetic currency whose supply it alone
// may mint and burn. Callers identify themselves explicitly since there is
// no ambient transaction sender in-process.
//
// Implementations must not call back into the engine from inside a
// transfer, mint or burn. The engine invokes them while holding its
// non-reentrant lock: a reentrant mutation fails fast with the engine's
// reentrancy error, and a reentrant read-only query deadlocks.

// Collateral is the surface the engine needs from a collateral asset token.
type Collateral interface {
	// Transfer moves tokens out of the caller's own balance.
	Transfer(caller, to common.Address, amount *big.Int) error

	// TransferFrom moves tokens from `from` to `to`, spending the
	// allowance `from` granted to the caller.
	TransferFrom(caller, from, to common.Address, amount *big.Int) error

	BalanceOf(account common.Address) *big.Int
}

// Synth is the synthetic-currency token. Mint and Burn are gated to the
// token's owner, which is handed to the engine at construction.
type Synth interface {
	Collateral

	Mint(caller, to common.Address, amount *big.Int) error
	Burn(caller common.Address, amount *big.Int) error
}
