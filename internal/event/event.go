package event

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Kind discriminates audit record payloads.
type Kind int32

const (
	KindUnknown Kind = iota
	KindCollateralDeposited
	KindCollateralRedeemed
	KindDebtMinted
	KindDebtBurned
	KindLiquidationExecuted
)

func (k Kind) String() string {
	switch k {
	case KindCollateralDeposited:
		return "CollateralDeposited"
	case KindCollateralRedeemed:
		return "CollateralRedeemed"
	case KindDebtMinted:
		return "DebtMinted"
	case KindDebtBurned:
		return "DebtBurned"
	case KindLiquidationExecuted:
		return "LiquidationExecuted"
	default:
		return "Unknown"
	}
}

// MarshalJSON encodes the kind by name so stored and published records stay
// readable.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "CollateralDeposited":
		*k = KindCollateralDeposited
	case "CollateralRedeemed":
		*k = KindCollateralRedeemed
	case "DebtMinted":
		*k = KindDebtMinted
	case "DebtBurned":
		*k = KindDebtBurned
	case "LiquidationExecuted":
		*k = KindLiquidationExecuted
	default:
		return fmt.Errorf("unknown event kind %q", name)
	}
	return nil
}

// Envelope wraps every audit record the engine emits. Sequence is a global
// monotonic counter assigned at commit time; records of aborted operations
// are never emitted.
type Envelope struct {
	Sequence  int64       `json:"sequence"`
	ID        uuid.UUID   `json:"id"`
	Kind      Kind        `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CollateralDeposited records a collateral inflow.
type CollateralDeposited struct {
	Account common.Address `json:"account"`
	Asset   common.Address `json:"asset"`
	Amount  *big.Int       `json:"amount"`
}

// CollateralRedeemed records a collateral outflow. From and To differ when
// a liquidation seizes collateral for the liquidator.
type CollateralRedeemed struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Asset  common.Address `json:"asset"`
	Amount *big.Int       `json:"amount"`
}

// DebtMinted records new synthetic-currency debt.
type DebtMinted struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

// DebtBurned records debt repayment. Payer funded the burn, which may be a
// third party during liquidation.
type DebtBurned struct {
	Account common.Address `json:"account"`
	Payer   common.Address `json:"payer"`
	Amount  *big.Int       `json:"amount"`
}

// LiquidationExecuted summarizes one completed liquidation call.
type LiquidationExecuted struct {
	Liquidator       common.Address `json:"liquidator"`
	Account          common.Address `json:"account"`
	Asset            common.Address `json:"asset"`
	DebtCovered      *big.Int       `json:"debt_covered"`
	CollateralSeized *big.Int       `json:"collateral_seized"`
}
