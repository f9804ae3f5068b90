package query

import (
	"encoding/json"
	"time"
)

// Big integers are rendered as decimal strings: 18-decimal wad values
// overflow JSON numbers.

// AssetResponse describes one approved collateral asset.
type AssetResponse struct {
	Address  string `json:"address"`
	PriceWad string `json:"price_wad"`
}

// AccountResponse is the position summary for one account.
type AccountResponse struct {
	Address            string `json:"address"`
	DebtWad            string `json:"debt_wad"`
	CollateralValueWad string `json:"collateral_value_wad"`
	HealthFactorWad    string `json:"health_factor_wad"`
	Liquidatable       bool   `json:"liquidatable"`
}

// CollateralResponse is one account's deposited amount of one asset.
type CollateralResponse struct {
	Account   string `json:"account"`
	Asset     string `json:"asset"`
	AmountWad string `json:"amount_wad"`
}

// ConversionResponse carries a USD/token conversion at the current price.
type ConversionResponse struct {
	Asset  string `json:"asset"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ConstantsResponse reports the fixed protocol parameters.
type ConstantsResponse struct {
	Wad                  string `json:"wad"`
	FeedPrecisionBoost   string `json:"feed_precision_boost"`
	LiquidationThreshold string `json:"liquidation_threshold"`
	LiquidationPrecision string `json:"liquidation_precision"`
	LiquidationBonus     string `json:"liquidation_bonus"`
	MinHealthFactor      string `json:"min_health_factor"`
}

// AuditEventResponse is one row of the persisted audit log.
type AuditEventResponse struct {
	Sequence  int64           `json:"sequence"`
	EventID   string          `json:"event_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}
