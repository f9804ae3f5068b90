// Package query serves read-only views: live position state straight from
// the engine's committed ledgers and historical records from the persisted
// audit log.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"SynthEngine/internal/engine"
	"SynthEngine/internal/fpmath"

	"github.com/ethereum/go-ethereum/common"
)

// Service answers read-only queries. db may be nil when the service runs
// without an audit store; history queries then fail with ErrNoAuditStore.
type Service struct {
	engine *engine.Engine
	db     *sql.DB
}

// ErrNoAuditStore is returned by history queries when no database is wired.
var ErrNoAuditStore = fmt.Errorf("audit store not configured")

func NewService(eng *engine.Engine, db *sql.DB) *Service {
	return &Service{engine: eng, db: db}
}

// Assets lists the approved collateral set with current prices. A stale
// feed fails the whole query rather than reporting a misleading price.
func (s *Service) Assets(ctx context.Context) ([]AssetResponse, error) {
	assets := s.engine.ApprovedAssets()
	out := make([]AssetResponse, 0, len(assets))
	for _, asset := range assets {
		price, err := s.engine.UsdValue(ctx, asset, fpmath.Wad)
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", asset.Hex(), err)
		}
		out = append(out, AssetResponse{
			Address:  asset.Hex(),
			PriceWad: price.String(),
		})
	}
	return out, nil
}

// Account summarizes one account's debt, collateral value and ratio.
func (s *Service) Account(ctx context.Context, account common.Address) (AccountResponse, error) {
	debt, collateralValue, err := s.engine.AccountInfo(ctx, account)
	if err != nil {
		return AccountResponse{}, err
	}
	hf, err := s.engine.HealthFactor(ctx, account)
	if err != nil {
		return AccountResponse{}, err
	}
	return AccountResponse{
		Address:            account.Hex(),
		DebtWad:            debt.String(),
		CollateralValueWad: collateralValue.String(),
		HealthFactorWad:    hf.String(),
		Liquidatable:       hf.Cmp(fpmath.MinHealthFactor) < 0,
	}, nil
}

// Collateral returns one account's deposited amount of one asset.
func (s *Service) Collateral(account, asset common.Address) CollateralResponse {
	amount := s.engine.CollateralBalance(account, asset)
	return CollateralResponse{
		Account:   account.Hex(),
		Asset:     asset.Hex(),
		AmountWad: amount.String(),
	}
}

// UsdValue converts a token amount to USD at the current price.
func (s *Service) UsdValue(ctx context.Context, asset common.Address, amount *big.Int) (ConversionResponse, error) {
	value, err := s.engine.UsdValue(ctx, asset, amount)
	if err != nil {
		return ConversionResponse{}, err
	}
	return ConversionResponse{
		Asset:  asset.Hex(),
		Input:  amount.String(),
		Output: value.String(),
	}, nil
}

// TokenAmountFromUsd converts a USD amount to tokens at the current price.
func (s *Service) TokenAmountFromUsd(ctx context.Context, asset common.Address, usd *big.Int) (ConversionResponse, error) {
	amount, err := s.engine.TokenAmountFromUsd(ctx, asset, usd)
	if err != nil {
		return ConversionResponse{}, err
	}
	return ConversionResponse{
		Asset:  asset.Hex(),
		Input:  usd.String(),
		Output: amount.String(),
	}, nil
}

// Constants reports the fixed protocol parameters.
func (s *Service) Constants() ConstantsResponse {
	c := s.engine.Constants()
	return ConstantsResponse{
		Wad:                  c.Wad.String(),
		FeedPrecisionBoost:   c.FeedPrecisionBoost.String(),
		LiquidationThreshold: c.LiquidationThreshold.String(),
		LiquidationPrecision: c.LiquidationPrecision.String(),
		LiquidationBonus:     c.LiquidationBonus.String(),
		MinHealthFactor:      c.MinHealthFactor.String(),
	}
}

// AuditEvents pages through the persisted audit log from afterSequence,
// oldest first.
func (s *Service) AuditEvents(ctx context.Context, afterSequence int64, limit int) ([]AuditEventResponse, error) {
	if s.db == nil {
		return nil, ErrNoAuditStore
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_id, kind, payload, timestamp
		FROM audit.events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2`, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEventResponse
	for rows.Next() {
		var r AuditEventResponse
		if err := rows.Scan(&r.Sequence, &r.EventID, &r.Kind, &r.Payload, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
