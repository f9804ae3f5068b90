package engine

import (
	"errors"
	"fmt"
	"math/big"
)

// Every failure is a whole-operation abort: state is left exactly as it
// was before the call began, and nothing is retried internally.
var (
	ErrInvalidAmount           = errors.New("engine: amount must be positive")
	ErrUnapprovedAsset         = errors.New("engine: asset not approved")
	ErrExternalTransferFailed  = errors.New("engine: external transfer failed")
	ErrMintFailed              = errors.New("engine: synth mint failed")
	ErrBreaksHealthFactor      = errors.New("engine: health factor below minimum")
	ErrHealthFactorOk          = errors.New("engine: health factor is not below minimum")
	ErrHealthFactorNotImproved = errors.New("engine: health factor has not improved")
	ErrReentrantCall           = errors.New("engine: reentrant call")
	ErrConfigMismatch          = errors.New("engine: config mismatch")
)

// HealthFactorError carries the offending ratio alongside
// ErrBreaksHealthFactor for errors.Is matching.
type HealthFactorError struct {
	Ratio *big.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("engine: health factor below minimum: current ratio %s", e.Ratio)
}

func (e *HealthFactorError) Unwrap() error {
	return ErrBreaksHealthFactor
}
