package service

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/loopfi/loopbot/internal/calc"
	"github.com/loopfi/loopbot/internal/domain"
	"github.com/loopfi/loopbot/internal/wadmath"
)

// RiskConfig holds the tunable parameters for pre-execution safety checks.
// MaxLTV is the configured maximum loan-to-value (WAD); MaxLoanMultiple caps
// the loan value at a generous multiple of the added collateral value (WAD).
type RiskConfig struct {
	MaxLTV          *big.Int
	MaxLoanMultiple *big.Int
}

// RiskService checks calculated results against policy bounds before they
// are allowed to drive an operation. This is advisory policy, not a solvency
// proof: only the ledger's own health check is authoritative.
type RiskService struct {
	cfg    RiskConfig
	logger *slog.Logger
}

// NewRiskService creates a RiskService with the given policy bounds.
func NewRiskService(cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// MaxLeverage returns the theoretical leverage ceiling 1/(1-maxLTV) for the
// configured maximum loan-to-value.
func (s *RiskService) MaxLeverage() (*big.Int, error) {
	one := wadmath.One()
	headroom := new(big.Int).Sub(one, s.cfg.MaxLTV)
	if headroom.Sign() <= 0 {
		return nil, fmt.Errorf("risk_service: max_ltv %s leaves no headroom: %w", s.cfg.MaxLTV, domain.ErrInvalidLeverage)
	}
	return wadmath.WadDiv(one, headroom)
}

// ValidateLeverage rejects a calculated leverage result when the requested
// target exceeds the leverage ceiling, or when the computed loan value
// exceeds MaxLoanMultiple times the added collateral value. The latter
// guards against calculator misuse and adversarial inputs feeding an absurd
// ratio.
func (s *RiskService) ValidateLeverage(in calc.LeverageInput, res domain.LeverageResult) error {
	ceiling, err := s.MaxLeverage()
	if err != nil {
		return err
	}
	if in.TargetLeverage.Cmp(ceiling) > 0 {
		s.logger.Warn("target leverage above ceiling",
			slog.String("target", in.TargetLeverage.String()),
			slog.String("ceiling", ceiling.String()),
		)
		return fmt.Errorf("risk_service: target leverage %s exceeds ceiling %s: %w",
			in.TargetLeverage, ceiling, domain.ErrInvalidLeverage)
	}

	addedValue := wadmath.Value(in.NewCollateralAmount, in.CollateralDecimals, in.PriceCollateral)
	loanValue := wadmath.Value(res.LoanAmount, in.DebtDecimals, in.PriceDebt)
	maxLoanValue := wadmath.WadMul(addedValue, s.cfg.MaxLoanMultiple)
	if loanValue.Cmp(maxLoanValue) > 0 {
		s.logger.Warn("loan value above sanity bound",
			slog.String("loan_value", loanValue.String()),
			slog.String("max_loan_value", maxLoanValue.String()),
		)
		return fmt.Errorf("risk_service: loan value %s exceeds %sx added collateral: %w",
			loanValue, s.cfg.MaxLoanMultiple, domain.ErrInvalidLoanAmount)
	}
	return nil
}

// ValidateDeleverage rejects a calculated deleverage result whose resulting
// LTV would still sit above the configured maximum.
func (s *RiskService) ValidateDeleverage(res domain.DeleverageResult) error {
	if res.LTV.Cmp(s.cfg.MaxLTV) > 0 {
		return fmt.Errorf("risk_service: resulting ltv %s exceeds max %s: %w",
			res.LTV, s.cfg.MaxLTV, domain.ErrInvalidLeverage)
	}
	return nil
}
