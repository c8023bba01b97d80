package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/loopfi/loopbot/internal/calc"
	"github.com/loopfi/loopbot/internal/domain"
)

// PlannerConfig carries the planner's static parameters. PremiumRate is the
// ledger's flashloan fee as a WAD rate and must match what the ledger charges
// at execution time.
type PlannerConfig struct {
	PremiumRate *big.Int
}

// PlannerService turns a live position snapshot plus cached prices into
// fully-parameterized engine requests. It reads balances from the ledger and
// prices from the cache, runs the calculator, and gates the result through
// the risk checks, so the engine only ever receives pre-validated inputs.
type PlannerService struct {
	cfg    PlannerConfig
	ledger domain.Ledger
	prices domain.PriceCache
	risk   *RiskService
	logger *slog.Logger
}

// NewPlannerService creates a PlannerService.
func NewPlannerService(cfg PlannerConfig, ledger domain.Ledger, prices domain.PriceCache,
	risk *RiskService, logger *slog.Logger) *PlannerService {
	return &PlannerService{
		cfg:    cfg,
		ledger: ledger,
		prices: prices,
		risk:   risk,
		logger: logger.With(slog.String("component", "planner_service")),
	}
}

// Snapshot reads the owner's current position and its loan-to-value from the
// ledger and price cache.
func (s *PlannerService) Snapshot(ctx context.Context, owner common.Address,
	collateralAsset, borrowAsset domain.AssetInfo) (domain.Position, *big.Int, error) {
	collateral, debt, err := s.ledger.AccountBalances(ctx, owner, collateralAsset.Address, borrowAsset.Address)
	if err != nil {
		return domain.Position{}, nil, fmt.Errorf("planner_service: account balances: %w", err)
	}
	pos := domain.Position{
		Owner:            owner,
		CollateralAsset:  collateralAsset,
		BorrowAsset:      borrowAsset,
		CollateralAmount: collateral,
		DebtAmount:       debt,
	}

	priceCol, priceDebt, err := s.pricePair(ctx, collateralAsset.Address, borrowAsset.Address)
	if err != nil {
		return domain.Position{}, nil, err
	}
	ltv := pos.LTV(priceCol, priceDebt)
	if ltv == nil {
		ltv = big.NewInt(0)
	}
	return pos, ltv, nil
}

// PlanLeverage derives the flashloan size for the requested target leverage
// and returns an engine-ready request together with the projected position.
// The conversion instruction is the caller's pre-quoted swap calldata for
// borrow asset into collateral; it stays opaque here.
func (s *PlannerService) PlanLeverage(ctx context.Context, owner common.Address,
	collateralAsset, borrowAsset domain.AssetInfo,
	newCollateralAmount, targetLeverage *big.Int,
	instruction []byte) (domain.LeverageRequest, domain.LeverageResult, error) {

	collateral, debt, err := s.ledger.AccountBalances(ctx, owner, collateralAsset.Address, borrowAsset.Address)
	if err != nil {
		return domain.LeverageRequest{}, domain.LeverageResult{}, fmt.Errorf("planner_service: account balances: %w", err)
	}
	priceCol, priceDebt, err := s.pricePair(ctx, collateralAsset.Address, borrowAsset.Address)
	if err != nil {
		return domain.LeverageRequest{}, domain.LeverageResult{}, err
	}

	in := calc.LeverageInput{
		CollateralAmount:    collateral,
		DebtAmount:          debt,
		PriceCollateral:     priceCol,
		PriceDebt:           priceDebt,
		CollateralDecimals:  collateralAsset.Decimals,
		DebtDecimals:        borrowAsset.Decimals,
		NewCollateralAmount: newCollateralAmount,
		TargetLeverage:      targetLeverage,
		PremiumRate:         s.cfg.PremiumRate,
	}
	res, err := calc.CalculateLeverage(in)
	if err != nil {
		return domain.LeverageRequest{}, domain.LeverageResult{}, fmt.Errorf("planner_service: calculate leverage: %w", err)
	}
	if err := s.risk.ValidateLeverage(in, res); err != nil {
		return domain.LeverageRequest{}, domain.LeverageResult{}, err
	}

	req := domain.LeverageRequest{
		Owner:                 owner,
		CollateralAsset:       collateralAsset,
		BorrowAsset:           borrowAsset,
		NewCollateralAmount:   newCollateralAmount,
		LoanAmount:            res.LoanAmount,
		ConversionInstruction: instruction,
	}
	if err := req.Validate(); err != nil {
		return domain.LeverageRequest{}, domain.LeverageResult{}, fmt.Errorf("planner_service: planned request: %w", err)
	}

	s.logger.Info("leverage planned",
		slog.String("owner", owner.Hex()),
		slog.String("loan_amount", res.LoanAmount.String()),
		slog.String("projected_ltv", res.LTV.String()),
	)
	return req, res, nil
}

// PlanDeleverage derives the repay, loan, and withdrawal amounts for the
// requested retained debt fraction (WAD in [0,1], 0 unwinds everything) and
// returns an engine-ready request together with the projected position. The
// conversion instruction must swap collateral into the borrow asset.
func (s *PlannerService) PlanDeleverage(ctx context.Context, owner common.Address,
	collateralAsset, borrowAsset domain.AssetInfo,
	retainRatio *big.Int,
	instruction []byte) (domain.DeleverageRequest, domain.DeleverageResult, error) {

	collateral, debt, err := s.ledger.AccountBalances(ctx, owner, collateralAsset.Address, borrowAsset.Address)
	if err != nil {
		return domain.DeleverageRequest{}, domain.DeleverageResult{}, fmt.Errorf("planner_service: account balances: %w", err)
	}
	priceCol, priceDebt, err := s.pricePair(ctx, collateralAsset.Address, borrowAsset.Address)
	if err != nil {
		return domain.DeleverageRequest{}, domain.DeleverageResult{}, err
	}

	in := calc.DeleverageInput{
		CollateralAmount:   collateral,
		DebtAmount:         debt,
		PriceCollateral:    priceCol,
		PriceDebt:          priceDebt,
		CollateralDecimals: collateralAsset.Decimals,
		DebtDecimals:       borrowAsset.Decimals,
		RetainRatio:        retainRatio,
		PremiumRate:        s.cfg.PremiumRate,
	}
	res, err := calc.CalculateDeleverage(in)
	if err != nil {
		return domain.DeleverageRequest{}, domain.DeleverageResult{}, fmt.Errorf("planner_service: calculate deleverage: %w", err)
	}
	if err := s.risk.ValidateDeleverage(res); err != nil {
		return domain.DeleverageRequest{}, domain.DeleverageResult{}, err
	}

	req := domain.DeleverageRequest{
		Owner:                 owner,
		CollateralAsset:       collateralAsset,
		BorrowAsset:           borrowAsset,
		LoanAmount:            res.LoanAmount,
		RepayAmount:           res.RepayAmount,
		WithdrawAmount:        res.WithdrawAmount,
		ConversionInstruction: instruction,
	}
	if err := req.Validate(); err != nil {
		return domain.DeleverageRequest{}, domain.DeleverageResult{}, fmt.Errorf("planner_service: planned request: %w", err)
	}

	s.logger.Info("deleverage planned",
		slog.String("owner", owner.Hex()),
		slog.String("loan_amount", res.LoanAmount.String()),
		slog.String("repay_amount", res.RepayAmount.String()),
		slog.String("projected_ltv", res.LTV.String()),
	)
	return req, res, nil
}

func (s *PlannerService) pricePair(ctx context.Context, collateral, borrow common.Address) (*big.Int, *big.Int, error) {
	priceCol, err := s.prices.GetPrice(ctx, collateral)
	if err != nil {
		return nil, nil, fmt.Errorf("planner_service: collateral price: %w", err)
	}
	priceDebt, err := s.prices.GetPrice(ctx, borrow)
	if err != nil {
		return nil, nil, fmt.Errorf("planner_service: borrow price: %w", err)
	}
	if priceCol.Sign() <= 0 || priceDebt.Sign() <= 0 {
		return nil, nil, fmt.Errorf("planner_service: non-positive price: %w", domain.ErrArithmetic)
	}
	return priceCol, priceDebt, nil
}
