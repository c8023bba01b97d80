package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/loopfi/loopbot/internal/service"
)

// PlanHandler exposes the planner as a dry-run API: it derives loan sizes and
// projected positions without touching the chain.
type PlanHandler struct {
	planner *service.PlannerService
	assets  *AssetRegistry
	logger  *slog.Logger
}

// NewPlanHandler creates a PlanHandler.
func NewPlanHandler(planner *service.PlannerService, assets *AssetRegistry, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{
		planner: planner,
		assets:  assets,
		logger:  logger.With(slog.String("handler", "plan")),
	}
}

// planLeverageRequest is the JSON body for POST /api/plan/leverage.
type planLeverageRequest struct {
	Owner                 string `json:"owner"`
	CollateralAsset       string `json:"collateral_asset"`
	BorrowAsset           string `json:"borrow_asset"`
	NewCollateralAmount   string `json:"new_collateral_amount"`
	TargetLeverage        string `json:"target_leverage"`
	ConversionInstruction string `json:"conversion_instruction,omitempty"`
}

// planDeleverageRequest is the JSON body for POST /api/plan/deleverage.
// RetainRatio is the WAD fraction of debt kept after the unwind; "0" clears
// the whole position.
type planDeleverageRequest struct {
	Owner                 string `json:"owner"`
	CollateralAsset       string `json:"collateral_asset"`
	BorrowAsset           string `json:"borrow_asset"`
	RetainRatio           string `json:"retain_ratio"`
	ConversionInstruction string `json:"conversion_instruction,omitempty"`
}

// leveragePlanResponse reports the derived loan and projected position.
type leveragePlanResponse struct {
	Owner            string    `json:"owner"`
	CollateralAsset  assetJSON `json:"collateral_asset"`
	BorrowAsset      assetJSON `json:"borrow_asset"`
	LoanAmount       string    `json:"loan_amount"`
	ProjectedLTV     string    `json:"projected_ltv"`
	CollateralAmount string    `json:"collateral_amount"`
	DebtAmount       string    `json:"debt_amount"`
}

// deleveragePlanResponse reports the derived amounts and projected position.
type deleveragePlanResponse struct {
	Owner            string    `json:"owner"`
	CollateralAsset  assetJSON `json:"collateral_asset"`
	BorrowAsset      assetJSON `json:"borrow_asset"`
	LoanAmount       string    `json:"loan_amount"`
	RepayAmount      string    `json:"repay_amount"`
	WithdrawAmount   string    `json:"withdraw_amount"`
	ProjectedLTV     string    `json:"projected_ltv"`
	CollateralAmount string    `json:"collateral_amount"`
	DebtAmount       string    `json:"debt_amount"`
}

// PlanLeverage sizes a leverage pass without executing it.
// POST /api/plan/leverage
func (h *PlanHandler) PlanLeverage(w http.ResponseWriter, r *http.Request) {
	var body planLeverageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	owner, err := parseAddress(body.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collateral, err := h.assets.Resolve(body.CollateralAsset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	borrow, err := h.assets.Resolve(body.BorrowAsset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	newCollateral, err := parseAmount(body.NewCollateralAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := parseAmount(body.TargetLeverage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	instruction, err := parseInstruction(body.ConversionInstruction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, res, err := h.planner.PlanLeverage(r.Context(), owner, collateral, borrow, newCollateral, target, instruction)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, leveragePlanResponse{
		Owner:            req.Owner.Hex(),
		CollateralAsset:  toAssetJSON(req.CollateralAsset),
		BorrowAsset:      toAssetJSON(req.BorrowAsset),
		LoanAmount:       bigString(res.LoanAmount),
		ProjectedLTV:     bigString(res.LTV),
		CollateralAmount: bigString(res.CollateralAmount),
		DebtAmount:       bigString(res.DebtAmount),
	})
}

// PlanDeleverage sizes a deleverage pass without executing it.
// POST /api/plan/deleverage
func (h *PlanHandler) PlanDeleverage(w http.ResponseWriter, r *http.Request) {
	var body planDeleverageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	owner, err := parseAddress(body.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collateral, err := h.assets.Resolve(body.CollateralAsset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	borrow, err := h.assets.Resolve(body.BorrowAsset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	retain, err := parseAmount(body.RetainRatio)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	instruction, err := parseInstruction(body.ConversionInstruction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, res, err := h.planner.PlanDeleverage(r.Context(), owner, collateral, borrow, retain, instruction)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleveragePlanResponse{
		Owner:            req.Owner.Hex(),
		CollateralAsset:  toAssetJSON(req.CollateralAsset),
		BorrowAsset:      toAssetJSON(req.BorrowAsset),
		LoanAmount:       bigString(res.LoanAmount),
		RepayAmount:      bigString(res.RepayAmount),
		WithdrawAmount:   bigString(res.WithdrawAmount),
		ProjectedLTV:     bigString(res.LTV),
		CollateralAmount: bigString(res.CollateralAmount),
		DebtAmount:       bigString(res.DebtAmount),
	})
}
