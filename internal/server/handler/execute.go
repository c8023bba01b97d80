package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/loopfi/loopbot/internal/service"
)

// ExecuteHandler plans and runs orchestration passes. Each request plans
// against live balances, gates through the risk checks, then hands the
// request to the executor, which serializes per owner.
type ExecuteHandler struct {
	planner  *service.PlannerService
	executor *service.ExecutorService
	assets   *AssetRegistry
	logger   *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler.
func NewExecuteHandler(planner *service.PlannerService, executor *service.ExecutorService,
	assets *AssetRegistry, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		planner:  planner,
		executor: executor,
		assets:   assets,
		logger:   logger.With(slog.String("handler", "execute")),
	}
}

// executeResponse reports the executed amounts and projected position.
type executeResponse struct {
	Owner            string `json:"owner"`
	Action           string `json:"action"`
	LoanAmount       string `json:"loan_amount"`
	ProjectedLTV     string `json:"projected_ltv"`
	CollateralAmount string `json:"collateral_amount"`
	DebtAmount       string `json:"debt_amount"`
}

// ExecuteLeverage plans and runs one leverage pass.
// POST /api/execute/leverage
func (h *ExecuteHandler) ExecuteLeverage(w http.ResponseWriter, r *http.Request) {
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

	if err := h.executor.ExecuteLeverage(r.Context(), req); err != nil {
		h.logger.Error("leverage pass failed",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Owner:            req.Owner.Hex(),
		Action:           "leverage",
		LoanAmount:       bigString(res.LoanAmount),
		ProjectedLTV:     bigString(res.LTV),
		CollateralAmount: bigString(res.CollateralAmount),
		DebtAmount:       bigString(res.DebtAmount),
	})
}

// ExecuteDeleverage plans and runs one deleverage pass.
// POST /api/execute/deleverage
func (h *ExecuteHandler) ExecuteDeleverage(w http.ResponseWriter, r *http.Request) {
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

	if err := h.executor.ExecuteDeleverage(r.Context(), req); err != nil {
		h.logger.Error("deleverage pass failed",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Owner:            req.Owner.Hex(),
		Action:           "deleverage",
		LoanAmount:       bigString(res.LoanAmount),
		ProjectedLTV:     bigString(res.LTV),
		CollateralAmount: bigString(res.CollateralAmount),
		DebtAmount:       bigString(res.DebtAmount),
	})
}
