package handler

import (
	"log/slog"
	"net/http"

	"github.com/loopfi/loopbot/internal/service"
)

// PositionHandler serves live position snapshots read from the ledger.
type PositionHandler struct {
	planner *service.PlannerService
	assets  *AssetRegistry
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(planner *service.PlannerService, assets *AssetRegistry, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		planner: planner,
		assets:  assets,
		logger:  logger.With(slog.String("handler", "position")),
	}
}

// positionResponse is the wire form of a position snapshot.
type positionResponse struct {
	Owner            string    `json:"owner"`
	CollateralAsset  assetJSON `json:"collateral_asset"`
	BorrowAsset      assetJSON `json:"borrow_asset"`
	CollateralAmount string    `json:"collateral_amount"`
	DebtAmount       string    `json:"debt_amount"`
	LTV              string    `json:"ltv"`
}

// GetPosition reads an owner's balances and loan-to-value.
// GET /api/position?owner=0x...&collateral_asset=WETH&borrow_asset=USDC
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	owner, err := parseAddress(q.Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner query parameter required: "+err.Error())
		return
	}
	collateral, err := h.assets.Resolve(q.Get("collateral_asset"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	borrow, err := h.assets.Resolve(q.Get("borrow_asset"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	pos, ltv, err := h.planner.Snapshot(r.Context(), owner, collateral, borrow)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, positionResponse{
		Owner:            pos.Owner.Hex(),
		CollateralAsset:  toAssetJSON(pos.CollateralAsset),
		BorrowAsset:      toAssetJSON(pos.BorrowAsset),
		CollateralAmount: bigString(pos.CollateralAmount),
		DebtAmount:       bigString(pos.DebtAmount),
		LTV:              bigString(ltv),
	})
}

// ListAssets returns the configured asset registry.
// GET /api/assets
func (h *PositionHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := h.assets.List()
	out := make([]assetJSON, 0, len(assets))
	for _, a := range assets {
		out = append(out, toAssetJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}
