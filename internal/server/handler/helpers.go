// Package handler implements the HTTP API handlers.
package handler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/loopfi/loopbot/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidLoanAmount),
		errors.Is(err, domain.ErrInvalidLeverage),
		errors.Is(err, domain.ErrNegativeResult),
		errors.Is(err, domain.ErrAssetMismatch),
		errors.Is(err, domain.ErrZeroAddress):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseAddress parses a hex address, rejecting malformed input.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a non-negative decimal integer string into a big.Int.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// parseInstruction decodes the optional 0x-prefixed hex conversion calldata.
func parseInstruction(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid conversion instruction: %v", err)
	}
	return data, nil
}

// parseLimit extracts a limit query parameter. Defaults to 50, capped at 500.
func parseLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}

// AssetRegistry resolves configured assets by address or symbol. Handlers
// only accept assets that were declared in the service configuration.
type AssetRegistry struct {
	byAddress map[common.Address]domain.AssetInfo
	bySymbol  map[string]domain.AssetInfo
}

// NewAssetRegistry builds a registry from the configured asset list.
func NewAssetRegistry(assets []domain.AssetInfo) *AssetRegistry {
	reg := &AssetRegistry{
		byAddress: make(map[common.Address]domain.AssetInfo, len(assets)),
		bySymbol:  make(map[string]domain.AssetInfo, len(assets)),
	}
	for _, a := range assets {
		reg.byAddress[a.Address] = a
		reg.bySymbol[strings.ToUpper(a.Symbol)] = a
	}
	return reg
}

// Resolve accepts either a hex address or a symbol and returns the
// configured asset, or ErrNotFound for anything not in the registry.
func (r *AssetRegistry) Resolve(s string) (domain.AssetInfo, error) {
	if common.IsHexAddress(s) {
		if a, ok := r.byAddress[common.HexToAddress(s)]; ok {
			return a, nil
		}
		return domain.AssetInfo{}, fmt.Errorf("asset %s not configured: %w", s, domain.ErrNotFound)
	}
	if a, ok := r.bySymbol[strings.ToUpper(s)]; ok {
		return a, nil
	}
	return domain.AssetInfo{}, fmt.Errorf("asset %q not configured: %w", s, domain.ErrNotFound)
}

// List returns all configured assets.
func (r *AssetRegistry) List() []domain.AssetInfo {
	out := make([]domain.AssetInfo, 0, len(r.byAddress))
	for _, a := range r.byAddress {
		out = append(out, a)
	}
	return out
}

// assetJSON is the wire form of an asset.
type assetJSON struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func toAssetJSON(a domain.AssetInfo) assetJSON {
	return assetJSON{Address: a.Address.Hex(), Symbol: a.Symbol, Decimals: a.Decimals}
}

// operationJSON is the wire form of a journal record.
type operationJSON struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Action     string `json:"action"`
	LoanAsset  string `json:"loan_asset"`
	LoanAmount string `json:"loan_amount"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

func toOperationJSON(rec domain.OperationRecord) operationJSON {
	out := operationJSON{
		ID:        rec.ID,
		Owner:     rec.Owner.Hex(),
		Action:    string(rec.Action),
		LoanAsset: rec.LoanAsset.Hex(),
		Status:    string(rec.Status),
		Error:     rec.Error,
		StartedAt: rec.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if rec.LoanAmount != nil {
		out.LoanAmount = rec.LoanAmount.String()
	}
	if rec.FinishedAt != nil {
		out.FinishedAt = rec.FinishedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
