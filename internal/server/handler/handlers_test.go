package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopfi/loopbot/internal/domain"
)

var (
	testOwner = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	testWETH  = domain.AssetInfo{
		Address:  common.HexToAddress("0x0000000000000000000000000000000000000101"),
		Symbol:   "WETH",
		Decimals: 18,
	}
	testUSDC = domain.AssetInfo{
		Address:  common.HexToAddress("0x0000000000000000000000000000000000000102"),
		Symbol:   "USDC",
		Decimals: 6,
	}
)

type memStore struct {
	recs map[string]domain.OperationRecord
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]domain.OperationRecord)}
}

func (m *memStore) Create(_ context.Context, rec domain.OperationRecord) error {
	m.recs[rec.ID] = rec
	return nil
}

func (m *memStore) Finish(_ context.Context, id string, status domain.OperationStatus, errMsg string) error {
	rec, ok := m.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	rec.Error = errMsg
	m.recs[id] = rec
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.OperationRecord, error) {
	rec, ok := m.recs[id]
	if !ok {
		return domain.OperationRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) ListByOwner(_ context.Context, owner common.Address, limit int) ([]domain.OperationRecord, error) {
	var out []domain.OperationRecord
	for _, rec := range m.recs {
		if rec.Owner == owner {
			out = append(out, rec)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

var _ domain.OperationStore = (*memStore)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestAssetRegistryResolve(t *testing.T) {
	reg := NewAssetRegistry([]domain.AssetInfo{testWETH, testUSDC})

	byAddr, err := reg.Resolve(testWETH.Address.Hex())
	require.NoError(t, err)
	assert.Equal(t, "WETH", byAddr.Symbol)

	bySymbol, err := reg.Resolve("usdc")
	require.NoError(t, err)
	assert.Equal(t, testUSDC.Address, bySymbol.Address)

	_, err = reg.Resolve("DAI")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = reg.Resolve("0x00000000000000000000000000000000000000ff")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("2000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000000", v.String())

	_, err = parseAmount("-5")
	assert.Error(t, err)

	_, err = parseAmount("1.5")
	assert.Error(t, err)

	_, err = parseAmount("")
	assert.Error(t, err)
}

func TestParseInstruction(t *testing.T) {
	data, err := parseInstruction("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)

	empty, err := parseInstruction("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = parseInstruction("0xzz")
	assert.Error(t, err)
}

func TestGetOperation(t *testing.T) {
	store := newMemStore()
	finished := time.Now().UTC()
	require.NoError(t, store.Create(context.Background(), domain.OperationRecord{
		ID:         "op-1",
		Owner:      testOwner,
		Action:     domain.ActionLeverage,
		LoanAsset:  testUSDC.Address,
		LoanAmount: big.NewInt(2000),
		Status:     domain.OpStatusConfirmed,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: &finished,
	}))

	h := NewOperationsHandler(store, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/operations/{id}", h.GetOperation)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/operations/op-1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `"id":"op-1"`)
	assert.Contains(t, body, `"action":"leverage"`)
	assert.Contains(t, body, `"loan_amount":"2000"`)
	assert.Contains(t, body, `"status":"confirmed"`)
}

func TestGetOperationNotFound(t *testing.T) {
	h := NewOperationsHandler(newMemStore(), discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/operations/{id}", h.GetOperation)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/operations/nope", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListOperationsRequiresOwner(t *testing.T) {
	h := NewOperationsHandler(newMemStore(), discardLogger())

	rr := httptest.NewRecorder()
	h.ListOperations(rr, httptest.NewRequest(http.MethodGet, "/api/operations", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListOperationsByOwner(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Create(context.Background(), domain.OperationRecord{
		ID:        "op-1",
		Owner:     testOwner,
		Action:    domain.ActionDeleverage,
		LoanAsset: testWETH.Address,
		Status:    domain.OpStatusPending,
		StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.Create(context.Background(), domain.OperationRecord{
		ID:        "op-2",
		Owner:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Action:    domain.ActionLeverage,
		LoanAsset: testUSDC.Address,
		Status:    domain.OpStatusPending,
		StartedAt: time.Now().UTC(),
	}))

	h := NewOperationsHandler(store, discardLogger())

	rr := httptest.NewRecorder()
	h.ListOperations(rr, httptest.NewRequest(http.MethodGet, "/api/operations?owner="+testOwner.Hex(), nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `"count":1`)
	assert.Contains(t, body, `"id":"op-1"`)
	assert.NotContains(t, body, `"id":"op-2"`)
}
