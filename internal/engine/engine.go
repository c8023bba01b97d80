// Package engine implements the atomic leverage/deleverage orchestration:
// it requests a flashloan from the lending ledger, executes the swap and
// ledger adjustments inside the loan fulfillment callback, settles the loan,
// and returns residual funds to the owner. Every external call is checked;
// the first failure voids the whole pass.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/loopfi/loopbot/internal/domain"
)

// EventSink receives operation lifecycle records for broadcast. Optional.
type EventSink interface {
	PublishOperation(rec domain.OperationRecord)
}

// Engine drives one orchestration pass at a time per invocation. The pass
// moves Idle -> LoanRequested -> Executing -> Settling -> Idle; any failure
// collapses it back with compensating actions.
type Engine struct {
	self   common.Address // engine custody account
	ledger domain.Ledger
	venue  domain.SwapVenue
	tokens domain.TokenClient
	ops    domain.OperationStore // nil disables the journal
	events EventSink             // nil disables event broadcast
	logger *slog.Logger

	mu       sync.Mutex
	operator common.Address
	pending  map[string]*pendingPass // capability token -> in-flight pass
}

// pendingPass couples the tagged payload with the saga accumulating undo
// actions for the current pass. Created at loan request, consumed exactly
// once in the fulfillment callback.
type pendingPass struct {
	op   *domain.PendingOperation
	saga *saga
}

// Config carries the engine's construction parameters. Operator is the only
// mutable configuration state and changes solely through SetOperator.
type Config struct {
	Self     common.Address
	Operator common.Address
}

// New constructs an Engine. Store and events may be nil.
func New(cfg Config, ledger domain.Ledger, venue domain.SwapVenue, tokens domain.TokenClient,
	ops domain.OperationStore, events EventSink, logger *slog.Logger) *Engine {
	return &Engine{
		self:     cfg.Self,
		operator: cfg.Operator,
		ledger:   ledger,
		venue:    venue,
		tokens:   tokens,
		ops:      ops,
		events:   events,
		logger:   logger.With(slog.String("component", "engine")),
		pending:  make(map[string]*pendingPass),
	}
}

// Leverage executes one atomic leverage pass: pull the owner's new
// collateral into custody, flashloan the borrow asset, swap it into
// collateral, supply everything on behalf of the owner, borrow loan+premium
// to settle, and forward any dust to the owner.
func (e *Engine) Leverage(ctx context.Context, req domain.LeverageRequest) (err error) {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("engine: leverage request: %w", err)
	}

	opID := uuid.New().String()
	rec := domain.OperationRecord{
		ID:         opID,
		Owner:      req.Owner,
		Action:     domain.ActionLeverage,
		LoanAsset:  req.BorrowAsset.Address,
		LoanAmount: req.LoanAmount,
		Status:     domain.OpStatusPending,
		StartedAt:  time.Now().UTC(),
	}
	e.journalStart(ctx, rec)
	defer func() { e.journalFinish(ctx, rec, err) }()

	sg := &saga{}

	// Pull the caller-supplied capital into custody before requesting the
	// loan; the callback supplies it together with the swapped proceeds.
	if err := e.tokens.TransferFrom(ctx, req.CollateralAsset.Address, req.Owner, e.self, req.NewCollateralAmount); err != nil {
		return fmt.Errorf("engine: pull new collateral: %w", err)
	}
	pulled := new(big.Int).Set(req.NewCollateralAmount)
	sg.add("return new collateral", func(ctx context.Context) error {
		return e.tokens.Transfer(ctx, req.CollateralAsset.Address, req.Owner, pulled)
	})

	op := &domain.PendingOperation{
		ID:       opID,
		Action:   domain.ActionLeverage,
		Owner:    req.Owner,
		Token:    uuid.New().String(),
		Leverage: &req,
	}
	if err := e.requestLoan(ctx, op, sg, req.BorrowAsset.Address, req.LoanAmount); err != nil {
		sg.unwind(ctx, e.logger)
		return err
	}
	return nil
}

// Deleverage executes one atomic deleverage pass: flashloan collateral, swap
// it into the borrow asset, repay the owner's debt, withdraw loan+premium of
// collateral against the owner's receipt tokens, and settle the loan.
func (e *Engine) Deleverage(ctx context.Context, req domain.DeleverageRequest) (err error) {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("engine: deleverage request: %w", err)
	}

	opID := uuid.New().String()
	rec := domain.OperationRecord{
		ID:         opID,
		Owner:      req.Owner,
		Action:     domain.ActionDeleverage,
		LoanAsset:  req.CollateralAsset.Address,
		LoanAmount: req.LoanAmount,
		Status:     domain.OpStatusPending,
		StartedAt:  time.Now().UTC(),
	}
	e.journalStart(ctx, rec)
	defer func() { e.journalFinish(ctx, rec, err) }()

	sg := &saga{}
	op := &domain.PendingOperation{
		ID:         opID,
		Action:     domain.ActionDeleverage,
		Owner:      req.Owner,
		Token:      uuid.New().String(),
		Deleverage: &req,
	}
	if err := e.requestLoan(ctx, op, sg, req.CollateralAsset.Address, req.LoanAmount); err != nil {
		sg.unwind(ctx, e.logger)
		return err
	}
	return nil
}

// requestLoan registers the pending pass under its capability token and asks
// the ledger for the flashloan. The ledger re-enters OnLoanFulfilled
// synchronously before FlashLoan returns.
func (e *Engine) requestLoan(ctx context.Context, op *domain.PendingOperation, sg *saga,
	asset common.Address, amount *big.Int) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("engine: encode payload: %w", err)
	}

	e.mu.Lock()
	e.pending[op.Token] = &pendingPass{op: op, saga: sg}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, op.Token)
		e.mu.Unlock()
	}()

	e.logger.Info("loan requested",
		slog.String("operation_id", op.ID),
		slog.String("action", string(op.Action)),
		slog.String("owner", op.Owner.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()),
	)

	if err := e.ledger.FlashLoan(ctx, e, []common.Address{asset}, []*big.Int{amount}, payload); err != nil {
		return fmt.Errorf("engine: flashloan: %w", err)
	}
	return nil
}

// OnLoanFulfilled is the ledger-invoked fulfillment callback, the single
// expected re-entry into the engine. It authenticates the caller (must be
// the ledger), the initiator (must be the engine itself), and the capability
// token issued at loan-request time before trusting the payload.
func (e *Engine) OnLoanFulfilled(ctx context.Context, caller common.Address,
	assets []common.Address, amounts, premiums []*big.Int,
	initiator common.Address, payload []byte) error {

	if caller != e.ledger.Address() {
		return fmt.Errorf("engine: callback caller %s is not the ledger: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	if initiator != e.self {
		return fmt.Errorf("engine: loan initiator %s is not this engine: %w", initiator.Hex(), domain.ErrUnauthorized)
	}
	if len(assets) != 1 || len(amounts) != 1 || len(premiums) != 1 {
		return fmt.Errorf("engine: expected single-asset loan, got %d: %w", len(assets), domain.ErrInvalidLoanAmount)
	}

	var op domain.PendingOperation
	if err := json.Unmarshal(payload, &op); err != nil {
		return fmt.Errorf("engine: decode payload: %v: %w", err, domain.ErrUnknownAction)
	}

	// Consume the pending pass exactly once; an unknown token means this
	// callback was not solicited by us.
	e.mu.Lock()
	pass, ok := e.pending[op.Token]
	if ok {
		delete(e.pending, op.Token)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: no pending loan for capability token: %w", domain.ErrUnauthorized)
	}

	asset, amount, premium := assets[0], amounts[0], premiums[0]

	var err error
	switch op.Action {
	case domain.ActionLeverage:
		err = e.executeLeverage(ctx, pass, asset, amount, premium)
	case domain.ActionDeleverage:
		err = e.executeDeleverage(ctx, pass, asset, amount, premium)
	default:
		err = fmt.Errorf("engine: action %q: %w", op.Action, domain.ErrUnknownAction)
	}
	if err != nil {
		pass.saga.unwind(ctx, e.logger)
		return err
	}
	return nil
}

// executeLeverage runs the Executing(Leverage) stage inside the callback,
// then moves to Settling by approving the ledger's settlement pull.
func (e *Engine) executeLeverage(ctx context.Context, pass *pendingPass,
	asset common.Address, amount, premium *big.Int) error {
	req := pass.op.Leverage
	if req == nil {
		return fmt.Errorf("engine: leverage payload missing: %w", domain.ErrUnknownAction)
	}
	if asset != req.BorrowAsset.Address {
		return fmt.Errorf("engine: loaned asset %s, expected %s: %w",
			asset.Hex(), req.BorrowAsset.Address.Hex(), domain.ErrAssetMismatch)
	}
	if amount.Cmp(req.LoanAmount) != 0 {
		return fmt.Errorf("engine: loaned %s, expected %s: %w", amount, req.LoanAmount, domain.ErrInvalidLoanAmount)
	}

	collateral := req.CollateralAsset.Address

	// Convert the loan into collateral via the opaque pre-quoted instruction.
	if asset != collateral {
		if err := e.venue.Execute(ctx, req.ConversionInstruction, asset, amount); err != nil {
			return fmt.Errorf("engine: conversion venue: %v: %w", err, domain.ErrSwapFailed)
		}
	}

	// Supply the full collateral now held (swapped proceeds plus the pulled
	// new collateral) on behalf of the owner.
	colBalance, err := e.tokens.BalanceOf(ctx, collateral, e.self)
	if err != nil {
		return fmt.Errorf("engine: read collateral balance: %w", err)
	}
	if colBalance.Sign() <= 0 {
		return fmt.Errorf("engine: no collateral to supply after swap: %w", domain.ErrSwapFailed)
	}
	if err := e.ledger.Supply(ctx, collateral, colBalance, req.Owner); err != nil {
		return fmt.Errorf("engine: supply: %w", err)
	}
	// Supply credited the owner's receipt balance, so undoing it means
	// pulling the receipts back before redeeming.
	supplied := new(big.Int).Set(colBalance)
	owner := req.Owner
	pass.saga.add("withdraw supplied collateral", func(ctx context.Context) error {
		receipt, err := e.ledger.ReceiptToken(ctx, collateral)
		if err != nil {
			return err
		}
		if err := e.tokens.TransferFrom(ctx, receipt, owner, e.self, supplied); err != nil {
			return err
		}
		return e.ledger.Withdraw(ctx, collateral, supplied, e.self)
	})

	// Borrow exactly enough to settle the loan.
	settlement := new(big.Int).Add(amount, premium)
	if err := e.ledger.Borrow(ctx, asset, settlement, req.Owner); err != nil {
		return fmt.Errorf("engine: borrow: %w", err)
	}
	pass.saga.add("repay settlement borrow", func(ctx context.Context) error {
		return e.ledger.Repay(ctx, asset, settlement, req.Owner)
	})

	if err := e.settle(ctx, pass.op, asset, collateral, settlement, req.Owner); err != nil {
		return err
	}
	return nil
}

// executeDeleverage runs the Executing(Deleverage) stage inside the
// callback, then moves to Settling.
func (e *Engine) executeDeleverage(ctx context.Context, pass *pendingPass,
	asset common.Address, amount, premium *big.Int) error {
	req := pass.op.Deleverage
	if req == nil {
		return fmt.Errorf("engine: deleverage payload missing: %w", domain.ErrUnknownAction)
	}
	if asset != req.CollateralAsset.Address {
		return fmt.Errorf("engine: loaned asset %s, expected %s: %w",
			asset.Hex(), req.CollateralAsset.Address.Hex(), domain.ErrAssetMismatch)
	}
	if amount.Cmp(req.LoanAmount) != 0 {
		return fmt.Errorf("engine: loaned %s, expected %s: %w", amount, req.LoanAmount, domain.ErrInvalidLoanAmount)
	}

	borrow := req.BorrowAsset.Address

	// Convert the loaned collateral into repayment funds.
	if asset != borrow {
		if err := e.venue.Execute(ctx, req.ConversionInstruction, asset, amount); err != nil {
			return fmt.Errorf("engine: conversion venue: %v: %w", err, domain.ErrSwapFailed)
		}
	}

	// Repay the owner's debt with the converted funds, capped at what we
	// actually hold.
	debtFunds, err := e.tokens.BalanceOf(ctx, borrow, e.self)
	if err != nil {
		return fmt.Errorf("engine: read repay balance: %w", err)
	}
	repay := new(big.Int).Set(req.RepayAmount)
	if debtFunds.Cmp(repay) < 0 {
		repay = debtFunds
	}
	if repay.Sign() <= 0 {
		return fmt.Errorf("engine: nothing to repay after swap: %w", domain.ErrSwapFailed)
	}
	if err := e.ledger.Repay(ctx, borrow, repay, req.Owner); err != nil {
		return fmt.Errorf("engine: repay: %w", err)
	}
	repaid := new(big.Int).Set(repay)
	pass.saga.add("re-borrow repaid debt", func(ctx context.Context) error {
		return e.ledger.Borrow(ctx, borrow, repaid, req.Owner)
	})

	// Pull the owner's receipt tokens for exactly loan+premium, then redeem
	// that much underlying collateral into custody to fund settlement. The
	// request's withdrawal amount is the owner's agreed collateral outlay;
	// the premium is only known here, so this is where it is enforced.
	settlement := new(big.Int).Add(amount, premium)
	if req.WithdrawAmount.Cmp(settlement) < 0 {
		return fmt.Errorf("engine: withdrawal %s below loan plus premium %s: %w",
			req.WithdrawAmount, settlement, domain.ErrInvalidAmount)
	}
	receipt, err := e.ledger.ReceiptToken(ctx, asset)
	if err != nil {
		return fmt.Errorf("engine: receipt token: %w", err)
	}
	if err := e.tokens.TransferFrom(ctx, receipt, req.Owner, e.self, settlement); err != nil {
		return fmt.Errorf("engine: pull receipt tokens: %w", err)
	}
	pulled := new(big.Int).Set(settlement)
	pass.saga.add("return receipt tokens", func(ctx context.Context) error {
		return e.tokens.Transfer(ctx, receipt, req.Owner, pulled)
	})
	if err := e.ledger.Withdraw(ctx, asset, settlement, e.self); err != nil {
		return fmt.Errorf("engine: withdraw: %w", err)
	}
	pass.saga.add("re-supply withdrawn collateral", func(ctx context.Context) error {
		return e.ledger.Supply(ctx, asset, pulled, req.Owner)
	})

	if err := e.settle(ctx, pass.op, asset, borrow, settlement, req.Owner); err != nil {
		return err
	}
	return nil
}

// settle grants the ledger spending authority over the settlement amount of
// the loaned asset, then sweeps every residual balance of both assets to the
// owner. The ledger pulls the settlement immediately after the callback
// returns.
func (e *Engine) settle(ctx context.Context, op *domain.PendingOperation,
	loanAsset, otherAsset common.Address, settlement *big.Int, owner common.Address) error {
	if err := e.tokens.Approve(ctx, loanAsset, e.ledger.Address(), settlement); err != nil {
		return fmt.Errorf("engine: approve settlement: %w", err)
	}

	// Loaned-asset dust beyond settlement need.
	loanBalance, err := e.tokens.BalanceOf(ctx, loanAsset, e.self)
	if err != nil {
		return fmt.Errorf("engine: read settlement balance: %w", err)
	}
	dust := new(big.Int).Sub(loanBalance, settlement)
	if dust.Sign() > 0 {
		if err := e.tokens.Transfer(ctx, loanAsset, owner, dust); err != nil {
			return fmt.Errorf("engine: forward loan-asset dust: %w", err)
		}
	}

	// Stray balance of the counter asset.
	if otherAsset != loanAsset {
		otherBalance, err := e.tokens.BalanceOf(ctx, otherAsset, e.self)
		if err != nil {
			return fmt.Errorf("engine: read residual balance: %w", err)
		}
		if otherBalance.Sign() > 0 {
			if err := e.tokens.Transfer(ctx, otherAsset, owner, otherBalance); err != nil {
				return fmt.Errorf("engine: forward residual balance: %w", err)
			}
		}
	}

	e.logger.Info("operation settled",
		slog.String("operation_id", op.ID),
		slog.String("action", string(op.Action)),
		slog.String("settlement", settlement.String()),
	)
	return nil
}

// RecoverAsset sweeps the engine's full balance of the given asset to the
// operator. Only the current operator may call it.
func (e *Engine) RecoverAsset(ctx context.Context, caller, asset common.Address) error {
	e.mu.Lock()
	operator := e.operator
	e.mu.Unlock()
	if caller != operator {
		return fmt.Errorf("engine: recover asset: %w", domain.ErrUnauthorized)
	}
	balance, err := e.tokens.BalanceOf(ctx, asset, e.self)
	if err != nil {
		return fmt.Errorf("engine: recover asset balance: %w", err)
	}
	if balance.Sign() == 0 {
		return nil
	}
	if err := e.tokens.Transfer(ctx, asset, operator, balance); err != nil {
		return fmt.Errorf("engine: recover asset transfer: %w", err)
	}
	e.logger.Info("asset recovered",
		slog.String("asset", asset.Hex()),
		slog.String("amount", balance.String()),
	)
	return nil
}

// SetOperator transfers the operator designation. Only the current operator
// may call it; the zero address is rejected.
func (e *Engine) SetOperator(caller, newOperator common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.operator {
		return fmt.Errorf("engine: set operator: %w", domain.ErrUnauthorized)
	}
	if newOperator == (common.Address{}) {
		return fmt.Errorf("engine: set operator: %w", domain.ErrZeroAddress)
	}
	e.operator = newOperator
	return nil
}

// Operator returns the current operator address.
func (e *Engine) Operator() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.operator
}

// Self returns the engine's custody address.
func (e *Engine) Self() common.Address {
	return e.self
}

func (e *Engine) journalStart(ctx context.Context, rec domain.OperationRecord) {
	if e.ops != nil {
		if err := e.ops.Create(ctx, rec); err != nil {
			e.logger.Warn("journal create failed", slog.String("error", err.Error()))
		}
	}
	if e.events != nil {
		e.events.PublishOperation(rec)
	}
}

func (e *Engine) journalFinish(ctx context.Context, rec domain.OperationRecord, opErr error) {
	status := domain.OpStatusConfirmed
	errMsg := ""
	if opErr != nil {
		status = domain.OpStatusFailed
		errMsg = opErr.Error()
	}
	if e.ops != nil {
		if err := e.ops.Finish(ctx, rec.ID, status, errMsg); err != nil {
			e.logger.Warn("journal finish failed", slog.String("error", err.Error()))
		}
	}
	if e.events != nil {
		now := time.Now().UTC()
		rec.Status = status
		rec.Error = errMsg
		rec.FinishedAt = &now
		e.events.PublishOperation(rec)
	}
}

var _ domain.FlashLoanReceiver = (*Engine)(nil)
