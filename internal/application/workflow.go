package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Submitter is the write side of the chain connection. Both calls return
// the transaction hash once the network has accepted the submission.
type Submitter interface {
	SubmitApprove(ctx context.Context, token, spender string, amount *big.Int) (string, error)
	SubmitStake(ctx context.Context, router string, amount *big.Int) (string, error)
}

// ErrNotConnected marks a local precondition failure: the action was
// rejected before any network call.
var ErrNotConnected = errors.New("no live chain connection")

// ValidationError rejects a user-entered amount with a message fit for
// display.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// SubmissionError wraps a rejection by the wallet or node. No record is
// created for a failed submission; the action is retryable.
type SubmissionError struct {
	err error
}

func (e *SubmissionError) Error() string { return "submission failed: " + e.err.Error() }
func (e *SubmissionError) Unwrap() error { return e.err }

type WorkflowAction int

const (
	ActionLoading WorkflowAction = iota
	ActionApprove
	ActionStake
)

func (a WorkflowAction) String() string {
	switch a {
	case ActionApprove:
		return "Approve"
	case ActionStake:
		return "Stake"
	default:
		return "Loading"
	}
}

type WorkflowConfig struct {
	ChainID       uint64
	Account       string
	TokenAddress  string
	StakingRouter string
	TokenSymbol   string
	TokenDecimals int
}

// Workflow orchestrates the two-step approve-then-stake operation. It has
// no stored identity of its own: its state is derived on demand from the
// balance and allowance readers and the staged amount, and converges once
// the reconciliation engine finalizes the submitted transactions and the
// post-submission refetches observe the new chain state.
type Workflow struct {
	cfg       WorkflowConfig
	store     *Store
	submitter Submitter
	balance   *Reader
	allowance *Reader
	now       func() time.Time

	mu     sync.Mutex
	staged string
}

func NewWorkflow(cfg WorkflowConfig, store *Store, submitter Submitter, balance, allowance *Reader) (*Workflow, error) {
	if store == nil || balance == nil || allowance == nil {
		return nil, errors.New("workflow dependencies must not be nil")
	}
	if cfg.TokenDecimals <= 0 {
		cfg.TokenDecimals = 18
	}
	if cfg.TokenSymbol == "" {
		cfg.TokenSymbol = "IMX"
	}
	return &Workflow{
		cfg:       cfg,
		store:     store,
		submitter: submitter,
		balance:   balance,
		allowance: allowance,
		now:       time.Now,
	}, nil
}

// Refresh fetches both chain quantities. Called on boot and available to
// consumers that want a converged view sooner than the next submission.
func (w *Workflow) Refresh(ctx context.Context) error {
	if err := w.balance.Refetch(ctx); err != nil {
		return err
	}
	return w.allowance.Refetch(ctx)
}

// NextAction derives the primary action from the two reads: Loading until
// both succeed, Approve while the allowance is zero, Stake otherwise.
func (w *Workflow) NextAction() WorkflowAction {
	_, balanceStatus := w.balance.Value()
	allowance, allowanceStatus := w.allowance.Value()
	if balanceStatus != ReadSucceeded || allowanceStatus != ReadSucceeded {
		return ActionLoading
	}
	if allowance.Sign() > 0 {
		return ActionStake
	}
	return ActionApprove
}

// Validate checks a user-entered amount against the current balance and
// allowance. The allowance rule reflects the exact-amount approval design:
// a stake larger than a non-zero allowance is rejected and re-routed
// through a fresh approval instead of failing on-chain.
func (w *Workflow) Validate(amount string) (*big.Int, error) {
	balance, balanceStatus := w.balance.Value()
	allowance, allowanceStatus := w.allowance.Value()
	if balanceStatus != ReadSucceeded || allowanceStatus != ReadSucceeded {
		return nil, fmt.Errorf("%w: balance and allowance are not loaded", ErrNotConnected)
	}
	return w.validate(amount, balance, allowance)
}

func (w *Workflow) validate(amount string, balance, allowance *big.Int) (*big.Int, error) {
	parsed, err := ParseUnits(amount, w.cfg.TokenDecimals)
	if err != nil {
		return nil, &ValidationError{msg: err.Error()}
	}
	if parsed.Cmp(balance) > 0 {
		return nil, &ValidationError{msg: fmt.Sprintf("staking amount must be less than your %s balance", w.cfg.TokenSymbol)}
	}
	if allowance.Sign() > 0 && parsed.Cmp(allowance) > 0 {
		return nil, &ValidationError{msg: "staking amount must be less than allowance"}
	}
	if parsed.Sign() == 0 {
		return nil, &ValidationError{msg: "staking amount must be greater than zero"}
	}
	return parsed, nil
}

// Approve submits an allowance-setting transaction for exactly the entered
// amount, records it, and refetches the allowance so the view converges
// once the approval is mined.
func (w *Workflow) Approve(ctx context.Context, amount string) (string, error) {
	if err := w.preconditions(); err != nil {
		return "", err
	}
	parsed, err := w.Validate(amount)
	if err != nil {
		return "", err
	}

	ctx, span := w.startSpan(ctx, "workflow.approve", amount)
	defer span.End()

	hash, err := w.submitter.SubmitApprove(ctx, w.cfg.TokenAddress, w.cfg.StakingRouter, parsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &SubmissionError{err: err}
	}
	span.SetAttributes(attribute.String("tx.hash", hash))

	summary := fmt.Sprintf("Approve of %s (%s) transfer.", w.cfg.TokenSymbol, amount)
	w.record(ctx, hash, summary)
	w.setStaged(amount)

	if err := w.allowance.Refetch(ctx); err != nil {
		slog.Warn("allowance refetch failed", "err", err)
	}
	return hash, nil
}

// Stake submits the staking transaction, records it, clears the staged
// amount and refetches both balance and allowance.
func (w *Workflow) Stake(ctx context.Context, amount string) (string, error) {
	if err := w.preconditions(); err != nil {
		return "", err
	}
	parsed, err := w.Validate(amount)
	if err != nil {
		return "", err
	}
	if allowance, _ := w.allowance.Value(); allowance == nil || allowance.Sign() == 0 {
		return "", &ValidationError{msg: "approval required before staking"}
	}

	ctx, span := w.startSpan(ctx, "workflow.stake", amount)
	defer span.End()

	hash, err := w.submitter.SubmitStake(ctx, w.cfg.StakingRouter, parsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &SubmissionError{err: err}
	}
	span.SetAttributes(attribute.String("tx.hash", hash))

	summary := fmt.Sprintf("Stake %s (%s).", w.cfg.TokenSymbol, amount)
	w.record(ctx, hash, summary)
	w.setStaged("")

	if err := w.balance.Refetch(ctx); err != nil {
		slog.Warn("balance refetch failed", "err", err)
	}
	if err := w.allowance.Refetch(ctx); err != nil {
		slog.Warn("allowance refetch failed", "err", err)
	}
	return hash, nil
}

func (w *Workflow) preconditions() error {
	if w.cfg.ChainID == 0 {
		return fmt.Errorf("%w: chain id is not set", ErrNotConnected)
	}
	if w.cfg.Account == "" {
		return fmt.Errorf("%w: account is not set", ErrNotConnected)
	}
	if w.submitter == nil {
		return fmt.Errorf("%w: no submitter", ErrNotConnected)
	}
	return nil
}

func (w *Workflow) record(ctx context.Context, hash, summary string) {
	err := w.store.Add(ctx, w.cfg.ChainID, hash, summary, w.now().UnixMilli())
	if err != nil && !errors.Is(err, ErrDuplicateTransaction) {
		slog.Error("record transaction failed", "hash", hash, "err", err)
	}
}

func (w *Workflow) startSpan(ctx context.Context, name, amount string) (context.Context, trace.Span) {
	tracer := otel.Tracer("txwatch/workflow")
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.Int64("chain.id", int64(w.cfg.ChainID)),
		attribute.String("token.address", w.cfg.TokenAddress),
		attribute.String("amount", amount),
	)
	return ctx, span
}

func (w *Workflow) setStaged(amount string) {
	w.mu.Lock()
	w.staged = amount
	w.mu.Unlock()
}

// SetStagedAmount stages a user-entered amount without submitting.
func (w *Workflow) SetStagedAmount(amount string) {
	w.setStaged(amount)
}

func (w *Workflow) StagedAmount() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.staged
}

// WorkflowState is the derived view handed to consumers. Quantities are
// formatted in token units and empty until their read succeeds.
type WorkflowState struct {
	Action          string `json:"action"`
	Balance         string `json:"balance,omitempty"`
	BalanceStatus   string `json:"balance_status"`
	Allowance       string `json:"allowance,omitempty"`
	AllowanceStatus string `json:"allowance_status"`
	StagedAmount    string `json:"staged_amount,omitempty"`
	TokenSymbol     string `json:"token_symbol"`
}

func (w *Workflow) State() WorkflowState {
	balance, balanceStatus := w.balance.Value()
	allowance, allowanceStatus := w.allowance.Value()

	state := WorkflowState{
		Action:          w.NextAction().String(),
		BalanceStatus:   balanceStatus.String(),
		AllowanceStatus: allowanceStatus.String(),
		StagedAmount:    w.StagedAmount(),
		TokenSymbol:     w.cfg.TokenSymbol,
	}
	if balanceStatus == ReadSucceeded {
		state.Balance = FormatUnits(balance, w.cfg.TokenDecimals)
	}
	if allowanceStatus == ReadSucceeded {
		state.Allowance = FormatUnits(allowance, w.cfg.TokenDecimals)
	}
	return state
}
