package application

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

type mockSubmitter struct {
	approveHash string
	stakeHash   string
	failWith    error

	approvedToken   string
	approvedSpender string
	approvedAmount  *big.Int
	stakedRouter    string
	stakedAmount    *big.Int
}

func (m *mockSubmitter) SubmitApprove(ctx context.Context, token, spender string, amount *big.Int) (string, error) {
	if m.failWith != nil {
		return "", m.failWith
	}
	m.approvedToken = token
	m.approvedSpender = spender
	m.approvedAmount = new(big.Int).Set(amount)
	return m.approveHash, nil
}

func (m *mockSubmitter) SubmitStake(ctx context.Context, router string, amount *big.Int) (string, error) {
	if m.failWith != nil {
		return "", m.failWith
	}
	m.stakedRouter = router
	m.stakedAmount = new(big.Int).Set(amount)
	return m.stakeHash, nil
}

func loadedReader(t *testing.T, value *big.Int) *Reader {
	t.Helper()
	reader := NewReader(func(ctx context.Context) (*big.Int, error) {
		return value, nil
	})
	if err := reader.Refetch(context.Background()); err != nil {
		t.Fatalf("reader refetch: %v", err)
	}
	return reader
}

func tokens(whole int64) *big.Int {
	amount := big.NewInt(whole)
	return amount.Mul(amount, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestWorkflow(t *testing.T, submitter Submitter, balance, allowance *Reader) (*Workflow, *Store) {
	t.Helper()
	store := NewStore()
	workflow, err := NewWorkflow(WorkflowConfig{
		ChainID:       1,
		Account:       "0xuser",
		TokenAddress:  "0xtoken",
		StakingRouter: "0xrouter",
	}, store, submitter, balance, allowance)
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}
	return workflow, store
}

func TestWorkflow_NextAction(t *testing.T) {
	submitter := &mockSubmitter{}

	// Reads not yet resolved.
	workflow, _ := newTestWorkflow(t, submitter,
		NewReader(func(ctx context.Context) (*big.Int, error) { return nil, nil }),
		NewReader(func(ctx context.Context) (*big.Int, error) { return nil, nil }),
	)
	if action := workflow.NextAction(); action != ActionLoading {
		t.Errorf("expected Loading before reads resolve, got %s", action)
	}

	// Zero allowance routes through approval.
	workflow, _ = newTestWorkflow(t, submitter,
		loadedReader(t, tokens(10)), loadedReader(t, big.NewInt(0)))
	if action := workflow.NextAction(); action != ActionApprove {
		t.Errorf("expected Approve with zero allowance, got %s", action)
	}

	// Non-zero allowance enables staking.
	workflow, _ = newTestWorkflow(t, submitter,
		loadedReader(t, tokens(10)), loadedReader(t, tokens(5)))
	if action := workflow.NextAction(); action != ActionStake {
		t.Errorf("expected Stake with allowance set, got %s", action)
	}
}

func TestWorkflow_ActionLabels(t *testing.T) {
	if ActionLoading.String() != "Loading" || ActionApprove.String() != "Approve" || ActionStake.String() != "Stake" {
		t.Errorf("unexpected labels: %s, %s, %s", ActionLoading, ActionApprove, ActionStake)
	}
}

func TestWorkflow_ValidateOrder(t *testing.T) {
	submitter := &mockSubmitter{}
	workflow, _ := newTestWorkflow(t, submitter,
		loadedReader(t, tokens(10)), loadedReader(t, tokens(5)))

	var validation *ValidationError

	// Unparseable amounts fail before any comparison.
	if _, err := workflow.Validate("abc"); !errors.As(err, &validation) {
		t.Errorf("expected validation error for malformed amount, got %v", err)
	}

	// The balance rule fires before the allowance rule.
	_, err := workflow.Validate("20")
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validation.Error() != "staking amount must be less than your IMX balance" {
		t.Errorf("unexpected balance message: %q", validation.Error())
	}

	// Over-allowance but within balance.
	_, err = workflow.Validate("7")
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validation.Error() != "staking amount must be less than allowance" {
		t.Errorf("unexpected allowance message: %q", validation.Error())
	}

	// Zero is rejected last.
	_, err = workflow.Validate("0")
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validation.Error() != "staking amount must be greater than zero" {
		t.Errorf("unexpected zero message: %q", validation.Error())
	}

	if _, err := workflow.Validate("5"); err != nil {
		t.Errorf("amount at the allowance boundary must pass: %v", err)
	}
}

func TestWorkflow_ValidateZeroAllowanceSkipsAllowanceRule(t *testing.T) {
	submitter := &mockSubmitter{}
	workflow, _ := newTestWorkflow(t, submitter,
		loadedReader(t, tokens(10)), loadedReader(t, big.NewInt(0)))

	// With no allowance yet, any in-balance amount validates; it routes to
	// approval, not to an allowance failure.
	if _, err := workflow.Validate("7"); err != nil {
		t.Errorf("expected no allowance rule with zero allowance, got %v", err)
	}
}

func TestWorkflow_Preconditions(t *testing.T) {
	submitter := &mockSubmitter{approveHash: "0xhash"}
	balance := loadedReader(t, tokens(10))
	allowance := loadedReader(t, big.NewInt(0))
	store := NewStore()

	for _, tc := range []struct {
		name string
		cfg  WorkflowConfig
		sub  Submitter
	}{
		{"no chain", WorkflowConfig{Account: "0xuser"}, submitter},
		{"no account", WorkflowConfig{ChainID: 1}, submitter},
		{"no submitter", WorkflowConfig{ChainID: 1, Account: "0xuser"}, nil},
	} {
		workflow, err := NewWorkflow(tc.cfg, store, tc.sub, balance, allowance)
		if err != nil {
			t.Fatalf("%s: new workflow: %v", tc.name, err)
		}
		if _, err := workflow.Approve(context.Background(), "1"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s: expected ErrNotConnected, got %v", tc.name, err)
		}
	}
}

func TestWorkflow_ApproveRecordsAndStages(t *testing.T) {
	submitter := &mockSubmitter{approveHash: "0xapprove"}
	allowanceValue := big.NewInt(0)
	allowance := NewReader(func(ctx context.Context) (*big.Int, error) {
		return allowanceValue, nil
	})
	if err := allowance.Refetch(context.Background()); err != nil {
		t.Fatalf("allowance refetch: %v", err)
	}
	workflow, store := newTestWorkflow(t, submitter, loadedReader(t, tokens(10)), allowance)

	// The approval is mined between submit and refetch.
	allowanceValue = tokens(3)

	hash, err := workflow.Approve(context.Background(), "3")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if hash != "0xapprove" {
		t.Errorf("unexpected hash %s", hash)
	}
	if submitter.approvedToken != "0xtoken" || submitter.approvedSpender != "0xrouter" {
		t.Errorf("approve targeted %s/%s", submitter.approvedToken, submitter.approvedSpender)
	}
	if submitter.approvedAmount.Cmp(tokens(3)) != 0 {
		t.Errorf("expected exact-amount approval of 3 tokens, got %s", submitter.approvedAmount)
	}

	record, ok := store.Get(1, "0xapprove")
	if !ok {
		t.Fatal("approval transaction not recorded")
	}
	if record.Summary != "Approve of IMX (3) transfer." {
		t.Errorf("unexpected summary %q", record.Summary)
	}
	if workflow.StagedAmount() != "3" {
		t.Errorf("expected staged amount 3, got %q", workflow.StagedAmount())
	}
	if action := workflow.NextAction(); action != ActionStake {
		t.Errorf("expected Stake after allowance refetch, got %s", action)
	}
}

func TestWorkflow_StakeRecordsAndClearsStaged(t *testing.T) {
	submitter := &mockSubmitter{stakeHash: "0xstake"}
	workflow, store := newTestWorkflow(t, submitter,
		loadedReader(t, tokens(10)), loadedReader(t, tokens(5)))
	workflow.SetStagedAmount("5")

	hash, err := workflow.Stake(context.Background(), "5")
	if err != nil {
		t.Fatalf("stake failed: %v", err)
	}
	if hash != "0xstake" {
		t.Errorf("unexpected hash %s", hash)
	}
	if submitter.stakedRouter != "0xrouter" || submitter.stakedAmount.Cmp(tokens(5)) != 0 {
		t.Errorf("stake submitted %s to %s", submitter.stakedAmount, submitter.stakedRouter)
	}

	record, ok := store.Get(1, "0xstake")
	if !ok {
		t.Fatal("stake transaction not recorded")
	}
	if record.Summary != "Stake IMX (5)." {
		t.Errorf("unexpected summary %q", record.Summary)
	}
	if workflow.StagedAmount() != "" {
		t.Errorf("staged amount not cleared: %q", workflow.StagedAmount())
	}
}

func TestWorkflow_StakeRequiresApproval(t *testing.T) {
	submitter := &mockSubmitter{stakeHash: "0xstake"}
	workflow, _ := newTestWorkflow(t, submitter,
		loadedReader(t, tokens(10)), loadedReader(t, big.NewInt(0)))

	var validation *ValidationError
	if _, err := workflow.Stake(context.Background(), "1"); !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWorkflow_SubmissionFailureRecordsNothing(t *testing.T) {
	submitter := &mockSubmitter{failWith: errors.New("user rejected")}
	workflow, store := newTestWorkflow(t, submitter,
		loadedReader(t, tokens(10)), loadedReader(t, big.NewInt(0)))

	var submission *SubmissionError
	_, err := workflow.Approve(context.Background(), "1")
	if !errors.As(err, &submission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if len(store.All(1)) != 0 {
		t.Error("failed submission must not be recorded")
	}
	if workflow.StagedAmount() != "" {
		t.Error("failed submission must not stage the amount")
	}
}

func TestWorkflow_State(t *testing.T) {
	submitter := &mockSubmitter{}
	workflow, _ := newTestWorkflow(t, submitter,
		loadedReader(t, tokens(10)), loadedReader(t, tokens(5)))
	workflow.SetStagedAmount("2.5")

	state := workflow.State()
	if state.Action != "Stake" {
		t.Errorf("expected action Stake, got %s", state.Action)
	}
	if state.Balance != "10" || state.Allowance != "5" {
		t.Errorf("unexpected quantities %s / %s", state.Balance, state.Allowance)
	}
	if state.BalanceStatus != "succeeded" || state.AllowanceStatus != "succeeded" {
		t.Errorf("unexpected statuses %s / %s", state.BalanceStatus, state.AllowanceStatus)
	}
	if state.StagedAmount != "2.5" || state.TokenSymbol != "IMX" {
		t.Errorf("unexpected staged/symbol %s / %s", state.StagedAmount, state.TokenSymbol)
	}
}
