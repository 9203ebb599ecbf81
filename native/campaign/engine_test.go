package campaign

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"hyperdrive/core/events"
	"hyperdrive/core/types"
)

type contributionKey struct {
	campaign    [32]byte
	contributor [20]byte
}

type mockState struct {
	campaigns     map[[32]byte]*Campaign
	contributions map[contributionKey]*Contribution
	accounts      map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		campaigns:     make(map[[32]byte]*Campaign),
		contributions: make(map[contributionKey]*Contribution),
		accounts:      make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) CampaignPut(c *Campaign) error {
	sanitized, err := SanitizeCampaign(c)
	if err != nil {
		return err
	}
	m.campaigns[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) CampaignGet(id [32]byte) (*Campaign, bool) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

func (m *mockState) ContributionPut(id [32]byte, contributor [20]byte, rec *Contribution) error {
	if rec == nil {
		return errors.New("nil contribution")
	}
	m.contributions[contributionKey{id, contributor}] = rec.Clone()
	return nil
}

func (m *mockState) ContributionGet(id [32]byte, contributor [20]byte) (*Contribution, bool) {
	rec, ok := m.contributions[contributionKey{id, contributor}]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	if acc, ok := m.accounts[key]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{Balance: big.NewInt(0)}, nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) setAccount(addr [20]byte, acc *types.Account) {
	m.accounts[addr] = acc.Clone()
}

func (m *mockState) account(addr [20]byte) *types.Account {
	if acc, ok := m.accounts[addr]; ok {
		return acc.Clone()
	}
	return &types.Account{Balance: big.NewInt(0)}
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) countType(eventType string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

const (
	testStart    = int64(1_700_000_000)
	testDeadline = int64(1_700_100_000)
)

func testParams() Params {
	return Params{
		Goal:         big.NewInt(1_000_000),
		TokenID:      7,
		TokenRate:    big.NewInt(2_000_000),
		FeeBps:       200,
		Admin:        newTestAddress(0xAD),
		StartTime:    testStart,
		DeadlineTime: testDeadline,
	}
}

func newTestEngine(state *mockState) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return testStart + 100 })
	engine.SetReservedTxCost(big.NewInt(1_000))
	return engine
}

// contribute simulates the atomic bundle: the companion payment settles
// first, then the bookkeeping call runs with matching evidence.
func contribute(t *testing.T, engine *Engine, state *mockState, c *Campaign, contributor [20]byte, amount int64) {
	t.Helper()
	amt := big.NewInt(amount)
	from := state.account(contributor)
	if from.Balance.Cmp(amt) < 0 {
		t.Fatalf("test account underfunded")
	}
	from.Balance = new(big.Int).Sub(from.Balance, amt)
	state.setAccount(contributor, from)
	escrow := state.account(c.EscrowAccount)
	escrow.Balance = new(big.Int).Add(escrow.Balance, amt)
	state.setAccount(c.EscrowAccount, escrow)
	evidence := &TransferEvidence{From: contributor, To: c.EscrowAccount, Amount: amt}
	if err := engine.Contribute(c.ID, contributor, amt, evidence); err != nil {
		t.Fatalf("contribute: %v", err)
	}
}

func recordDeposit(t *testing.T, engine *Engine, state *mockState, c *Campaign, payer [20]byte, amount int64) {
	t.Helper()
	amt := big.NewInt(amount)
	from := state.account(payer)
	from.Balance = new(big.Int).Sub(from.Balance, amt)
	state.setAccount(payer, from)
	escrow := state.account(c.EscrowAccount)
	escrow.Balance = new(big.Int).Add(escrow.Balance, amt)
	state.setAccount(c.EscrowAccount, escrow)
	evidence := &TransferEvidence{From: payer, To: c.EscrowAccount, Amount: amt}
	if err := engine.RecordDeposit(c.ID, payer, amt, evidence); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
}

func mustInitialize(t *testing.T, engine *Engine, creator [20]byte, params Params) *Campaign {
	t.Helper()
	c, err := engine.Initialize(creator, params)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c
}

func TestInitializeValidations(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	creator := newTestAddress(0x01)

	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero goal", func(p *Params) { p.Goal = big.NewInt(0) }},
		{"negative rate", func(p *Params) { p.TokenRate = big.NewInt(-1) }},
		{"fee too high", func(p *Params) { p.FeeBps = 10_001 }},
		{"deadline before start", func(p *Params) { p.DeadlineTime = p.StartTime - 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := testParams()
			tc.mutate(&params)
			if _, err := engine.Initialize(creator, params); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestInitializeSetsZeroedCounters(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	c := mustInitialize(t, engine, newTestAddress(0x02), testParams())

	if c.Raised.Sign() != 0 || c.Success || c.Deposit.Sign() != 0 || c.Settled {
		t.Fatalf("expected zeroed counters, got %+v", c)
	}
	if c.EscrowAccount != EscrowAddress(c.ID) {
		t.Fatalf("escrow account not derived from id")
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	creator := newTestAddress(0x03)

	first := mustInitialize(t, engine, creator, testParams())
	second := mustInitialize(t, engine, creator, testParams())
	if first.ID != second.ID {
		t.Fatalf("expected same campaign id on idempotent initialize")
	}

	changed := testParams()
	changed.FeeBps = 300
	third := mustInitialize(t, engine, creator, changed)
	if third.ID == first.ID {
		t.Fatalf("expected differing ids when params change")
	}
}

func TestContributeOutsideWindowRejected(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	contributor := newTestAddress(0x11)
	c := mustInitialize(t, engine, newTestAddress(0x10), testParams())
	state.setAccount(contributor, &types.Account{Balance: big.NewInt(1_000_000)})
	evidence := &TransferEvidence{From: contributor, To: c.EscrowAccount, Amount: big.NewInt(1_000)}

	engine.SetNowFunc(func() int64 { return testStart - 1 })
	if err := engine.Contribute(c.ID, contributor, big.NewInt(1_000), evidence); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition error before start, got %v", err)
	}
	engine.SetNowFunc(func() int64 { return testDeadline + 1 })
	if err := engine.Contribute(c.ID, contributor, big.NewInt(1_000), evidence); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition error after deadline, got %v", err)
	}
}

func TestContributeEvidenceMismatchRejected(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	contributor := newTestAddress(0x12)
	c := mustInitialize(t, engine, newTestAddress(0x10), testParams())

	cases := []struct {
		name     string
		evidence *TransferEvidence
	}{
		{"missing", nil},
		{"wrong sender", &TransferEvidence{From: newTestAddress(0x99), To: c.EscrowAccount, Amount: big.NewInt(1_000)}},
		{"wrong receiver", &TransferEvidence{From: contributor, To: newTestAddress(0x99), Amount: big.NewInt(1_000)}},
		{"wrong amount", &TransferEvidence{From: contributor, To: c.EscrowAccount, Amount: big.NewInt(999)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.Contribute(c.ID, contributor, big.NewInt(1_000), tc.evidence)
			if !errors.Is(err, ErrPreconditionFailed) {
				t.Fatalf("expected precondition error, got %v", err)
			}
		})
	}
	if _, ok := state.ContributionGet(c.ID, contributor); ok {
		t.Fatalf("rejected contribution must not create a record")
	}
}

func TestContributionAggregationInvariant(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	c := mustInitialize(t, engine, newTestAddress(0x10), testParams())

	contributors := [][20]byte{newTestAddress(0x21), newTestAddress(0x22), newTestAddress(0x23)}
	for _, addr := range contributors {
		state.setAccount(addr, &types.Account{Balance: big.NewInt(500_000)})
	}
	contribute(t, engine, state, c, contributors[0], 100_000)
	contribute(t, engine, state, c, contributors[1], 150_000)
	contribute(t, engine, state, c, contributors[0], 50_000)
	contribute(t, engine, state, c, contributors[2], 25_000)

	sum := big.NewInt(0)
	for _, addr := range contributors {
		if rec, ok := state.ContributionGet(c.ID, addr); ok {
			sum.Add(sum, rec.Amount)
		}
	}
	stored, _ := state.CampaignGet(c.ID)
	if stored.Raised.Cmp(sum) != 0 {
		t.Fatalf("raised %s != contribution sum %s", stored.Raised, sum)
	}
	rec, _ := state.ContributionGet(c.ID, contributors[0])
	if rec.Amount.String() != "150000" {
		t.Fatalf("expected aggregated record 150000, got %s", rec.Amount)
	}
}

func TestGoalCrossingFlipsSuccessOnce(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	c := mustInitialize(t, engine, newTestAddress(0x10), testParams())

	a := newTestAddress(0x31)
	b := newTestAddress(0x32)
	d := newTestAddress(0x33)
	for _, addr := range [][20]byte{a, b, d} {
		state.setAccount(addr, &types.Account{Balance: big.NewInt(1_000_000)})
	}
	contribute(t, engine, state, c, a, 400_000)
	contribute(t, engine, state, c, b, 400_000)
	contribute(t, engine, state, c, d, 300_000)

	stored, _ := state.CampaignGet(c.ID)
	if stored.Raised.String() != "1100000" {
		t.Fatalf("expected raised 1100000, got %s", stored.Raised)
	}
	if !stored.Success {
		t.Fatalf("expected success latch set")
	}
	if got := emitter.countType(EventTypeSucceeded); got != 1 {
		t.Fatalf("expected exactly one succeeded event, got %d", got)
	}

	// The call that crossed the goal was accepted; the next one is not.
	evidence := &TransferEvidence{From: a, To: c.EscrowAccount, Amount: big.NewInt(1)}
	if err := engine.Contribute(c.ID, a, big.NewInt(1), evidence); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected rejection after success, got %v", err)
	}

	escrow := state.account(c.EscrowAccount)
	escrow.SetTokenBalance(c.Params.TokenID, big.NewInt(10_000_000))
	state.setAccount(c.EscrowAccount, escrow)

	tokens, err := engine.ClaimTokens(c.ID, d)
	if err != nil {
		t.Fatalf("claim tokens: %v", err)
	}
	// floor(300000 * 2000000 / 1000000)
	if tokens.String() != "600000" {
		t.Fatalf("expected 600000 tokens, got %s", tokens)
	}
}

func TestRecordDepositAccumulates(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	creator := newTestAddress(0x41)
	c := mustInitialize(t, engine, creator, testParams())
	state.setAccount(creator, &types.Account{Balance: big.NewInt(100_000)})

	recordDeposit(t, engine, state, c, creator, 12_000)
	recordDeposit(t, engine, state, c, creator, 8_000)
	stored, _ := state.CampaignGet(c.ID)
	if stored.Deposit.String() != "20000" {
		t.Fatalf("expected deposit 20000, got %s", stored.Deposit)
	}

	bad := &TransferEvidence{From: creator, To: c.EscrowAccount, Amount: big.NewInt(1)}
	if err := engine.RecordDeposit(c.ID, creator, big.NewInt(2), bad); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition error on mismatched evidence, got %v", err)
	}
}

func TestWithdrawDistributesFeeAndDeposit(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	creator := newTestAddress(0x51)
	params := testParams()
	c := mustInitialize(t, engine, creator, params)

	state.setAccount(creator, &types.Account{Balance: big.NewInt(100_000)})
	recordDeposit(t, engine, state, c, creator, 20_000)

	contributor := newTestAddress(0x52)
	state.setAccount(contributor, &types.Account{Balance: big.NewInt(2_000_000)})
	contribute(t, engine, state, c, contributor, 1_100_000)

	if err := engine.Withdraw(c.ID, newTestAddress(0x99)); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected unauthorized caller rejection, got %v", err)
	}
	if err := engine.Withdraw(c.ID, creator); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	// Fee base caps at the goal: floor(1000000 * 200 / 10000) = 20000.
	admin := state.account(params.Admin)
	if admin.Balance.String() != "20000" {
		t.Fatalf("expected admin fee 20000, got %s", admin.Balance)
	}
	// Escrow held 1_100_000 + 20_000 deposit; payout leaves fee, deposit and
	// the 1_000 reserved cost behind, then the deposit returns to the caller.
	creatorAcc := state.account(creator)
	want := big.NewInt(80_000 + 1_079_000 + 20_000)
	if creatorAcc.Balance.Cmp(want) != 0 {
		t.Fatalf("expected creator balance %s, got %s", want, creatorAcc.Balance)
	}
	escrow := state.account(c.EscrowAccount)
	if escrow.Balance.String() != "1000" {
		t.Fatalf("expected reserved 1000 left in escrow, got %s", escrow.Balance)
	}
	stored, _ := state.CampaignGet(c.ID)
	if stored.Deposit.Sign() != 0 || !stored.Settled {
		t.Fatalf("expected deposit zeroed and settled latch set")
	}

	// Second call is an accepted no-op: nothing moves.
	if err := engine.Withdraw(c.ID, creator); err != nil {
		t.Fatalf("repeat withdraw: %v", err)
	}
	if got := state.account(creator).Balance; got.Cmp(want) != 0 {
		t.Fatalf("repeat withdraw moved funds: %s", got)
	}
}

func TestWithdrawNoOverdraw(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	creator := newTestAddress(0x55)
	c := mustInitialize(t, engine, creator, testParams())
	state.setAccount(creator, &types.Account{Balance: big.NewInt(100_000)})
	recordDeposit(t, engine, state, c, creator, 20_000)
	contributor := newTestAddress(0x56)
	state.setAccount(contributor, &types.Account{Balance: big.NewInt(2_000_000)})
	contribute(t, engine, state, c, contributor, 1_000_000)

	before := state.account(c.EscrowAccount).Balance
	if err := engine.Withdraw(c.ID, creator); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	out := new(big.Int).Sub(before, state.account(c.EscrowAccount).Balance)
	if out.Cmp(before) > 0 {
		t.Fatalf("withdraw overdrew escrow: moved %s of %s", out, before)
	}
}

func TestWithdrawRequiresSuccess(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	creator := newTestAddress(0x57)
	c := mustInitialize(t, engine, creator, testParams())
	if err := engine.Withdraw(c.ID, creator); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestClaimTokensLaw(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	c := mustInitialize(t, engine, newTestAddress(0x61), testParams())

	contributor := newTestAddress(0x62)
	state.setAccount(contributor, &types.Account{Balance: big.NewInt(2_000_000)})
	contribute(t, engine, state, c, contributor, 1_000_000)

	escrow := state.account(c.EscrowAccount)
	escrow.SetTokenBalance(c.Params.TokenID, big.NewInt(10_000_000))
	state.setAccount(c.EscrowAccount, escrow)

	tokens, err := engine.ClaimTokens(c.ID, contributor)
	if err != nil {
		t.Fatalf("claim tokens: %v", err)
	}
	if tokens.String() != "2000000" {
		t.Fatalf("expected 2000000 tokens at rate 2000000, got %s", tokens)
	}
	claimant := state.account(contributor)
	if claimant.TokenBalance(c.Params.TokenID).String() != "2000000" {
		t.Fatalf("tokens not credited")
	}

	if _, err := engine.ClaimTokens(c.ID, contributor); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected second claim to fail NotEligible, got %v", err)
	}
}

func TestClaimTokensRequiresSuccessAndRecord(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	c := mustInitialize(t, engine, newTestAddress(0x63), testParams())

	if _, err := engine.ClaimTokens(c.ID, newTestAddress(0x64)); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected NotEligible before success, got %v", err)
	}

	contributor := newTestAddress(0x65)
	state.setAccount(contributor, &types.Account{Balance: big.NewInt(2_000_000)})
	contribute(t, engine, state, c, contributor, 1_000_000)
	if _, err := engine.ClaimTokens(c.ID, newTestAddress(0x66)); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected NotEligible without record, got %v", err)
	}
}

func TestClaimRefundLifecycle(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	c := mustInitialize(t, engine, newTestAddress(0x71), testParams())

	contributor := newTestAddress(0x72)
	state.setAccount(contributor, &types.Account{Balance: big.NewInt(500_000)})
	contribute(t, engine, state, c, contributor, 500_000)

	if _, err := engine.ClaimRefund(c.ID, contributor); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected NotEligible before deadline, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return testDeadline + 1 })
	refund, err := engine.ClaimRefund(c.ID, contributor)
	if err != nil {
		t.Fatalf("claim refund: %v", err)
	}
	if refund.String() != "500000" {
		t.Fatalf("expected refund 500000, got %s", refund)
	}
	if got := state.account(contributor).Balance.String(); got != "500000" {
		t.Fatalf("expected restored balance 500000, got %s", got)
	}

	if _, err := engine.ClaimRefund(c.ID, contributor); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected second refund to fail NotEligible, got %v", err)
	}
}

func TestClaimRefundUnavailableAfterSuccess(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	c := mustInitialize(t, engine, newTestAddress(0x73), testParams())
	contributor := newTestAddress(0x74)
	state.setAccount(contributor, &types.Account{Balance: big.NewInt(2_000_000)})
	contribute(t, engine, state, c, contributor, 1_000_000)

	engine.SetNowFunc(func() int64 { return testDeadline + 1 })
	if _, err := engine.ClaimRefund(c.ID, contributor); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected NotEligible after success, got %v", err)
	}
}

func TestFinalizeFailureSplitsDepositAndReturnsPool(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	creator := newTestAddress(0x81)
	params := testParams()
	c := mustInitialize(t, engine, creator, params)

	state.setAccount(creator, &types.Account{Balance: big.NewInt(100_000)})
	recordDeposit(t, engine, state, c, creator, 20_000)
	escrow := state.account(c.EscrowAccount)
	escrow.SetTokenBalance(params.TokenID, big.NewInt(5_000_000))
	state.setAccount(c.EscrowAccount, escrow)

	if err := engine.FinalizeFailure(c.ID, creator); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected deadline precondition, got %v", err)
	}
	engine.SetNowFunc(func() int64 { return testDeadline + 1 })
	if err := engine.FinalizeFailure(c.ID, newTestAddress(0x99)); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected unauthorized caller rejection, got %v", err)
	}
	if err := engine.FinalizeFailure(c.ID, creator); err != nil {
		t.Fatalf("finalize failure: %v", err)
	}

	admin := state.account(params.Admin)
	if admin.Balance.String() != "10000" {
		t.Fatalf("expected admin share 10000, got %s", admin.Balance)
	}
	creatorAcc := state.account(creator)
	if creatorAcc.Balance.String() != "90000" {
		t.Fatalf("expected creator 80000+10000, got %s", creatorAcc.Balance)
	}
	if creatorAcc.TokenBalance(params.TokenID).String() != "5000000" {
		t.Fatalf("expected token pool returned")
	}
	stored, _ := state.CampaignGet(c.ID)
	if stored.Deposit.Sign() != 0 || !stored.Settled {
		t.Fatalf("expected deposit zeroed and settled latch set")
	}

	// Repeated finalize is an accepted no-op moving 0/0.
	if err := engine.FinalizeFailure(c.ID, creator); err != nil {
		t.Fatalf("repeat finalize: %v", err)
	}
	if got := state.account(params.Admin).Balance.String(); got != "10000" {
		t.Fatalf("repeat finalize moved funds: %s", got)
	}
}

func TestFinalizeFailureOddDeposit(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	creator := newTestAddress(0x83)
	c := mustInitialize(t, engine, creator, testParams())
	state.setAccount(creator, &types.Account{Balance: big.NewInt(100_000)})
	recordDeposit(t, engine, state, c, creator, 20_001)

	engine.SetNowFunc(func() int64 { return testDeadline + 1 })
	if err := engine.FinalizeFailure(c.ID, creator); err != nil {
		t.Fatalf("finalize failure: %v", err)
	}
	// floor(20001/2) = 10000 to admin, the odd unit stays with the creator.
	if got := state.account(testParams().Admin).Balance.String(); got != "10000" {
		t.Fatalf("expected admin 10000, got %s", got)
	}
}

func TestFinalizeFailureRejectedAfterSuccess(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	creator := newTestAddress(0x85)
	c := mustInitialize(t, engine, creator, testParams())
	contributor := newTestAddress(0x86)
	state.setAccount(contributor, &types.Account{Balance: big.NewInt(2_000_000)})
	contribute(t, engine, state, c, contributor, 1_000_000)

	engine.SetNowFunc(func() int64 { return testDeadline + 1 })
	if err := engine.FinalizeFailure(c.ID, creator); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected rejection after success, got %v", err)
	}
}

func TestTokensDueOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	if _, err := TokensDue(huge, huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if _, err := TokensDue(new(big.Int).Lsh(big.NewInt(1), 300), big.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow on oversized input, got %v", err)
	}
}

func TestFailedPreconditionLeavesStateUntouched(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	c := mustInitialize(t, engine, newTestAddress(0x91), testParams())
	contributor := newTestAddress(0x92)
	state.setAccount(contributor, &types.Account{Balance: big.NewInt(500_000)})
	contribute(t, engine, state, c, contributor, 100_000)

	before, _ := state.CampaignGet(c.ID)
	bad := &TransferEvidence{From: contributor, To: c.EscrowAccount, Amount: big.NewInt(5)}
	if err := engine.Contribute(c.ID, contributor, big.NewInt(50_000), bad); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	after, _ := state.CampaignGet(c.ID)
	if before.Raised.Cmp(after.Raised) != 0 || before.Success != after.Success || before.Deposit.Cmp(after.Deposit) != 0 {
		t.Fatalf("rejected call mutated aggregate state")
	}
	rec, _ := state.ContributionGet(c.ID, contributor)
	if rec.Amount.String() != "100000" {
		t.Fatalf("rejected call mutated contribution record: %s", rec.Amount)
	}
}
