package ledger

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"hyperdrive/native/campaign"
)

const (
	testStart    = int64(1_700_000_000)
	testDeadline = int64(1_700_100_000)
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func testParams() campaign.Params {
	return campaign.Params{
		Goal:         big.NewInt(1_000_000),
		TokenID:      7,
		TokenRate:    big.NewInt(2_000_000),
		FeeBps:       200,
		Admin:        newTestAddress(0xAD),
		StartTime:    testStart,
		DeadlineTime: testDeadline,
	}
}

func newTestLedger() *Memory {
	m := NewMemory()
	m.SetNowFunc(func() int64 { return testStart + 100 })
	return m
}

func deployTestCampaign(t *testing.T, m *Memory, creator [20]byte) *campaign.Campaign {
	t.Helper()
	params := testParams()
	ref, err := m.SubmitAtomic(context.Background(), []Operation{{
		Kind:   OpCall,
		Method: CallInitialize,
		Caller: creator,
		Params: &params,
	}})
	if err != nil {
		t.Fatalf("submit initialize: %v", err)
	}
	result, err := m.WaitForConfirmation(context.Background(), ref, 4)
	if err != nil {
		t.Fatalf("confirm initialize: %v", err)
	}
	c, err := m.GetCampaign(context.Background(), result.CampaignID)
	if err != nil {
		t.Fatalf("campaign not stored: %v", err)
	}
	return c
}

func TestMemorySubmitAtomicLifecycle(t *testing.T) {
	m := newTestLedger()
	creator := newTestAddress(0x01)
	contributor := newTestAddress(0x02)
	if err := m.Credit(creator, big.NewInt(100_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.Credit(contributor, big.NewInt(2_000_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	c := deployTestCampaign(t, m, creator)

	// Deposit bundle: payment plus bookkeeping call.
	deposit := big.NewInt(20_000)
	if _, err := m.SubmitAtomic(context.Background(), []Operation{
		{Kind: OpTransferFunds, From: creator, To: c.EscrowAccount, Amount: deposit},
		{Kind: OpCall, Method: CallRecordDeposit, Caller: creator, CampaignID: c.ID, Amount: deposit},
	}); err != nil {
		t.Fatalf("deposit bundle: %v", err)
	}

	// Contribution bundle crossing the goal.
	amount := big.NewInt(1_100_000)
	if _, err := m.SubmitAtomic(context.Background(), []Operation{
		{Kind: OpTransferFunds, From: contributor, To: c.EscrowAccount, Amount: amount},
		{Kind: OpCall, Method: CallContribute, Caller: contributor, CampaignID: c.ID, Amount: amount},
	}); err != nil {
		t.Fatalf("contribution bundle: %v", err)
	}
	stored, err := m.GetCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if !stored.Success {
		t.Fatalf("expected success latch after goal crossing")
	}

	// Token pool arrives, then the contributor claims.
	if err := m.CreditToken(c.EscrowAccount, c.Params.TokenID, big.NewInt(10_000_000)); err != nil {
		t.Fatalf("credit token: %v", err)
	}
	ref, err := m.SubmitAtomic(context.Background(), []Operation{
		{Kind: OpCall, Method: CallClaimTokens, Caller: contributor, CampaignID: c.ID},
	})
	if err != nil {
		t.Fatalf("claim bundle: %v", err)
	}
	result, err := m.WaitForConfirmation(context.Background(), ref, 4)
	if err != nil {
		t.Fatalf("confirm claim: %v", err)
	}
	if result.Amount == nil || result.Amount.String() != "2200000" {
		t.Fatalf("expected claim result 2200000, got %v", result.Amount)
	}

	if err := func() error {
		_, err := m.SubmitAtomic(context.Background(), []Operation{
			{Kind: OpCall, Method: CallWithdraw, Caller: creator, CampaignID: c.ID},
		})
		return err
	}(); err != nil {
		t.Fatalf("withdraw bundle: %v", err)
	}
	balance, err := m.QueryBalance(context.Background(), testParams().Admin, 0)
	if err != nil {
		t.Fatalf("query balance: %v", err)
	}
	if balance.String() != "20000" {
		t.Fatalf("expected admin fee 20000, got %s", balance)
	}
}

func TestMemoryBundleRollsBackOnFailure(t *testing.T) {
	m := newTestLedger()
	creator := newTestAddress(0x11)
	contributor := newTestAddress(0x12)
	if err := m.Credit(contributor, big.NewInt(500_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	c := deployTestCampaign(t, m, creator)

	// The transfer succeeds but the call claims a different amount, so the
	// evidence check fails and the payment must unwind with the bundle.
	_, err := m.SubmitAtomic(context.Background(), []Operation{
		{Kind: OpTransferFunds, From: contributor, To: c.EscrowAccount, Amount: big.NewInt(100_000)},
		{Kind: OpCall, Method: CallContribute, Caller: contributor, CampaignID: c.ID, Amount: big.NewInt(90_000)},
	})
	if !errors.Is(err, campaign.ErrPreconditionFailed) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	balance, _ := m.QueryBalance(context.Background(), contributor, 0)
	if balance.String() != "500000" {
		t.Fatalf("failed bundle did not roll back: balance %s", balance)
	}
	escrow, _ := m.QueryBalance(context.Background(), c.EscrowAccount, 0)
	if escrow.Sign() != 0 {
		t.Fatalf("failed bundle left funds in escrow: %s", escrow)
	}
	if events := m.EventsSince(0, 0); len(events) != 1 {
		t.Fatalf("expected only the initialize event, got %d", len(events))
	}
}

func TestMemoryInsufficientTransferFailsBundle(t *testing.T) {
	m := newTestLedger()
	creator := newTestAddress(0x21)
	c := deployTestCampaign(t, m, creator)

	_, err := m.SubmitAtomic(context.Background(), []Operation{
		{Kind: OpTransferFunds, From: newTestAddress(0x22), To: c.EscrowAccount, Amount: big.NewInt(1_000)},
		{Kind: OpCall, Method: CallContribute, Caller: newTestAddress(0x22), CampaignID: c.ID, Amount: big.NewInt(1_000)},
	})
	if !errors.Is(err, campaign.ErrPreconditionFailed) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestMemoryRefundFlow(t *testing.T) {
	m := newTestLedger()
	creator := newTestAddress(0x31)
	contributor := newTestAddress(0x32)
	if err := m.Credit(contributor, big.NewInt(500_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	c := deployTestCampaign(t, m, creator)

	amount := big.NewInt(500_000)
	if _, err := m.SubmitAtomic(context.Background(), []Operation{
		{Kind: OpTransferFunds, From: contributor, To: c.EscrowAccount, Amount: amount},
		{Kind: OpCall, Method: CallContribute, Caller: contributor, CampaignID: c.ID, Amount: amount},
	}); err != nil {
		t.Fatalf("contribution bundle: %v", err)
	}

	m.SetNowFunc(func() int64 { return testDeadline + 1 })
	ref, err := m.SubmitAtomic(context.Background(), []Operation{
		{Kind: OpCall, Method: CallClaimRefund, Caller: contributor, CampaignID: c.ID},
	})
	if err != nil {
		t.Fatalf("refund bundle: %v", err)
	}
	result, err := m.WaitForConfirmation(context.Background(), ref, 4)
	if err != nil {
		t.Fatalf("confirm refund: %v", err)
	}
	if result.Amount.String() != "500000" {
		t.Fatalf("expected refund 500000, got %s", result.Amount)
	}
	balance, _ := m.QueryBalance(context.Background(), contributor, 0)
	if balance.String() != "500000" {
		t.Fatalf("expected restored balance, got %s", balance)
	}
}

func TestMemoryWaitForConfirmationTimesOut(t *testing.T) {
	m := newTestLedger()
	_, err := m.WaitForConfirmation(context.Background(), ConfirmationRef("mem-404"), 3)
	if !errors.Is(err, campaign.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestMemoryRejectsMalformedBundles(t *testing.T) {
	m := newTestLedger()
	if _, err := m.SubmitAtomic(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty bundle")
	}
	_, err := m.SubmitAtomic(context.Background(), []Operation{{Kind: OpKind(9)}})
	if err == nil {
		t.Fatalf("expected error for unknown operation kind")
	}
	_, err = m.SubmitAtomic(context.Background(), []Operation{{Kind: OpCall, Method: CallMethod(42)}})
	if !errors.Is(err, campaign.ErrValidation) {
		t.Fatalf("expected validation error for unknown method, got %v", err)
	}
}

func TestMemoryCurrentTimeFollowsClock(t *testing.T) {
	m := newTestLedger()
	now, err := m.CurrentTime(context.Background())
	if err != nil {
		t.Fatalf("current time: %v", err)
	}
	if now != testStart+100 {
		t.Fatalf("expected %d, got %d", testStart+100, now)
	}
}
