package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"hyperdrive/core/events"
	"hyperdrive/core/types"
	"hyperdrive/native/campaign"
)

// memoryState is the map-backed state store behind the in-process ledger.
// Reads and writes clone so snapshots stay isolated from live mutation.
type memoryState struct {
	campaigns     map[[32]byte]*campaign.Campaign
	contributions map[[32]byte]map[[20]byte]*campaign.Contribution
	accounts      map[[20]byte]*types.Account
}

func newMemoryState() *memoryState {
	return &memoryState{
		campaigns:     make(map[[32]byte]*campaign.Campaign),
		contributions: make(map[[32]byte]map[[20]byte]*campaign.Contribution),
		accounts:      make(map[[20]byte]*types.Account),
	}
}

func (s *memoryState) CampaignPut(c *campaign.Campaign) error {
	sanitized, err := campaign.SanitizeCampaign(c)
	if err != nil {
		return err
	}
	s.campaigns[sanitized.ID] = sanitized.Clone()
	return nil
}

func (s *memoryState) CampaignGet(id [32]byte) (*campaign.Campaign, bool) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

func (s *memoryState) ContributionPut(id [32]byte, contributor [20]byte, rec *campaign.Contribution) error {
	if rec == nil {
		return fmt.Errorf("ledger: nil contribution record")
	}
	bucket, ok := s.contributions[id]
	if !ok {
		bucket = make(map[[20]byte]*campaign.Contribution)
		s.contributions[id] = bucket
	}
	bucket[contributor] = rec.Clone()
	return nil
}

func (s *memoryState) ContributionGet(id [32]byte, contributor [20]byte) (*campaign.Contribution, bool) {
	bucket, ok := s.contributions[id]
	if !ok {
		return nil, false
	}
	rec, ok := bucket[contributor]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *memoryState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	if acc, ok := s.accounts[key]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{Balance: big.NewInt(0)}, nil
}

func (s *memoryState) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("ledger: nil account")
	}
	var key [20]byte
	copy(key[:], addr)
	s.accounts[key] = account.Clone()
	return nil
}

func (s *memoryState) snapshot() *memoryState {
	snap := newMemoryState()
	for id, c := range s.campaigns {
		snap.campaigns[id] = c.Clone()
	}
	for id, bucket := range s.contributions {
		copied := make(map[[20]byte]*campaign.Contribution, len(bucket))
		for addr, rec := range bucket {
			copied[addr] = rec.Clone()
		}
		snap.contributions[id] = copied
	}
	for addr, acc := range s.accounts {
		snap.accounts[addr] = acc.Clone()
	}
	return snap
}

func (s *memoryState) restore(snap *memoryState) {
	s.campaigns = snap.campaigns
	s.contributions = snap.contributions
	s.accounts = snap.accounts
}

// Event is a campaign event recorded by the in-process ledger, tagged with
// the round that committed it.
type Event struct {
	Sequence   int64
	Type       string
	Attributes map[string]string
	Round      uint64
}

type memoryEmitter struct {
	ledger *Memory
}

func (m memoryEmitter) Emit(evt events.Event) {
	m.ledger.appendEvent(evt)
}

// Memory is an in-process ledger. Bundles execute synchronously under a
// mutex, so each bundle is atomic and campaigns see operations sequentially.
// A failed bundle restores the pre-bundle snapshot before returning.
type Memory struct {
	mu      sync.Mutex
	engine  *campaign.Engine
	state   *memoryState
	nowFn   func() int64
	round   uint64
	seq     uint64
	results map[ConfirmationRef]*SubmitResult
	events  []Event
}

// NewMemory constructs an in-process ledger with an empty state store.
func NewMemory() *Memory {
	m := &Memory{
		state:   newMemoryState(),
		nowFn:   func() int64 { return time.Now().Unix() },
		results: make(map[ConfirmationRef]*SubmitResult),
	}
	engine := campaign.NewEngine()
	engine.SetState(m.state)
	engine.SetEmitter(memoryEmitter{ledger: m})
	engine.SetNowFunc(func() int64 { return m.now() })
	m.engine = engine
	return m
}

// SetNowFunc overrides the ledger clock, which the campaign engine shares.
func (m *Memory) SetNowFunc(now func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		m.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	m.nowFn = now
}

func (m *Memory) now() int64 {
	if m.nowFn == nil {
		return time.Now().Unix()
	}
	return m.nowFn()
}

func (m *Memory) appendEvent(evt events.Event) {
	payload := evt.Event()
	if payload == nil {
		return
	}
	attrs := make(map[string]string, len(payload.Attributes))
	for k, v := range payload.Attributes {
		attrs[k] = v
	}
	m.events = append(m.events, Event{
		Sequence:   int64(len(m.events) + 1),
		Type:       payload.Type,
		Attributes: attrs,
		Round:      m.round + 1,
	})
}

// Credit funds an account directly. Test and tooling helper standing in for
// an external on-ramp.
func (m *Memory) Credit(addr [20]byte, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return m.state.PutAccount(addr[:], acc)
}

// CreditToken mints token units onto an account, used to seed escrow pools.
func (m *Memory) CreditToken(addr [20]byte, tokenID uint64, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc.SetTokenBalance(tokenID, new(big.Int).Add(acc.TokenBalance(tokenID), amount))
	return m.state.PutAccount(addr[:], acc)
}

// GetCampaign returns the stored campaign or ErrNotFound.
func (m *Memory) GetCampaign(ctx context.Context, id [32]byte) (*campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.CampaignGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// GetContribution returns a contributor's record or ErrNotFound.
func (m *Memory) GetContribution(ctx context.Context, id [32]byte, contributor [20]byte) (*campaign.Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.state.ContributionGet(id, contributor)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// EventsSince returns recorded events with a sequence greater than afterSeq.
func (m *Memory) EventsSince(afterSeq int64, limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, evt := range m.events {
		if evt.Sequence <= afterSeq {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// SubmitAtomic executes the bundle under the ledger lock. Transfers settle in
// order before the calls they evidence; the first failure rolls the whole
// bundle back.
func (m *Memory) SubmitAtomic(ctx context.Context, ops []Operation) (ConfirmationRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(ops) == 0 {
		return "", fmt.Errorf("ledger: empty bundle")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.state.snapshot()
	eventMark := len(m.events)
	result, err := m.execute(ops)
	if err != nil {
		m.state.restore(snap)
		m.events = m.events[:eventMark]
		return "", err
	}
	m.round++
	m.seq++
	ref := ConfirmationRef(fmt.Sprintf("mem-%d", m.seq))
	result.Ref = ref
	result.Round = m.round
	m.results[ref] = result
	return ref, nil
}

func (m *Memory) execute(ops []Operation) (*SubmitResult, error) {
	result := &SubmitResult{}
	consumed := make([]bool, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case OpTransferFunds:
			if err := m.applyFundsTransfer(op); err != nil {
				return nil, fmt.Errorf("ledger: op %d: %w", i, err)
			}
		case OpTransferToken:
			if err := m.applyTokenTransfer(op); err != nil {
				return nil, fmt.Errorf("ledger: op %d: %w", i, err)
			}
		case OpCall:
			if err := m.applyCall(ops, consumed, i, op, result); err != nil {
				return nil, fmt.Errorf("ledger: op %d (%s): %w", i, op.Method, err)
			}
		default:
			return nil, fmt.Errorf("ledger: op %d: unknown operation kind %d", i, op.Kind)
		}
	}
	return result, nil
}

func (m *Memory) applyFundsTransfer(op Operation) error {
	amt := op.Amount
	if amt == nil || amt.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	from, err := m.state.GetAccount(op.From[:])
	if err != nil {
		return err
	}
	if from.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: insufficient balance", campaign.ErrPreconditionFailed)
	}
	to, err := m.state.GetAccount(op.To[:])
	if err != nil {
		return err
	}
	from.Balance = new(big.Int).Sub(from.Balance, amt)
	to.Balance = new(big.Int).Add(to.Balance, amt)
	if err := m.state.PutAccount(op.From[:], from); err != nil {
		return err
	}
	return m.state.PutAccount(op.To[:], to)
}

func (m *Memory) applyTokenTransfer(op Operation) error {
	amt := op.Amount
	if amt == nil || amt.Sign() <= 0 {
		return fmt.Errorf("token transfer amount must be positive")
	}
	from, err := m.state.GetAccount(op.From[:])
	if err != nil {
		return err
	}
	if from.TokenBalance(op.TokenID).Cmp(amt) < 0 {
		return fmt.Errorf("%w: insufficient token balance", campaign.ErrPreconditionFailed)
	}
	to, err := m.state.GetAccount(op.To[:])
	if err != nil {
		return err
	}
	from.SetTokenBalance(op.TokenID, new(big.Int).Sub(from.TokenBalance(op.TokenID), amt))
	to.SetTokenBalance(op.TokenID, new(big.Int).Add(to.TokenBalance(op.TokenID), amt))
	if err := m.state.PutAccount(op.From[:], from); err != nil {
		return err
	}
	return m.state.PutAccount(op.To[:], to)
}

// evidenceFor pairs a bookkeeping call with the earliest unconsumed funds
// transfer from the caller of the same amount. The engine verifies the
// receiver, so a transfer to the wrong account still fails the call.
func evidenceFor(ops []Operation, consumed []bool, callIdx int, caller [20]byte, amount *big.Int) *campaign.TransferEvidence {
	if amount == nil {
		return nil
	}
	for i := 0; i < callIdx; i++ {
		if consumed[i] || ops[i].Kind != OpTransferFunds {
			continue
		}
		if ops[i].From != caller || ops[i].Amount == nil || ops[i].Amount.Cmp(amount) != 0 {
			continue
		}
		consumed[i] = true
		return &campaign.TransferEvidence{From: ops[i].From, To: ops[i].To, Amount: new(big.Int).Set(ops[i].Amount)}
	}
	return nil
}

func (m *Memory) applyCall(ops []Operation, consumed []bool, idx int, op Operation, result *SubmitResult) error {
	switch op.Method {
	case CallInitialize:
		if op.Params == nil {
			return fmt.Errorf("%w: missing campaign params", campaign.ErrValidation)
		}
		c, err := m.engine.Initialize(op.Caller, *op.Params)
		if err != nil {
			return err
		}
		result.CampaignID = c.ID
		return nil
	case CallRecordDeposit:
		evidence := evidenceFor(ops, consumed, idx, op.Caller, op.Amount)
		result.CampaignID = op.CampaignID
		return m.engine.RecordDeposit(op.CampaignID, op.Caller, op.Amount, evidence)
	case CallContribute:
		evidence := evidenceFor(ops, consumed, idx, op.Caller, op.Amount)
		result.CampaignID = op.CampaignID
		return m.engine.Contribute(op.CampaignID, op.Caller, op.Amount, evidence)
	case CallWithdraw:
		result.CampaignID = op.CampaignID
		return m.engine.Withdraw(op.CampaignID, op.Caller)
	case CallClaimTokens:
		tokens, err := m.engine.ClaimTokens(op.CampaignID, op.Caller)
		if err != nil {
			return err
		}
		result.CampaignID = op.CampaignID
		result.Amount = tokens
		return nil
	case CallClaimRefund:
		refund, err := m.engine.ClaimRefund(op.CampaignID, op.Caller)
		if err != nil {
			return err
		}
		result.CampaignID = op.CampaignID
		result.Amount = refund
		return nil
	case CallFinalizeFailure:
		result.CampaignID = op.CampaignID
		return m.engine.FinalizeFailure(op.CampaignID, op.Caller)
	default:
		return fmt.Errorf("%w: unknown call method %d", campaign.ErrValidation, uint8(op.Method))
	}
}

// QueryBalance returns the funding balance when tokenID is zero, otherwise
// the balance of that token.
func (m *Memory) QueryBalance(ctx context.Context, addr [20]byte, tokenID uint64) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	if tokenID == 0 {
		return acc.Balance, nil
	}
	return acc.TokenBalance(tokenID), nil
}

// CurrentTime returns the ledger clock.
func (m *Memory) CurrentTime(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now(), nil
}

// WaitForConfirmation resolves a reference produced by SubmitAtomic. The
// in-process ledger confirms synchronously, so an unknown reference after
// maxRounds polls means the bundle never landed.
func (m *Memory) WaitForConfirmation(ctx context.Context, ref ConfirmationRef, maxRounds int) (*SubmitResult, error) {
	if maxRounds <= 0 {
		maxRounds = 1
	}
	for i := 0; i < maxRounds; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.mu.Lock()
		result, ok := m.results[ref]
		m.mu.Unlock()
		if ok {
			return result, nil
		}
	}
	return nil, fmt.Errorf("%w: bundle %s unconfirmed after %d rounds", campaign.ErrTimeout, ref, maxRounds)
}

var _ Adapter = (*Memory)(nil)
