package campaign

import (
	"encoding/binary"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"hyperdrive/core/events"
	"hyperdrive/core/types"
)

const escrowSeedPrefix = "campaign/escrow/"

// DefaultReservedTxCost is the funding amount left behind on withdrawal to
// cover the closing transfer fee charged by the host ledger.
var DefaultReservedTxCost = big.NewInt(1_000)

type engineState interface {
	CampaignPut(*Campaign) error
	CampaignGet(id [32]byte) (*Campaign, bool)
	ContributionPut(id [32]byte, contributor [20]byte, rec *Contribution) error
	ContributionGet(id [32]byte, contributor [20]byte) (*Contribution, bool)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type campaignEvent struct {
	evt *types.Event
}

func (e campaignEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e campaignEvent) Event() *types.Event { return e.evt }

// Engine wires the crowdfunding escrow logic with external state and event
// emitters. The host ledger guarantees that each operation is applied
// atomically and sequentially per campaign; the engine's job is to enforce
// the preconditions and arithmetic, never to lock.
type Engine struct {
	state          engineState
	emitter        events.Emitter
	nowFn          func() int64
	reservedTxCost *big.Int
}

// NewEngine creates a campaign engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:        events.NoopEmitter{},
		nowFn:          func() int64 { return time.Now().Unix() },
		reservedTxCost: new(big.Int).Set(DefaultReservedTxCost),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetReservedTxCost overrides the funding amount withheld from the withdrawal
// payout to cover the ledger's closing transfer fee.
func (e *Engine) SetReservedTxCost(cost *big.Int) {
	if cost == nil || cost.Sign() < 0 {
		e.reservedTxCost = new(big.Int).Set(DefaultReservedTxCost)
		return
	}
	e.reservedTxCost = new(big.Int).Set(cost)
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(campaignEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// CampaignID derives the deterministic identifier for a campaign definition.
func CampaignID(creator [20]byte, p Params) ([32]byte, error) {
	goal, err := fixedWord(p.Goal)
	if err != nil {
		return [32]byte{}, err
	}
	rate, err := fixedWord(p.TokenRate)
	if err != nil {
		return [32]byte{}, err
	}
	buf := make([]byte, 0, 20+32+8+32+4+20+8+8)
	buf = append(buf, creator[:]...)
	buf = append(buf, goal[:]...)
	buf = binary.BigEndian.AppendUint64(buf, p.TokenID)
	buf = append(buf, rate[:]...)
	buf = binary.BigEndian.AppendUint32(buf, p.FeeBps)
	buf = append(buf, p.Admin[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.StartTime))
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.DeadlineTime))
	return ethcrypto.Keccak256Hash(buf), nil
}

// EscrowAddress derives the escrow account custodying a campaign's funds and
// token pool.
func EscrowAddress(id [32]byte) [20]byte {
	hash := ethcrypto.Keccak256([]byte(escrowSeedPrefix), id[:])
	var addr [20]byte
	copy(addr[:], hash[len(hash)-20:])
	return addr
}

func fixedWord(v *big.Int) ([32]byte, error) {
	var out [32]byte
	u, overflow := uint256.FromBig(cloneBigInt(v))
	if overflow {
		return out, overflowf("value exceeds 256 bits")
	}
	u.WriteToSlice(out[:])
	return out, nil
}

// mulDiv computes floor(a*b/denom) with 256-bit overflow detection.
func mulDiv(a, b *big.Int, denom uint64) (*big.Int, error) {
	ua, overflow := uint256.FromBig(cloneBigInt(a))
	if overflow {
		return nil, overflowf("multiplicand exceeds 256 bits")
	}
	ub, overflow := uint256.FromBig(cloneBigInt(b))
	if overflow {
		return nil, overflowf("multiplier exceeds 256 bits")
	}
	product := new(uint256.Int)
	if _, over := product.MulOverflow(ua, ub); over {
		return nil, overflowf("product exceeds 256 bits")
	}
	product.Div(product, uint256.NewInt(denom))
	return product.ToBig(), nil
}

// TokensDue computes floor(contribution * rate / RateScale).
func TokensDue(contribution, rate *big.Int) (*big.Int, error) {
	return mulDiv(contribution, rate, RateScale)
}

// FeeDue computes floor(min(raised, goal) * feeBps / 10000). Overfunding does
// not grow the fee base.
func FeeDue(raised, goal *big.Int, feeBps uint32) (*big.Int, error) {
	base := cloneBigInt(raised)
	if goal != nil && base.Cmp(goal) > 0 {
		base = cloneBigInt(goal)
	}
	return mulDiv(base, new(big.Int).SetUint64(uint64(feeBps)), MaxFeeBps)
}

func (e *Engine) loadCampaign(id [32]byte) (*Campaign, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	c, ok := e.state.CampaignGet(id)
	if !ok {
		return nil, errCampaignMissing
	}
	return c, nil
}

func (e *Engine) storeCampaign(c *Campaign) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.CampaignPut(c)
}

// transferFunds moves funding units between accounts. Zero amounts are
// accepted as no-ops so settlement paths stay uniform.
func (e *Engine) transferFunds(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return validationf("negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return preconditionf("insufficient escrow balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// transferToken moves units of the campaign token between accounts.
func (e *Engine) transferToken(from, to [20]byte, assetID uint64, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return validationf("negative token transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	fromBal := fromAcc.TokenBalance(assetID)
	if fromBal.Cmp(amt) < 0 {
		return preconditionf("insufficient token pool")
	}
	fromAcc.SetTokenBalance(assetID, new(big.Int).Sub(fromBal, amt))
	toAcc.SetTokenBalance(assetID, new(big.Int).Add(toAcc.TokenBalance(assetID), amt))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// Initialize persists a new campaign definition with zeroed counters. It is
// idempotent: re-submitting an identical definition returns the stored
// campaign, while a conflicting definition for the same identifier fails.
func (e *Engine) Initialize(creator [20]byte, params Params) (*Campaign, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	sanitized, err := SanitizeParams(params)
	if err != nil {
		return nil, err
	}
	id, err := CampaignID(creator, sanitized)
	if err != nil {
		return nil, err
	}
	if existing, ok := e.state.CampaignGet(id); ok {
		if existing.Creator != creator || existing.Params.Goal.Cmp(sanitized.Goal) != 0 ||
			existing.Params.TokenID != sanitized.TokenID || existing.Params.TokenRate.Cmp(sanitized.TokenRate) != 0 ||
			existing.Params.FeeBps != sanitized.FeeBps || existing.Params.Admin != sanitized.Admin ||
			existing.Params.StartTime != sanitized.StartTime || existing.Params.DeadlineTime != sanitized.DeadlineTime {
			return nil, validationf("identifier already exists with different definition")
		}
		return existing, nil
	}
	c := &Campaign{
		ID:            id,
		Creator:       creator,
		EscrowAccount: EscrowAddress(id),
		Params:        sanitized,
		Raised:        big.NewInt(0),
		Success:       false,
		Deposit:       big.NewInt(0),
		Settled:       false,
		CreatedAt:     e.now(),
	}
	if err := e.storeCampaign(c); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(c))
	return c.Clone(), nil
}

// RecordDeposit credits the protocol-fee reserve. The evidence must attest a
// companion transfer of exactly amount from payer to the escrow account in
// the same atomic bundle. No time or success precondition applies.
func (e *Engine) RecordDeposit(id [32]byte, payer [20]byte, amount *big.Int, evidence *TransferEvidence) error {
	c, err := e.loadCampaign(id)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return validationf("deposit amount must be positive")
	}
	if !evidence.matches(payer, c.EscrowAccount, amt) {
		return preconditionf("deposit transfer evidence missing or mismatched")
	}
	c.Deposit = new(big.Int).Add(c.Deposit, amt)
	if err := e.storeCampaign(c); err != nil {
		return err
	}
	e.emit(NewDepositRecordedEvent(c, payer, amt))
	return nil
}

// Contribute records a contribution inside the funding window. The call that
// crosses the goal flips the success latch and is itself accepted, so
// overfunding within the triggering call is intentional; any later call is
// rejected.
func (e *Engine) Contribute(id [32]byte, contributor [20]byte, amount *big.Int, evidence *TransferEvidence) error {
	c, err := e.loadCampaign(id)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return validationf("contribution amount must be positive")
	}
	now := e.now()
	if now < c.Params.StartTime || now > c.Params.DeadlineTime {
		return preconditionf("outside funding window")
	}
	if c.Success {
		return preconditionf("campaign already succeeded")
	}
	if !evidence.matches(contributor, c.EscrowAccount, amt) {
		return preconditionf("contribution transfer evidence missing or mismatched")
	}
	rec, ok := e.state.ContributionGet(id, contributor)
	if !ok {
		rec = &Contribution{Amount: big.NewInt(0), Status: ClaimUnclaimed}
	}
	if rec.Status != ClaimUnclaimed {
		return preconditionf("contributor already settled a claim")
	}
	rec.Amount = new(big.Int).Add(rec.Amount, amt)
	c.Raised = new(big.Int).Add(c.Raised, amt)
	crossed := !c.Success && c.Raised.Cmp(c.Params.Goal) >= 0
	if crossed {
		c.Success = true
	}
	if err := e.state.ContributionPut(id, contributor, rec); err != nil {
		return err
	}
	if err := e.storeCampaign(c); err != nil {
		return err
	}
	e.emit(NewContributedEvent(c, contributor, amt))
	if crossed {
		e.emit(NewSucceededEvent(c))
	}
	return nil
}

// Withdraw settles a successful campaign in favour of the creator: protocol
// fee to the admin, the remaining escrow balance minus the reserved transfer
// cost to the creator, and the deposit reserve returned in full. Repeating
// the call after settlement is an accepted no-op so rounding residue cannot
// be drained twice.
func (e *Engine) Withdraw(id [32]byte, caller [20]byte) error {
	c, err := e.loadCampaign(id)
	if err != nil {
		return err
	}
	if !c.Success {
		return preconditionf("campaign has not succeeded")
	}
	if caller != c.Creator {
		return preconditionf("unauthorized withdraw caller")
	}
	if c.Settled {
		return nil
	}
	escrowAcc, err := e.state.GetAccount(c.EscrowAccount[:])
	if err != nil {
		return err
	}
	balance := cloneBigInt(ensureAccount(escrowAcc).Balance)
	fee, err := FeeDue(c.Raised, c.Params.Goal, c.Params.FeeBps)
	if err != nil {
		return err
	}
	deposit := cloneBigInt(c.Deposit)
	// The deposit is earmarked inside the escrow balance, so the payout must
	// leave room for it plus the fee and the reserved transfer cost.
	withheld := new(big.Int).Add(fee, deposit)
	withheld.Add(withheld, e.reservedTxCost)
	if balance.Cmp(withheld) < 0 {
		return preconditionf("escrow balance %s cannot cover fee, deposit and reserved cost", balance)
	}
	payout := new(big.Int).Sub(balance, withheld)
	if err := e.transferFunds(c.EscrowAccount, c.Params.Admin, fee); err != nil {
		return err
	}
	if err := e.transferFunds(c.EscrowAccount, caller, payout); err != nil {
		return err
	}
	if deposit.Sign() > 0 {
		if err := e.transferFunds(c.EscrowAccount, caller, deposit); err != nil {
			return err
		}
	}
	c.Deposit = big.NewInt(0)
	c.Settled = true
	if err := e.storeCampaign(c); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(c, fee, payout, deposit))
	return nil
}

// ClaimTokens pays a contributor their pro-rata token allocation after
// success. The record is marked claimed and retained; a second claim fails.
func (e *Engine) ClaimTokens(id [32]byte, claimant [20]byte) (*big.Int, error) {
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if !c.Success {
		return nil, notEligiblef("campaign has not succeeded")
	}
	rec, ok := e.state.ContributionGet(id, claimant)
	if !ok {
		return nil, notEligiblef("no contribution record")
	}
	if rec.Status != ClaimUnclaimed {
		return nil, notEligiblef("contribution already claimed")
	}
	tokens, err := TokensDue(rec.Amount, c.Params.TokenRate)
	if err != nil {
		return nil, err
	}
	escrowAcc, err := e.state.GetAccount(c.EscrowAccount[:])
	if err != nil {
		return nil, err
	}
	if ensureAccount(escrowAcc).TokenBalance(c.Params.TokenID).Cmp(tokens) < 0 {
		return nil, preconditionf("insufficient token pool")
	}
	if err := e.transferToken(c.EscrowAccount, claimant, c.Params.TokenID, tokens); err != nil {
		return nil, err
	}
	rec.Status = ClaimedTokens
	if err := e.state.ContributionPut(id, claimant, rec); err != nil {
		return nil, err
	}
	e.emit(NewTokensClaimedEvent(c, claimant, tokens))
	return tokens, nil
}

// ClaimRefund returns a contribution in full after the deadline of a failed
// campaign. The record is marked refunded; a second claim fails.
func (e *Engine) ClaimRefund(id [32]byte, claimant [20]byte) (*big.Int, error) {
	c, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if e.now() <= c.Params.DeadlineTime {
		return nil, notEligiblef("deadline not reached")
	}
	if c.Success {
		return nil, notEligiblef("campaign succeeded, refunds unavailable")
	}
	rec, ok := e.state.ContributionGet(id, claimant)
	if !ok {
		return nil, notEligiblef("no contribution record")
	}
	if rec.Status != ClaimUnclaimed {
		return nil, notEligiblef("contribution already claimed")
	}
	amount := cloneBigInt(rec.Amount)
	if err := e.transferFunds(c.EscrowAccount, claimant, amount); err != nil {
		return nil, err
	}
	rec.Status = ClaimedRefund
	if err := e.state.ContributionPut(id, claimant, rec); err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(c, claimant, amount))
	return amount, nil
}

// FinalizeFailure closes out a failed campaign: the unsold token pool returns
// to the creator and the deposit splits evenly between admin and creator,
// with the odd unit going to the creator. Repeating the call after settlement
// is an accepted no-op.
func (e *Engine) FinalizeFailure(id [32]byte, caller [20]byte) error {
	c, err := e.loadCampaign(id)
	if err != nil {
		return err
	}
	if e.now() <= c.Params.DeadlineTime {
		return preconditionf("deadline not reached")
	}
	if c.Success {
		return preconditionf("campaign succeeded, nothing to finalize")
	}
	if caller != c.Creator {
		return preconditionf("unauthorized finalize caller")
	}
	if c.Settled {
		return nil
	}
	escrowAcc, err := e.state.GetAccount(c.EscrowAccount[:])
	if err != nil {
		return err
	}
	remainder := ensureAccount(escrowAcc).TokenBalance(c.Params.TokenID)
	if err := e.transferToken(c.EscrowAccount, caller, c.Params.TokenID, remainder); err != nil {
		return err
	}
	deposit := cloneBigInt(c.Deposit)
	adminShare := new(big.Int).Rsh(deposit, 1)
	creatorShare := new(big.Int).Sub(deposit, adminShare)
	if deposit.Sign() > 0 {
		if err := e.transferFunds(c.EscrowAccount, c.Params.Admin, adminShare); err != nil {
			return err
		}
		if err := e.transferFunds(c.EscrowAccount, caller, creatorShare); err != nil {
			return err
		}
	}
	c.Deposit = big.NewInt(0)
	c.Settled = true
	if err := e.storeCampaign(c); err != nil {
		return err
	}
	e.emit(NewFailureFinalizedEvent(c, remainder, adminShare, creatorShare))
	return nil
}

// Get returns a copy of the stored campaign for read-only reporting.
func (e *Engine) Get(id [32]byte) (*Campaign, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	return e.state.CampaignGet(id)
}

// GetContribution returns a copy of a contributor's record.
func (e *Engine) GetContribution(id [32]byte, contributor [20]byte) (*Contribution, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	return e.state.ContributionGet(id, contributor)
}
