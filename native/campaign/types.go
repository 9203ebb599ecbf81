package campaign

import (
	"math/big"
)

// RateScale is the fixed-point denominator for the token rate: a rate of
// 2_000_000 pays two whole tokens per funding unit.
const RateScale = 1_000_000

// MaxFeeBps is the largest accepted protocol fee (100%).
const MaxFeeBps = 10_000

// ClaimStatus tracks whether a contribution record has already settled.
type ClaimStatus uint8

const (
	// ClaimUnclaimed marks a live contribution that may still claim tokens or
	// a refund.
	ClaimUnclaimed ClaimStatus = iota
	// ClaimedTokens marks a record settled by a successful token claim.
	ClaimedTokens
	// ClaimedRefund marks a record settled by a refund.
	ClaimedRefund
)

// Valid reports whether the status value is within the supported range.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimUnclaimed, ClaimedTokens, ClaimedRefund:
		return true
	default:
		return false
	}
}

func (s ClaimStatus) String() string {
	switch s {
	case ClaimUnclaimed:
		return "unclaimed"
	case ClaimedTokens:
		return "tokens_claimed"
	case ClaimedRefund:
		return "refunded"
	default:
		return "unknown"
	}
}

// Params is the immutable campaign configuration fixed at initialization.
// Exactly these seven fields are supplied by the creator and never change.
type Params struct {
	Goal         *big.Int
	TokenID      uint64
	TokenRate    *big.Int
	FeeBps       uint32
	Admin        [20]byte
	StartTime    int64
	DeadlineTime int64
}

// Clone returns a deep copy of the params.
func (p Params) Clone() Params {
	clone := p
	if p.Goal != nil {
		clone.Goal = new(big.Int).Set(p.Goal)
	} else {
		clone.Goal = big.NewInt(0)
	}
	if p.TokenRate != nil {
		clone.TokenRate = new(big.Int).Set(p.TokenRate)
	} else {
		clone.TokenRate = big.NewInt(0)
	}
	return clone
}

// Campaign combines the immutable configuration with the campaign-wide
// mutable counters. The identifier is the keccak256 hash of the creator and
// the canonical parameter encoding, so re-submitting the same definition is
// idempotent.
type Campaign struct {
	ID            [32]byte
	Creator       [20]byte
	EscrowAccount [20]byte
	Params        Params
	Raised        *big.Int
	Success       bool
	Deposit       *big.Int
	Settled       bool
	CreatedAt     int64
}

// Clone returns a deep copy of the campaign so callers can safely mutate the
// copy without affecting the stored instance.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Params = c.Params.Clone()
	if c.Raised != nil {
		clone.Raised = new(big.Int).Set(c.Raised)
	} else {
		clone.Raised = big.NewInt(0)
	}
	if c.Deposit != nil {
		clone.Deposit = new(big.Int).Set(c.Deposit)
	} else {
		clone.Deposit = big.NewInt(0)
	}
	return &clone
}

// Contribution is the per-contributor running total. Settled records are kept
// for audit with their status flipped rather than deleted, so a second claim
// attempt can be rejected instead of silently re-created.
type Contribution struct {
	Amount *big.Int
	Status ClaimStatus
}

// Clone returns a deep copy of the contribution record.
func (r *Contribution) Clone() *Contribution {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeParams validates the supplied configuration and returns a cloned
// instance with non-nil amount fields.
func SanitizeParams(p Params) (Params, error) {
	clone := p.Clone()
	if clone.Goal.Sign() <= 0 {
		return Params{}, validationf("goal must be positive")
	}
	if clone.TokenRate.Sign() < 0 {
		return Params{}, validationf("token rate must be non-negative")
	}
	if clone.FeeBps > MaxFeeBps {
		return Params{}, validationf("fee bps out of range: %d", clone.FeeBps)
	}
	if clone.DeadlineTime <= clone.StartTime {
		return Params{}, validationf("deadline %d not after start %d", clone.DeadlineTime, clone.StartTime)
	}
	return clone, nil
}

// SanitizeCampaign validates and normalises the supplied campaign, returning
// a cloned instance with non-nil counters. The original value is not mutated.
func SanitizeCampaign(c *Campaign) (*Campaign, error) {
	if c == nil {
		return nil, validationf("nil campaign")
	}
	clone := c.Clone()
	params, err := SanitizeParams(clone.Params)
	if err != nil {
		return nil, err
	}
	clone.Params = params
	if clone.Raised.Sign() < 0 {
		return nil, validationf("raised total must be non-negative")
	}
	if clone.Deposit.Sign() < 0 {
		return nil, validationf("deposit total must be non-negative")
	}
	return clone, nil
}

// TransferEvidence attests that a companion transfer was submitted in the
// same atomic bundle as the bookkeeping call it accompanies. The atomicity
// guarantee comes from the host ledger; the engine only checks that the
// evidenced sender, receiver and amount match what the call claims.
type TransferEvidence struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (ev *TransferEvidence) matches(from, to [20]byte, amount *big.Int) bool {
	if ev == nil || ev.Amount == nil || amount == nil {
		return false
	}
	return ev.From == from && ev.To == to && ev.Amount.Cmp(amount) == 0
}
