package ledger

import (
	"context"
	"errors"
	"math/big"

	"hyperdrive/native/campaign"
)

// ErrNotFound is returned by state reads for unknown campaigns or records.
var ErrNotFound = errors.New("ledger: not found")

// CallMethod identifies a campaign bookkeeping call inside an atomic bundle.
// The dispatch is typed so an unknown method fails before touching state.
type CallMethod uint8

const (
	CallInitialize CallMethod = iota + 1
	CallRecordDeposit
	CallContribute
	CallWithdraw
	CallClaimTokens
	CallClaimRefund
	CallFinalizeFailure
)

// Valid reports whether the method is one of the seven supported calls.
func (m CallMethod) Valid() bool {
	return m >= CallInitialize && m <= CallFinalizeFailure
}

func (m CallMethod) String() string {
	switch m {
	case CallInitialize:
		return "initialize"
	case CallRecordDeposit:
		return "record_deposit"
	case CallContribute:
		return "contribute"
	case CallWithdraw:
		return "withdraw"
	case CallClaimTokens:
		return "claim_tokens"
	case CallClaimRefund:
		return "claim_refund"
	case CallFinalizeFailure:
		return "finalize_failure"
	default:
		return "unknown"
	}
}

// OpKind distinguishes the operation variants carried in a bundle.
type OpKind uint8

const (
	// OpTransferFunds moves funding units between two accounts.
	OpTransferFunds OpKind = iota + 1
	// OpTransferToken moves campaign token units between two accounts.
	OpTransferToken
	// OpCall invokes a campaign bookkeeping method.
	OpCall
)

// Operation is one entry of an atomic bundle. Transfer variants use From, To,
// Amount and, for token transfers, TokenID. Call variants use Method, Caller,
// CampaignID, the call Amount where the method takes one, and Params for
// initialize.
type Operation struct {
	Kind OpKind

	From    [20]byte
	To      [20]byte
	TokenID uint64
	Amount  *big.Int

	Method     CallMethod
	Caller     [20]byte
	CampaignID [32]byte
	Params     *campaign.Params
}

// ConfirmationRef identifies a submitted bundle for later confirmation
// polling.
type ConfirmationRef string

// SubmitResult reports the outcome of a confirmed bundle.
type SubmitResult struct {
	Ref        ConfirmationRef
	Round      uint64
	CampaignID [32]byte
	// Amount carries the settled value for claim calls: tokens paid for
	// claim_tokens, funding units returned for claim_refund. Nil otherwise.
	Amount *big.Int
}

// Adapter abstracts the host ledger. The in-process Memory implementation
// backs tests and local tooling; Client speaks JSON-RPC to a remote node.
// Bundles are all-or-nothing: when any operation fails, no operation in the
// bundle leaves a trace.
type Adapter interface {
	// SubmitAtomic submits a bundle for atomic execution and returns a
	// reference for confirmation polling.
	SubmitAtomic(ctx context.Context, ops []Operation) (ConfirmationRef, error)
	// QueryBalance returns an account balance. TokenID zero queries the
	// funding balance.
	QueryBalance(ctx context.Context, addr [20]byte, tokenID uint64) (*big.Int, error)
	// CurrentTime returns the ledger's notion of now as a unix timestamp.
	CurrentTime(ctx context.Context) (int64, error)
	// WaitForConfirmation polls for a submitted bundle, observing at most
	// maxRounds rounds before giving up with campaign.ErrTimeout.
	WaitForConfirmation(ctx context.Context, ref ConfirmationRef, maxRounds int) (*SubmitResult, error)
	// GetCampaign reads a campaign's current state, ErrNotFound when absent.
	GetCampaign(ctx context.Context, id [32]byte) (*campaign.Campaign, error)
	// GetContribution reads a contributor's record, ErrNotFound when absent.
	GetContribution(ctx context.Context, id [32]byte, contributor [20]byte) (*campaign.Contribution, error)
}
