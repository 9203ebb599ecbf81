// Package assembly builds the atomic operation bundles submitted to the
// ledger. Builders are pure: the same inputs always yield the same bundle and
// the same group identifier, so callers can assemble offline, compare, and
// retry submissions safely.
package assembly

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"hyperdrive/ledger"
	"hyperdrive/native/campaign"
)

// Bundle is an ordered list of operations executed atomically, identified by
// the keccak256 hash of its canonical encoding.
type Bundle struct {
	Operations []ledger.Operation
	GroupID    [32]byte
}

func amountWord(v *big.Int) ([32]byte, error) {
	var out [32]byte
	if v == nil {
		return out, nil
	}
	if v.Sign() < 0 {
		return out, fmt.Errorf("%w: negative amount", campaign.ErrValidation)
	}
	if v.BitLen() > 256 {
		return out, fmt.Errorf("%w: amount exceeds 256 bits", campaign.ErrOverflow)
	}
	v.FillBytes(out[:])
	return out, nil
}

// encodeOperation renders one operation into its canonical byte form. Every
// field is written at a fixed width so the encoding is unambiguous.
func encodeOperation(op ledger.Operation) ([]byte, error) {
	buf := make([]byte, 0, 160)
	buf = append(buf, byte(op.Kind))
	buf = append(buf, op.From[:]...)
	buf = append(buf, op.To[:]...)
	buf = binary.BigEndian.AppendUint64(buf, op.TokenID)
	amount, err := amountWord(op.Amount)
	if err != nil {
		return nil, err
	}
	buf = append(buf, amount[:]...)
	buf = append(buf, byte(op.Method))
	buf = append(buf, op.Caller[:]...)
	buf = append(buf, op.CampaignID[:]...)
	if op.Params != nil {
		goal, err := amountWord(op.Params.Goal)
		if err != nil {
			return nil, err
		}
		rate, err := amountWord(op.Params.TokenRate)
		if err != nil {
			return nil, err
		}
		buf = append(buf, goal[:]...)
		buf = binary.BigEndian.AppendUint64(buf, op.Params.TokenID)
		buf = append(buf, rate[:]...)
		buf = binary.BigEndian.AppendUint32(buf, op.Params.FeeBps)
		buf = append(buf, op.Params.Admin[:]...)
		buf = binary.BigEndian.AppendUint64(buf, uint64(op.Params.StartTime))
		buf = binary.BigEndian.AppendUint64(buf, uint64(op.Params.DeadlineTime))
	}
	return buf, nil
}

// GroupID computes the canonical identifier of an operation sequence.
func GroupID(ops []ledger.Operation) ([32]byte, error) {
	buf := make([]byte, 0, 256)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ops)))
	for _, op := range ops {
		encoded, err := encodeOperation(op)
		if err != nil {
			return [32]byte{}, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(encoded)))
		buf = append(buf, encoded...)
	}
	return ethcrypto.Keccak256Hash(buf), nil
}

func newBundle(ops []ledger.Operation) (*Bundle, error) {
	group, err := GroupID(ops)
	if err != nil {
		return nil, err
	}
	return &Bundle{Operations: ops, GroupID: group}, nil
}

// BuildDeploy assembles the initialize bundle for a campaign definition. The
// resulting campaign identifier is known before submission.
func BuildDeploy(creator [20]byte, params campaign.Params) (*Bundle, [32]byte, error) {
	sanitized, err := campaign.SanitizeParams(params)
	if err != nil {
		return nil, [32]byte{}, err
	}
	id, err := campaign.CampaignID(creator, sanitized)
	if err != nil {
		return nil, [32]byte{}, err
	}
	bundle, err := newBundle([]ledger.Operation{{
		Kind:   ledger.OpCall,
		Method: ledger.CallInitialize,
		Caller: creator,
		Params: &sanitized,
	}})
	if err != nil {
		return nil, [32]byte{}, err
	}
	return bundle, id, nil
}

// BuildDeposit assembles the deposit payment and its bookkeeping call.
func BuildDeposit(campaignID [32]byte, payer [20]byte, amount *big.Int) (*Bundle, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", campaign.ErrValidation)
	}
	escrow := campaign.EscrowAddress(campaignID)
	return newBundle([]ledger.Operation{
		{Kind: ledger.OpTransferFunds, From: payer, To: escrow, Amount: new(big.Int).Set(amount)},
		{Kind: ledger.OpCall, Method: ledger.CallRecordDeposit, Caller: payer, CampaignID: campaignID, Amount: new(big.Int).Set(amount)},
	})
}

// BuildContribution assembles the contribution payment and its bookkeeping
// call.
func BuildContribution(campaignID [32]byte, contributor [20]byte, amount *big.Int) (*Bundle, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: contribution amount must be positive", campaign.ErrValidation)
	}
	escrow := campaign.EscrowAddress(campaignID)
	return newBundle([]ledger.Operation{
		{Kind: ledger.OpTransferFunds, From: contributor, To: escrow, Amount: new(big.Int).Set(amount)},
		{Kind: ledger.OpCall, Method: ledger.CallContribute, Caller: contributor, CampaignID: campaignID, Amount: new(big.Int).Set(amount)},
	})
}

// BuildWithdraw assembles the creator settlement call for a successful
// campaign.
func BuildWithdraw(campaignID [32]byte, caller [20]byte) (*Bundle, error) {
	return newBundle([]ledger.Operation{
		{Kind: ledger.OpCall, Method: ledger.CallWithdraw, Caller: caller, CampaignID: campaignID},
	})
}

// BuildClaimTokens assembles a contributor's token claim.
func BuildClaimTokens(campaignID [32]byte, claimant [20]byte) (*Bundle, error) {
	return newBundle([]ledger.Operation{
		{Kind: ledger.OpCall, Method: ledger.CallClaimTokens, Caller: claimant, CampaignID: campaignID},
	})
}

// BuildRefund assembles a contributor's refund claim.
func BuildRefund(campaignID [32]byte, claimant [20]byte) (*Bundle, error) {
	return newBundle([]ledger.Operation{
		{Kind: ledger.OpCall, Method: ledger.CallClaimRefund, Caller: claimant, CampaignID: campaignID},
	})
}

// BuildFinalizeFailure assembles the failed-campaign close-out call.
func BuildFinalizeFailure(campaignID [32]byte, caller [20]byte) (*Bundle, error) {
	return newBundle([]ledger.Operation{
		{Kind: ledger.OpCall, Method: ledger.CallFinalizeFailure, Caller: caller, CampaignID: campaignID},
	})
}
