package campaign

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"hyperdrive/core/types"
	"hyperdrive/crypto"
)

const (
	EventTypeInitialized      = "campaign.initialized"
	EventTypeDepositRecorded  = "campaign.deposit_recorded"
	EventTypeContributed      = "campaign.contributed"
	EventTypeSucceeded        = "campaign.succeeded"
	EventTypeWithdrawn        = "campaign.withdrawn"
	EventTypeTokensClaimed    = "campaign.tokens_claimed"
	EventTypeRefunded         = "campaign.refunded"
	EventTypeFailureFinalized = "campaign.failure_finalized"
)

// NewInitializedEvent returns the canonical event payload for a newly
// initialized campaign.
func NewInitializedEvent(c *Campaign) *types.Event {
	return newCampaignEvent(EventTypeInitialized, c, nil)
}

// NewDepositRecordedEvent is emitted when the creator tops up the protocol
// fee reserve.
func NewDepositRecordedEvent(c *Campaign, payer [20]byte, amount *big.Int) *types.Event {
	return newCampaignEvent(EventTypeDepositRecorded, c, map[string]string{
		"payer":  addressString(payer),
		"amount": amountString(amount),
	})
}

// NewContributedEvent is emitted for every accepted contribution.
func NewContributedEvent(c *Campaign, contributor [20]byte, amount *big.Int) *types.Event {
	return newCampaignEvent(EventTypeContributed, c, map[string]string{
		"contributor": addressString(contributor),
		"amount":      amountString(amount),
	})
}

// NewSucceededEvent is emitted exactly once, by the contribution that crosses
// the goal.
func NewSucceededEvent(c *Campaign) *types.Event {
	return newCampaignEvent(EventTypeSucceeded, c, nil)
}

// NewWithdrawnEvent is emitted when the creator collects the proceeds.
func NewWithdrawnEvent(c *Campaign, fee, payout, deposit *big.Int) *types.Event {
	return newCampaignEvent(EventTypeWithdrawn, c, map[string]string{
		"fee":           amountString(fee),
		"payout":        amountString(payout),
		"depositRefund": amountString(deposit),
	})
}

// NewTokensClaimedEvent is emitted when a contributor claims their pro-rata
// token allocation.
func NewTokensClaimedEvent(c *Campaign, claimant [20]byte, tokens *big.Int) *types.Event {
	return newCampaignEvent(EventTypeTokensClaimed, c, map[string]string{
		"claimant": addressString(claimant),
		"tokens":   amountString(tokens),
	})
}

// NewRefundedEvent is emitted when a contributor reclaims a failed campaign
// contribution.
func NewRefundedEvent(c *Campaign, claimant [20]byte, amount *big.Int) *types.Event {
	return newCampaignEvent(EventTypeRefunded, c, map[string]string{
		"claimant": addressString(claimant),
		"amount":   amountString(amount),
	})
}

// NewFailureFinalizedEvent is emitted when the creator recovers the unsold
// token pool and the deposit is split with the admin.
func NewFailureFinalizedEvent(c *Campaign, tokens, adminShare, creatorShare *big.Int) *types.Event {
	return newCampaignEvent(EventTypeFailureFinalized, c, map[string]string{
		"tokensReturned": amountString(tokens),
		"adminShare":     amountString(adminShare),
		"creatorShare":   amountString(creatorShare),
	})
}

func newCampaignEvent(eventType string, c *Campaign, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeCampaign(c)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["creator"] = addressString(sanitized.Creator)
	attrs["escrow"] = addressString(sanitized.EscrowAccount)
	attrs["goal"] = sanitized.Params.Goal.String()
	attrs["tokenId"] = strconv.FormatUint(sanitized.Params.TokenID, 10)
	attrs["raised"] = sanitized.Raised.String()
	attrs["success"] = strconv.FormatBool(sanitized.Success)
	attrs["deposit"] = sanitized.Deposit.String()
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func addressString(addr [20]byte) string {
	return crypto.NewAddress(crypto.HYDPrefix, addr[:]).String()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
