package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"hyperdrive/crypto"
	"hyperdrive/native/campaign"
)

// JSON-RPC error codes returned by the node for campaign failures. The client
// maps them back onto the campaign sentinel errors so errors.Is keeps working
// across the wire.
const (
	codeValidation   = -32001
	codePrecondition = -32002
	codeNotEligible  = -32003
	codeTimeout      = -32004
	codeOverflow     = -32005
)

// Client implements Adapter against a remote node's JSON-RPC server.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewClient constructs a JSON-RPC ledger client. The auth token is optional
// and sent as a bearer credential when set.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetHTTPClient overrides the underlying HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.http = client
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type operationPayload struct {
	Kind       string                 `json:"kind"`
	From       string                 `json:"from,omitempty"`
	To         string                 `json:"to,omitempty"`
	TokenID    uint64                 `json:"tokenId,omitempty"`
	Amount     string                 `json:"amount,omitempty"`
	Method     string                 `json:"method,omitempty"`
	Caller     string                 `json:"caller,omitempty"`
	CampaignID string                 `json:"campaignId,omitempty"`
	Params     *campaignParamsPayload `json:"params,omitempty"`
}

type campaignParamsPayload struct {
	Goal         string `json:"goal"`
	TokenID      uint64 `json:"tokenId"`
	TokenRate    string `json:"tokenRate"`
	FeeBps       uint32 `json:"feeBps"`
	Admin        string `json:"admin"`
	StartTime    int64  `json:"startTime"`
	DeadlineTime int64  `json:"deadlineTime"`
}

type submitResultPayload struct {
	Ref        string `json:"ref"`
	Round      uint64 `json:"round"`
	CampaignID string `json:"campaignId,omitempty"`
	Amount     string `json:"amount,omitempty"`
}

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.HYDPrefix, addr[:]).String()
}

func encodeAmount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func encodeOperation(op Operation) (operationPayload, error) {
	switch op.Kind {
	case OpTransferFunds:
		return operationPayload{
			Kind:   "transfer_funds",
			From:   encodeAddress(op.From),
			To:     encodeAddress(op.To),
			Amount: encodeAmount(op.Amount),
		}, nil
	case OpTransferToken:
		return operationPayload{
			Kind:    "transfer_token",
			From:    encodeAddress(op.From),
			To:      encodeAddress(op.To),
			TokenID: op.TokenID,
			Amount:  encodeAmount(op.Amount),
		}, nil
	case OpCall:
		if !op.Method.Valid() {
			return operationPayload{}, fmt.Errorf("ledger: unknown call method %d", uint8(op.Method))
		}
		payload := operationPayload{
			Kind:       "call",
			Method:     op.Method.String(),
			Caller:     encodeAddress(op.Caller),
			CampaignID: hex.EncodeToString(op.CampaignID[:]),
			Amount:     encodeAmount(op.Amount),
		}
		if op.Params != nil {
			payload.Params = &campaignParamsPayload{
				Goal:         encodeAmount(op.Params.Goal),
				TokenID:      op.Params.TokenID,
				TokenRate:    encodeAmount(op.Params.TokenRate),
				FeeBps:       op.Params.FeeBps,
				Admin:        encodeAddress(op.Params.Admin),
				StartTime:    op.Params.StartTime,
				DeadlineTime: op.Params.DeadlineTime,
			}
		}
		return payload, nil
	default:
		return operationPayload{}, fmt.Errorf("ledger: unknown operation kind %d", op.Kind)
	}
}

func decodeSubmitResult(payload submitResultPayload) (*SubmitResult, error) {
	result := &SubmitResult{Ref: ConfirmationRef(payload.Ref), Round: payload.Round}
	if payload.CampaignID != "" {
		raw, err := hex.DecodeString(payload.CampaignID)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("ledger: malformed campaign id %q", payload.CampaignID)
		}
		copy(result.CampaignID[:], raw)
	}
	if payload.Amount != "" {
		amount, ok := new(big.Int).SetString(payload.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("ledger: malformed amount %q", payload.Amount)
		}
		result.Amount = amount
	}
	return result, nil
}

// SubmitAtomic forwards the bundle to the node for atomic execution.
func (c *Client) SubmitAtomic(ctx context.Context, ops []Operation) (ConfirmationRef, error) {
	if len(ops) == 0 {
		return "", fmt.Errorf("ledger: empty bundle")
	}
	payloads := make([]operationPayload, 0, len(ops))
	for _, op := range ops {
		encoded, err := encodeOperation(op)
		if err != nil {
			return "", err
		}
		payloads = append(payloads, encoded)
	}
	var result submitResultPayload
	params := map[string]interface{}{"operations": payloads}
	if err := c.call(ctx, "campaign_submitAtomic", []interface{}{params}, &result); err != nil {
		return "", err
	}
	return ConfirmationRef(result.Ref), nil
}

// QueryBalance fetches an account balance from the node. TokenID zero asks
// for the funding balance.
func (c *Client) QueryBalance(ctx context.Context, addr [20]byte, tokenID uint64) (*big.Int, error) {
	params := map[string]interface{}{
		"address": encodeAddress(addr),
		"tokenId": tokenID,
	}
	var result struct {
		Balance string `json:"balance"`
	}
	if err := c.call(ctx, "campaign_balance", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(result.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("ledger: malformed balance %q", result.Balance)
	}
	return balance, nil
}

// CurrentTime fetches the node's current timestamp.
func (c *Client) CurrentTime(ctx context.Context) (int64, error) {
	var result struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.call(ctx, "campaign_time", []interface{}{}, &result); err != nil {
		return 0, err
	}
	return result.Timestamp, nil
}

// WaitForConfirmation polls the node once per round until the bundle is
// confirmed or the round budget runs out.
func (c *Client) WaitForConfirmation(ctx context.Context, ref ConfirmationRef, maxRounds int) (*SubmitResult, error) {
	if maxRounds <= 0 {
		maxRounds = 1
	}
	params := map[string]interface{}{"ref": string(ref)}
	for i := 0; i < maxRounds; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var payload submitResultPayload
		err := c.call(ctx, "campaign_waitConfirmation", []interface{}{params}, &payload)
		if err == nil {
			return decodeSubmitResult(payload)
		}
		if !errors.Is(err, campaign.ErrTimeout) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: bundle %s unconfirmed after %d rounds", campaign.ErrTimeout, ref, maxRounds)
}

type campaignPayload struct {
	ID        string                `json:"id"`
	Creator   string                `json:"creator"`
	Escrow    string                `json:"escrow"`
	Params    campaignParamsPayload `json:"params"`
	Raised    string                `json:"raised"`
	Success   bool                  `json:"success"`
	Deposit   string                `json:"deposit"`
	Settled   bool                  `json:"settled"`
	CreatedAt int64                 `json:"createdAt"`
}

type contributionPayload struct {
	Amount string `json:"amount"`
	Status string `json:"status"`
}

func decodeWireAddress(encoded string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		return out, fmt.Errorf("ledger: malformed address %q: %w", encoded, err)
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func decodeWireAmount(encoded string) (*big.Int, error) {
	if encoded == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(encoded, 10)
	if !ok {
		return nil, fmt.Errorf("ledger: malformed amount %q", encoded)
	}
	return amount, nil
}

func decodeCampaignPayload(payload campaignPayload) (*campaign.Campaign, error) {
	rawID, err := hex.DecodeString(payload.ID)
	if err != nil || len(rawID) != 32 {
		return nil, fmt.Errorf("ledger: malformed campaign id %q", payload.ID)
	}
	c := &campaign.Campaign{Success: payload.Success, Settled: payload.Settled, CreatedAt: payload.CreatedAt}
	copy(c.ID[:], rawID)
	if c.Creator, err = decodeWireAddress(payload.Creator); err != nil {
		return nil, err
	}
	if c.EscrowAccount, err = decodeWireAddress(payload.Escrow); err != nil {
		return nil, err
	}
	if c.Params.Admin, err = decodeWireAddress(payload.Params.Admin); err != nil {
		return nil, err
	}
	if c.Params.Goal, err = decodeWireAmount(payload.Params.Goal); err != nil {
		return nil, err
	}
	if c.Params.TokenRate, err = decodeWireAmount(payload.Params.TokenRate); err != nil {
		return nil, err
	}
	c.Params.TokenID = payload.Params.TokenID
	c.Params.FeeBps = payload.Params.FeeBps
	c.Params.StartTime = payload.Params.StartTime
	c.Params.DeadlineTime = payload.Params.DeadlineTime
	if c.Raised, err = decodeWireAmount(payload.Raised); err != nil {
		return nil, err
	}
	if c.Deposit, err = decodeWireAmount(payload.Deposit); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCampaign fetches a campaign's current state from the node.
func (c *Client) GetCampaign(ctx context.Context, id [32]byte) (*campaign.Campaign, error) {
	params := map[string]string{"id": hex.EncodeToString(id[:])}
	var payload campaignPayload
	if err := c.call(ctx, "campaign_get", []interface{}{params}, &payload); err != nil {
		if errors.Is(err, campaign.ErrValidation) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeCampaignPayload(payload)
}

// GetContribution fetches a contributor's record from the node.
func (c *Client) GetContribution(ctx context.Context, id [32]byte, contributor [20]byte) (*campaign.Contribution, error) {
	params := map[string]string{
		"id":          hex.EncodeToString(id[:]),
		"contributor": encodeAddress(contributor),
	}
	var payload contributionPayload
	if err := c.call(ctx, "campaign_getContribution", []interface{}{params}, &payload); err != nil {
		if errors.Is(err, campaign.ErrValidation) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	amount, err := decodeWireAmount(payload.Amount)
	if err != nil {
		return nil, err
	}
	rec := &campaign.Contribution{Amount: amount}
	switch payload.Status {
	case "unclaimed", "":
		rec.Status = campaign.ClaimUnclaimed
	case "tokens_claimed":
		rec.Status = campaign.ClaimedTokens
	case "refunded":
		rec.Status = campaign.ClaimedRefund
	default:
		return nil, fmt.Errorf("ledger: unknown claim status %q", payload.Status)
	}
	return rec, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("node rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcError(rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func rpcError(obj *jsonRPCErrorObj) error {
	var sentinel error
	switch obj.Code {
	case codeValidation:
		sentinel = campaign.ErrValidation
	case codePrecondition:
		sentinel = campaign.ErrPreconditionFailed
	case codeNotEligible:
		sentinel = campaign.ErrNotEligible
	case codeTimeout:
		sentinel = campaign.ErrTimeout
	case codeOverflow:
		sentinel = campaign.ErrOverflow
	default:
		return fmt.Errorf("node rpc error: code=%d %s", obj.Code, obj.Message)
	}
	return fmt.Errorf("%w: %s", sentinel, obj.Message)
}

var _ Adapter = (*Client)(nil)
