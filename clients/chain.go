package clients

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zecflow/core/zerrs"
)

// ZcashRPC is the default ChainRPC implementation: a JSON-RPC client
// against the shielded-send node's documented RPC shape (z_sendmany /
// z_getoperationstatus / z_listreceivedbyaddress), configured from the
// ZCASH_RPC_* environment keys in spec.md §6. The wire protocol itself is
// out of scope (spec.md §1); this is the minimal JSON-RPC envelope over
// stdlib net/http needed to exercise the ChainRPC contract.
type ZcashRPC struct {
	URL      string
	User     string
	Password string
	Client   *http.Client
}

func NewZcashRPC(url, user, password string, timeout time.Duration) *ZcashRPC {
	return &ZcashRPC{URL: url, User: user, Password: password, Client: &http.Client{Timeout: timeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (z *ZcashRPC) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "zecflow", Method: method, Params: params})
	if err != nil {
		return zerrs.New(zerrs.ConfigInvalid, "encode rpc request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.URL, bytes.NewReader(body))
	if err != nil {
		return zerrs.New(zerrs.ConfigInvalid, "build rpc request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if z.User != "" {
		req.SetBasicAuth(z.User, z.Password)
	}

	resp, err := z.Client.Do(req)
	if err != nil {
		return zerrs.Wrap(zerrs.HandlerTransient, err, "chain rpc %s failed", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return zerrs.New(zerrs.ExternalUnauthenticated, "chain rpc %s: unauthorized", method)
	}
	if resp.StatusCode >= 500 {
		return zerrs.New(zerrs.HandlerTransient, "chain rpc %s: status %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zerrs.Wrap(zerrs.HandlerTransient, err, "read chain rpc response")
	}
	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return zerrs.New(zerrs.HandlerPermanent, "decode chain rpc response: %v", err)
	}
	if rr.Error != nil {
		return zerrs.New(zerrs.HandlerPermanent, "chain rpc %s: %s", method, rr.Error.Message)
	}
	if out != nil && len(rr.Result) > 0 {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return zerrs.New(zerrs.HandlerPermanent, "decode chain rpc result: %v", err)
		}
	}
	return nil
}

func (z *ZcashRPC) ShieldedSend(ctx context.Context, req SendRequest) (string, error) {
	amounts := []map[string]any{{"address": req.ToAddress, "amount": req.Amount}}
	if req.MemoHex != "" {
		amounts[0]["memo"] = req.MemoHex
	}
	var opID string
	params := []any{req.FromAddress, amounts, 1}
	if req.PrivacyPolicy != "" {
		params = append(params, nil, req.PrivacyPolicy)
	}
	if err := z.call(ctx, "z_sendmany", params, &opID); err != nil {
		return "", err
	}
	return opID, nil
}

func (z *ZcashRPC) OperationStatus(ctx context.Context, opID string) (OperationStatus, error) {
	var results []struct {
		Status string `json:"status"`
		ID     string `json:"id"`
		Result *struct {
			TxID string `json:"txid"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := z.call(ctx, "z_getoperationstatus", []any{[]string{opID}}, &results); err != nil {
		return OperationStatus{}, err
	}
	if len(results) == 0 {
		return OperationStatus{Status: "executing"}, nil
	}
	r := results[0]
	out := OperationStatus{Status: r.Status}
	if r.Result != nil {
		out.TxID = r.Result.TxID
	}
	if r.Error != nil {
		out.Error = r.Error.Message
	}
	return out, nil
}

func (z *ZcashRPC) ReceivedTransactions(ctx context.Context, address string, minConfirmations int) ([]Transaction, error) {
	var raw []struct {
		TxID          string  `json:"txid"`
		Amount        float64 `json:"amount"`
		Memo          string  `json:"memo"`
		Confirmations int     `json:"confirmations"`
	}
	if err := z.call(ctx, "z_listreceivedbyaddress", []any{address, minConfirmations}, &raw); err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(raw))
	for _, r := range raw {
		if r.Confirmations < minConfirmations {
			continue
		}
		out = append(out, Transaction{TxID: r.TxID, Amount: r.Amount, MemoHex: r.Memo, Confirmations: r.Confirmations})
	}
	return out, nil
}

// DecodeMemo converts a hex-encoded memo field into UTF-8, trimming the
// zcash memo field's trailing zero padding.
func DecodeMemo(memoHex string) (string, error) {
	if memoHex == "" {
		return "", nil
	}
	raw, err := hex.DecodeString(memoHex)
	if err != nil {
		return "", fmt.Errorf("decode memo hex: %w", err)
	}
	i := len(raw)
	for i > 0 && raw[i-1] == 0 {
		i--
	}
	return string(raw[:i]), nil
}

// EncodeMemo is the inverse of DecodeMemo, used by the zcash-send handler
// to turn a resolved memo string into the hex field the RPC expects.
func EncodeMemo(memo string) string {
	return hex.EncodeToString([]byte(memo))
}
