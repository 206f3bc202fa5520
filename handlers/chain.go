package handlers

import (
	"context"
	"time"

	"github.com/zecflow/core/clients"
	"github.com/zecflow/core/zerrs"
)

const (
	operationPollInterval = 5 * time.Second
	defaultOperationTimeout = 120 * time.Second
)

// ZcashSend implements zcash-send: resolves recipient, amount, optional
// memo and privacy policy, invokes the shielded-send RPC and blocks until
// the asynchronous operation completes (spec.md §4.2, §5 "Suspension
// points"). The idempotency key is the node's idempotencyKey config value,
// passed through on the request when set; nothing derives one from
// runId+nodeId, and the reference chain RPC has no server-side dedup for
// it, which is the tracked Open Question decision in DESIGN.md.
func ZcashSend(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	toAddress, _ := str(in.Config, "toAddress")
	if toAddress == "" {
		toAddress, _ = str(in.Config, "fallbackAddress")
	}
	if toAddress == "" {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "zcash-send: toAddress or fallbackAddress is required").WithNode(in.NodeID)
	}
	amount, ok := float(in.Config, "amount")
	if !ok {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "zcash-send: amount must resolve to a number").WithNode(in.NodeID)
	}
	fromAddress, _ := str(in.Config, "fromAddress")
	memo, _ := str(in.Config, "memo")
	privacyPolicy, _ := str(in.Config, "privacyPolicy")
	idempotencyKey, _ := str(in.Config, "idempotencyKey")

	req := clients.SendRequest{
		FromAddress:    fromAddress,
		ToAddress:      toAddress,
		Amount:         amount,
		PrivacyPolicy:  privacyPolicy,
		IdempotencyKey: idempotencyKey,
	}
	if memo != "" {
		req.MemoHex = clients.EncodeMemo(memo)
	}

	opID, err := deps.Chain.ShieldedSend(ctx, req)
	if err != nil {
		if ze, ok := zerrs.As(err); ok {
			return Output{}, ze.WithNode(in.NodeID)
		}
		return Output{}, zerrs.Wrap(zerrs.HandlerTransient, err, "zcash-send: send failed").WithNode(in.NodeID)
	}

	timeout := defaultOperationTimeout
	if ms, ok := float(in.Config, "operationTimeoutMs"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		status, err := deps.Chain.OperationStatus(ctx, opID)
		if err != nil {
			if ze, ok := zerrs.As(err); ok {
				return Output{}, ze.WithNode(in.NodeID)
			}
			return Output{}, zerrs.Wrap(zerrs.HandlerTransient, err, "zcash-send: poll failed").WithNode(in.NodeID)
		}
		switch status.Status {
		case "success":
			return Output{Value: map[string]any{
				"txid":   status.TxID,
				"amount": amount,
				"memo":   memo,
			}, Global: map[string]any{"shielded": true}}, nil
		case "failed":
			return Output{}, zerrs.New(zerrs.HandlerPermanent, "zcash-send: operation %s failed: %s", opID, status.Error).WithNode(in.NodeID)
		}

		if time.Now().After(deadline) {
			return Output{}, zerrs.New(zerrs.HandlerTransient, "zcash-send: operation %s did not complete within %s", opID, timeout).WithNode(in.NodeID)
		}
		select {
		case <-ctx.Done():
			return Output{}, zerrs.Wrap(zerrs.HandlerTransient, ctx.Err(), "zcash-send: context done").WithNode(in.NodeID)
		case <-time.After(operationPollInterval):
		}
	}
}
