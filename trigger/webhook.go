package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zecflow/core/model"
	"github.com/zecflow/core/zerrs"
)

// HandleWebhook implements webhook triggers, spec.md §4.4 "webhook": verify
// the inbound request against the trigger's configured auth scheme, then
// create a run from the request body. It is called from the unauthenticated
// POST /triggers/hooks/:triggerId HTTP route.
func HandleWebhook(ctx context.Context, d *Deps, triggerID string, headers map[string]string, rawBody []byte) *zerrs.Error {
	t, err := d.Triggers.Get(ctx, triggerID)
	if err != nil {
		return zerrs.New(zerrs.GraphMissing, "webhook trigger %s not found", triggerID)
	}
	if t.Type != model.TriggerWebhook {
		return zerrs.New(zerrs.ConfigInvalid, "trigger %s is not a webhook trigger", triggerID)
	}
	if t.Status != model.TriggerActive {
		return zerrs.New(zerrs.ConfigInvalid, "webhook trigger %s is not active", triggerID)
	}

	secretValue, zerr := d.webhookSecret(ctx, *t)
	if zerr != nil {
		return zerr
	}
	if secretValue != "" {
		if !verifyWebhookAuth(*t, secretValue, headers, rawBody) {
			return zerrs.New(zerrs.ExternalUnauthenticated, "webhook trigger %s: signature verification failed", triggerID)
		}
	}

	var payload map[string]any
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &payload); err != nil {
			payload = map[string]any{"raw": string(rawBody)}
		}
	}

	wf, err := d.lookupWorkflow(ctx, t.WorkflowID)
	if err != nil {
		return zerrs.New(zerrs.GraphMissing, "webhook trigger %s: workflow %s not published", triggerID, t.WorkflowID)
	}

	if err := createRun(ctx, d, *wf, *t, payload); err != nil {
		return zerrs.Wrap(zerrs.HandlerTransient, err, "create run from webhook %s", triggerID)
	}
	return nil
}

func (d *Deps) webhookSecret(ctx context.Context, t model.Trigger) (string, *zerrs.Error) {
	if t.ConnectorID == "" {
		return stringField(t.Config, "secret"), nil
	}
	conn, err := d.Connectors.Get(ctx, t.ConnectorID)
	if err != nil {
		return "", zerrs.Wrap(zerrs.ConfigInvalid, err, "load webhook connector %s", t.ConnectorID)
	}
	cfg, err := decryptConnector(d.SecretBox, conn)
	if err != nil {
		return "", zerrs.Wrap(zerrs.ConfigInvalid, err, "decrypt webhook connector %s", t.ConnectorID)
	}
	return stringField(cfg, "secret"), nil
}

// verifyWebhookAuth supports two schemes named in spec.md §4.4: a
// code-forge-style "sha256=<hmac-hex>" signature header, and a plain
// shared-secret header, both compared in constant time.
func verifyWebhookAuth(t model.Trigger, secretValue string, headers map[string]string, rawBody []byte) bool {
	authType := stringField(t.Config, "authType")
	switch authType {
	case "hmac-sha256-code-forge":
		sigHeader := stringField(t.Config, "signatureHeader")
		if sigHeader == "" {
			sigHeader = "X-Hub-Signature-256"
		}
		got := headerValue(headers, sigHeader)
		const prefix = "sha256="
		if len(got) <= len(prefix) || got[:len(prefix)] != prefix {
			return false
		}
		mac := hmac.New(sha256.New, []byte(secretValue))
		mac.Write(rawBody)
		want := prefix + hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(got), []byte(want))
	default:
		secretHeader := stringField(t.Config, "secretHeader")
		if secretHeader == "" {
			secretHeader = "X-Trigger-Secret"
		}
		got := headerValue(headers, secretHeader)
		return hmac.Equal([]byte(got), []byte(secretValue))
	}
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
