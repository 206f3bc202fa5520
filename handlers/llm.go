package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/zecflow/core/clients"
	"github.com/zecflow/core/zerrs"
)

// NilaiLLM implements nilai-llm: renders a prompt template by substituting
// {{alias}} tokens from memory, sends it to the LLM gateway, and returns
// the textual response plus the optional signature/verifyingKey/
// attestation side-channel fields (spec.md §4.2).
func NilaiLLM(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	template, _ := str(in.Config, "prompt")
	if template == "" {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "nilai-llm: prompt is required").WithNode(in.NodeID)
	}
	model, _ := str(in.Config, "model")

	prompt := renderTemplate(template, in.Memory)

	result, err := deps.LLM.Complete(ctx, clients.CompletionRequest{Prompt: prompt, Model: model})
	if err != nil {
		if ze, ok := zerrs.As(err); ok {
			return Output{}, ze.WithNode(in.NodeID)
		}
		return Output{}, zerrs.Wrap(zerrs.HandlerTransient, err, "nilai-llm: completion failed").WithNode(in.NodeID)
	}

	value := map[string]any{"text": result.Text}
	if result.Signature != "" {
		value["signature"] = result.Signature
	}
	if result.VerifyingKey != "" {
		value["verifyingKey"] = result.VerifyingKey
	}
	if result.Attestation != "" {
		value["attestation"] = result.Attestation
	}
	return Output{Value: value, Global: map[string]any{"attestations": result.Attestation}}, nil
}

// renderTemplate substitutes every {{alias}} token with memory[alias],
// stringified. An unresolvable token is left as-is rather than failing
// the block — a missing optional context variable should not fail an
// otherwise-valid prompt.
func renderTemplate(template string, memory map[string]any) string {
	var b strings.Builder
	i := 0
	for i < len(template) {
		start := strings.Index(template[i:], "{{")
		if start == -1 {
			b.WriteString(template[i:])
			break
		}
		start += i
		b.WriteString(template[i:start])
		end := strings.Index(template[start:], "}}")
		if end == -1 {
			b.WriteString(template[start:])
			break
		}
		end += start
		alias := strings.TrimSpace(template[start+2 : end])
		if v, ok := memory[alias]; ok {
			b.WriteString(fmt.Sprintf("%v", v))
		} else {
			b.WriteString(template[start : end+2])
		}
		i = end + 2
	}
	return b.String()
}
