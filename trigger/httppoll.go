package trigger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zecflow/core/clients"
	"github.com/zecflow/core/model"
	"github.com/zecflow/core/pathutil"
)

const (
	httpPollDefaultInterval = 30 * time.Second
	httpPollMinInterval     = 10 * time.Second
	httpPollDefaultMaxBatch = 50
	httpPollMaxBatchCap     = 200
)

// HTTPPollSupervisor implements http-poll, spec.md §4.4: poll an arbitrary
// HTTP endpoint, extract a list of records, gate each record through
// configured filters, and fire a run for every record that is new or whose
// watched fields changed since the last poll.
type HTTPPollSupervisor struct {
	deps *Deps

	mu    sync.Mutex
	state map[string]map[string]string // triggerId -> recordId -> lastHash
}

func NewHTTPPollSupervisor(d *Deps) *HTTPPollSupervisor {
	return &HTTPPollSupervisor{deps: d, state: map[string]map[string]string{}}
}

func (s *HTTPPollSupervisor) Start(ctx context.Context) {
	ticker := time.NewTicker(httpPollDefaultInterval)
	defer ticker.Stop()
	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *HTTPPollSupervisor) pollOnce(ctx context.Context) {
	triggers, err := s.deps.Triggers.ListActiveByType(ctx, model.TriggerHTTPPoll)
	if err != nil {
		s.deps.logger().Error("list http-poll triggers failed", "err", err)
		return
	}
	wfs, err := s.deps.Workflows.ListPublished(ctx)
	if err != nil {
		s.deps.logger().Error("list published workflows failed", "err", err)
		return
	}
	byID := make(map[string]model.Workflow, len(wfs))
	for _, wf := range wfs {
		byID[wf.ID] = wf
	}
	for _, t := range triggers {
		wf, ok := byID[t.WorkflowID]
		if !ok {
			continue
		}
		s.pollTrigger(ctx, wf, t)
	}
}

func (s *HTTPPollSupervisor) pollTrigger(ctx context.Context, wf model.Workflow, t model.Trigger) {
	if s.deps.HTTP == nil {
		return
	}
	url := stringField(t.Config, "url")
	if url == "" {
		return
	}
	method := stringField(t.Config, "method")
	if method == "" {
		method = "GET"
	}

	headers := map[string]string{}
	if t.ConnectorID != "" {
		conn, err := s.deps.Connectors.Get(ctx, t.ConnectorID)
		if err == nil {
			cfg, err := decryptConnector(s.deps.SecretBox, conn)
			if err == nil {
				if h, ok := cfg["headers"].(map[string]any); ok {
					for k, v := range h {
						if sv, ok := v.(string); ok {
							headers[k] = sv
						}
					}
				}
			}
		}
	}
	if h, ok := t.Config["headers"].(map[string]any); ok {
		for k, v := range h {
			if sv, ok := v.(string); ok {
				headers[k] = sv
			}
		}
	}

	resp, err := s.deps.HTTP.Do(ctx, clients.HTTPRequest{Method: method, URL: url, Headers: headers, Timeout: 15 * time.Second})
	if err != nil {
		s.deps.logger().Error("http-poll request failed", "triggerId", t.ID, "err", err)
		return
	}

	body := resp.Body
	if body == nil && len(resp.RawBody) > 0 {
		var decoded any
		if json.Unmarshal(resp.RawBody, &decoded) == nil {
			body = decoded
		}
	}

	recordsPath := stringField(t.Config, "recordsPath")
	records, ok := pathutil.Resolve(body, recordsPath)
	if !ok {
		return
	}
	list, ok := records.([]any)
	if !ok {
		return
	}

	maxBatch := int(floatField(t.Config, "maxBatch", httpPollDefaultMaxBatch))
	if maxBatch <= 0 {
		maxBatch = httpPollDefaultMaxBatch
	} else if maxBatch > httpPollMaxBatchCap {
		maxBatch = httpPollMaxBatchCap
	}
	if len(list) > maxBatch {
		s.deps.logger().Warn("http-poll truncating batch", "triggerId", t.ID, "total", len(list), "maxBatch", maxBatch)
		list = list[:maxBatch]
	}

	recordIDPath := stringField(t.Config, "recordIdPath")
	watchFields, _ := t.Config["watchFields"].([]any)
	filters, _ := t.Config["filters"].([]any)

	s.mu.Lock()
	prior, ok := s.state[t.ID]
	if !ok {
		prior = map[string]string{}
		s.state[t.ID] = prior
	}
	s.mu.Unlock()

	for i, rec := range list {
		if !passesFilters(rec, filters) {
			continue
		}
		recordID := recordIdentity(rec, recordIDPath, i)
		hash := recordHash(rec, watchFields)

		s.mu.Lock()
		last, seen := prior[recordID]
		changed := !seen || last != hash
		if changed {
			prior[recordID] = hash
		}
		s.mu.Unlock()
		if !changed {
			continue
		}

		payload := map[string]any{"record": rec, "recordId": recordID}
		if err := createRun(ctx, s.deps, wf, t, payload); err != nil {
			s.deps.logger().Error("create run from http-poll failed", "triggerId", t.ID, "recordId", recordID, "err", err)
		}
	}
}

func recordIdentity(rec any, path string, index int) string {
	if path != "" {
		if v, ok := pathutil.Resolve(rec, path); ok {
			return fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("#%d", index)
}

func recordHash(rec any, watchFields []any) string {
	h := sha256.New()
	if len(watchFields) == 0 {
		raw, _ := json.Marshal(rec)
		h.Write(raw)
		return hex.EncodeToString(h.Sum(nil))
	}
	for _, f := range watchFields {
		path, ok := f.(string)
		if !ok {
			continue
		}
		v, _ := pathutil.Resolve(rec, path)
		raw, _ := json.Marshal(v)
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// passesFilters applies every {field, op, value} filter with AND semantics;
// an empty filter list always passes.
func passesFilters(rec any, filters []any) bool {
	for _, raw := range filters {
		f, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		field := stringField(f, "field")
		op := stringField(f, "op")
		want := f["value"]
		got, _ := pathutil.Resolve(rec, field)
		if !filterMatches(got, op, want) {
			return false
		}
	}
	return true
}

func filterMatches(got any, op string, want any) bool {
	switch op {
	case "eq", "":
		return pathutil.ResolveEqual(map[string]any{"v": got}, "v", want)
	case "neq":
		return !pathutil.ResolveEqual(map[string]any{"v": got}, "v", want)
	case "gt", "gte", "lt", "lte":
		gf, gok := toFloatAny(got)
		wf, wok := toFloatAny(want)
		if !gok || !wok {
			return false
		}
		switch op {
		case "gt":
			return gf > wf
		case "gte":
			return gf >= wf
		case "lt":
			return gf < wf
		default:
			return gf <= wf
		}
	case "contains":
		gs, gok := got.(string)
		ws, wok := want.(string)
		return gok && wok && strings.Contains(gs, ws)
	default:
		return false
	}
}

func toFloatAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
