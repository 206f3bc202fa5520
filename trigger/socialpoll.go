package trigger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zecflow/core/model"
)

const (
	socialPollDefaultInterval = 60 * time.Second
	socialPollMinInterval     = 30 * time.Second
)

// SocialPollSupervisor implements social-poll, spec.md §4.4: poll a social
// feed's timeline/mentions every 60s and fire a run for every post
// observed past the trigger's watermark that matches its keyword filter.
// The interval is fixed: no per-trigger cadence is read, and
// socialPollMinInterval is not applied.
type SocialPollSupervisor struct {
	deps *Deps

	mu        sync.Mutex
	watermark map[string]string // triggerId -> last seen post id
}

func NewSocialPollSupervisor(d *Deps) *SocialPollSupervisor {
	return &SocialPollSupervisor{deps: d, watermark: map[string]string{}}
}

func (s *SocialPollSupervisor) Start(ctx context.Context) {
	ticker := time.NewTicker(socialPollDefaultInterval)
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

func (s *SocialPollSupervisor) pollOnce(ctx context.Context) {
	if s.deps.Social == nil {
		return
	}
	triggers, err := s.deps.Triggers.ListActiveByType(ctx, model.TriggerSocialPoll)
	if err != nil {
		s.deps.logger().Error("list social-poll triggers failed", "err", err)
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

func (s *SocialPollSupervisor) pollTrigger(ctx context.Context, wf model.Workflow, t model.Trigger) {
	s.mu.Lock()
	sinceID := s.watermark[t.ID]
	s.mu.Unlock()

	source := stringField(t.Config, "source")
	fetch := s.deps.Social.Timeline
	if source == "mentions" {
		fetch = s.deps.Social.Mentions
	}
	items, err := fetch(ctx, sinceID)
	if err != nil {
		s.deps.logger().Error("social-poll fetch failed", "triggerId", t.ID, "err", err)
		return
	}
	if len(items) == 0 {
		return
	}

	keyword := stringField(t.Config, "keyword")
	var newest string
	for _, post := range items {
		newest = post.ID
		if keyword != "" && !strings.Contains(strings.ToLower(post.Text), strings.ToLower(keyword)) {
			continue
		}
		payload := map[string]any{"postId": post.ID, "text": post.Text, "data": post.Data}
		if err := createRun(ctx, s.deps, wf, t, payload); err != nil {
			s.deps.logger().Error("create run from social-poll failed", "triggerId", t.ID, "postId", post.ID, "err", err)
		}
	}
	if newest != "" {
		s.mu.Lock()
		s.watermark[t.ID] = newest
		s.mu.Unlock()
	}
}
