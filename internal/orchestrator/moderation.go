package orchestrator

import (
	"context"
	"strings"

	"github.com/HerbHall/personagen/pkg/llm"
)

// Moderator evaluates a generated response. It annotates and never blocks:
// the returned result is attached to the response as-is.
type Moderator interface {
	Moderate(ctx context.Context, req *llm.GenerationRequest, resp *llm.GenerationResponse) (*llm.SafetyResult, error)
}

// TopicModerator flags responses that mention any of the request's
// forbidden topics.
type TopicModerator struct{}

var _ Moderator = TopicModerator{}

// Moderate returns a result whose Flags name each forbidden topic found in
// the content, case-insensitively.
func (TopicModerator) Moderate(_ context.Context, req *llm.GenerationRequest, resp *llm.GenerationResponse) (*llm.SafetyResult, error) {
	content := strings.ToLower(resp.Content)
	res := &llm.SafetyResult{Allowed: true, Confidence: 1}
	for _, topic := range req.Constraints.ForbiddenTopics {
		t := strings.ToLower(strings.TrimSpace(topic))
		if t == "" {
			continue
		}
		if strings.Contains(content, t) {
			res.Flags = append(res.Flags, "forbidden_topic:"+t)
		}
	}
	if len(res.Flags) > 0 {
		res.Allowed = false
		res.Confidence = 0.6
	}
	return res, nil
}
