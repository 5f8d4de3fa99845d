package llm

import "time"

// Message represents a single message in a chat conversation sent to a backend.
type Message struct {
	Role    string `json:"role"` // One of RoleSystem, RoleUser, RoleAssistant.
	Content string `json:"content"`
}

// Role constants for the Message.Role and Turn.Role fields.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerationRequest describes one persona-constrained generation task.
// Requests are built once by the caller and never mutated afterwards.
type GenerationRequest struct {
	Context     string         `json:"context"`
	Persona     Persona        `json:"persona"`
	Constraints Constraints    `json:"constraints"`
	History     []Turn         `json:"history,omitempty"`
	Reference   *ReferenceItem `json:"reference,omitempty"`
}

// Persona is the identity the generated text is written as.
type Persona struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	SystemInstructions string          `json:"system_instructions,omitempty"`
	Stance             PoliticalStance `json:"stance"`
	Tone               string          `json:"tone,omitempty"`
	PersonalityTraits  []string        `json:"personality_traits,omitempty"`
	Interests          []string        `json:"interests,omitempty"`
	Expertise          []string        `json:"expertise,omitempty"`
	Behavior           Behavior        `json:"behavior"`
}

// PoliticalStance places a persona on two axes, each in [-1, 1].
type PoliticalStance struct {
	Label    string  `json:"label,omitempty"`
	Economic float64 `json:"economic"`
	Social   float64 `json:"social"`
}

// Behavior holds the numeric behavioral dials of a persona, each in [0, 1].
type Behavior struct {
	ControversyTolerance float64 `json:"controversy_tolerance"`
	DebateAggression     float64 `json:"debate_aggression"`
	EngagementFrequency  float64 `json:"engagement_frequency"`
}

// Constraints bound the generated output.
type Constraints struct {
	MaxLength       int      `json:"max_length,omitempty"` // Characters; 0 = unbounded.
	RequiredTone    string   `json:"required_tone,omitempty"`
	ForbiddenTopics []string `json:"forbidden_topics,omitempty"`
	ContextWindow   int      `json:"context_window,omitempty"` // Max history turns considered; 0 = all.
	Temperature     *float64 `json:"temperature,omitempty"`
}

// Turn is one role-tagged entry of a conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReferenceItem grounds a generation in an external item such as a news story.
type ReferenceItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Source  string `json:"source,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Window returns the history turns the request asks providers to consider:
// the last Constraints.ContextWindow turns, or all of them when unset.
func (r *GenerationRequest) Window() []Turn {
	n := r.Constraints.ContextWindow
	if n <= 0 || n >= len(r.History) {
		return r.History
	}
	return r.History[len(r.History)-n:]
}

// GenerationResponse is the result of one successful generation attempt.
type GenerationResponse struct {
	Content        string        `json:"content"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time"`
	Provider       string        `json:"provider"`
	Model          string        `json:"model"`
	Usage          Usage         `json:"usage"`
	Safety         *SafetyResult `json:"safety,omitempty"`
	Cached         bool          `json:"cached"`
	RequestID      string        `json:"request_id,omitempty"`
}

// Usage tracks token consumption for a single generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// SafetyResult is the outcome of an optional post-generation safety evaluation.
type SafetyResult struct {
	Allowed    bool     `json:"allowed"`
	Flags      []string `json:"flags,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Clone returns a deep copy of the response.
func (r *GenerationResponse) Clone() *GenerationResponse {
	if r == nil {
		return nil
	}
	c := *r
	if r.Safety != nil {
		s := *r.Safety
		s.Flags = append([]string(nil), r.Safety.Flags...)
		c.Safety = &s
	}
	return &c
}

// HealthStatus is the result of a single provider health probe.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"`
	Message   string        `json:"message,omitempty"`
}

// Capabilities is static provider metadata used for accounting and selection.
type Capabilities struct {
	MaxTokens          int      `json:"max_tokens"`
	Languages          []string `json:"languages"`
	PersonaInjection   bool     `json:"persona_injection"`
	PoliticalAlignment bool     `json:"political_alignment"`
	ContentFiltering   bool     `json:"content_filtering"`
	Local              bool     `json:"local"`                 // True for network-free providers.
	CostPerInputToken  float64  `json:"cost_per_input_token"`  // USD.
	CostPerOutputToken float64  `json:"cost_per_output_token"` // USD.
}

// EstimateCost returns the USD cost of usage under these capabilities.
func (c Capabilities) EstimateCost(u Usage) float64 {
	return float64(u.InputTokens)*c.CostPerInputToken + float64(u.OutputTokens)*c.CostPerOutputToken
}
