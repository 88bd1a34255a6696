package memory

import (
	"time"
)

// Kind classifies a memory entry.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindSummary      Kind = "summary"
	KindKnowledge    Kind = "knowledge"
	KindContext      Kind = "context"
	KindSystem       Kind = "system"
)

// Valid reports whether k is a recognized kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConversation, KindSummary, KindKnowledge, KindContext, KindSystem:
		return true
	}
	return false
}

// Entry is a single unit of remembered information.
type Entry struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Embedding    []float32      `json:"embedding,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Associations []Association  `json:"associations,omitempty"`
	Source       string         `json:"source,omitempty"`

	// Score is the relevance computed by Search. It is never persisted.
	Score float64 `json:"-"`
}

// Association is a directed edge from the owning entry to TargetID.
type Association struct {
	TargetID  string         `json:"target_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Linked is an association together with its resolved target entry.
type Linked struct {
	Association
	Entry *Entry
}

// Query selects and ranks entries. Zero-valued fields do not filter.
type Query struct {
	// Text, when set, is embedded and compared to each candidate by cosine similarity.
	Text string

	Kinds []Kind

	// Metadata requires every key to be present with an equal value.
	Metadata map[string]any

	// From and To bound the entry timestamp, inclusively.
	From time.Time
	To   time.Time

	// MinRelevance, when set, drops scored candidates below this similarity.
	// Unset keeps every candidate, including anti-correlated ones.
	MinRelevance *float64

	Limit int
}

// Threshold returns v as a Query.MinRelevance.
func Threshold(v float64) *float64 {
	return &v
}

// Patch describes a partial update. Nil fields are left unchanged.
type Patch struct {
	Kind    *Kind
	Content *string
	Source  *string

	// Metadata keys are merged into the existing metadata. A nil value removes the key.
	Metadata map[string]any

	// Embedding replaces the stored vector. When nil and Content changes, the
	// embedding is regenerated.
	Embedding []float32
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Metadata = cloneMap(e.Metadata)
	if e.Embedding != nil {
		c.Embedding = append([]float32(nil), e.Embedding...)
	}
	if e.Associations != nil {
		c.Associations = make([]Association, len(e.Associations))
		for i, a := range e.Associations {
			a.Metadata = cloneMap(a.Metadata)
			c.Associations[i] = a
		}
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
