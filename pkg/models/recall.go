package models

import "time"

// RecallRecord is a past (user, assistant) pair with its embedding and
// decay state, as kept by the Recall Engine's corpus and active set.
type RecallRecord struct {
	Hash      string    `json:"hash"`
	UserText  string    `json:"user_text"`
	AssistantText string `json:"assistant_text"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`

	// LifePoints and Active are only meaningful for entries in the active
	// set; corpus-only entries leave them at their zero values.
	LifePoints float64 `json:"life_points"`
	Active     bool    `json:"active"`
}
