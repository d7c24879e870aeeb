package model

import "time"

// Question is the engine's view of an authored question: identity plus
// the authored option order. Content rendering lives outside the engine.
type Question struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	OptionIDs []string `json:"option_ids"`
	// Multiple marks a question that accepts a set of option IDs rather
	// than a single one.
	Multiple bool `json:"multiple"`
}

// Assignment is the engine's view of a timed assessment. The authoring
// workflow that produces it is an external collaborator.
type Assignment struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// DurationMinutes is the personal countdown length. Zero means the
	// attempt is untimed unless Deadline is set.
	DurationMinutes int `json:"duration_minutes"`
	// Deadline, when set, is a fixed wall-clock end regardless of when
	// the student started.
	Deadline  *time.Time      `json:"deadline,omitempty"`
	AntiCheat AntiCheatConfig `json:"anti_cheat"`
	Questions []Question      `json:"questions"`
}
