package model

// SuggestionBatch is an ordered list of machine-proposed follow-up questions
// generated after a turn completes. A batch is keyed to the turn that produced
// it and becomes stale the moment a new follow-up is submitted.
type SuggestionBatch struct {
	TurnID    string   `json:"turn_id"`
	Questions []string `json:"questions"`
}
