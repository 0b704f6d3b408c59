package models

// Technique is one catalog entry of the MITRE ATT&CK reference. Tactics is a
// comma-joined, sorted, deduplicated list of lowercase kill-chain phase names.
type Technique struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Tactics     string `json:"tactics"`
	Description string `json:"description,omitempty"`
}
