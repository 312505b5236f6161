package entities

// StateCandidate is one tuple of upstream extractor output: a raw mention
// with the state the extractor believes the meeting assigned to it. Raw names
// may repeat within a meeting, carry inconsistent casing, and refer to
// entities under aliases; resolution and deduplication are this core's job,
// not the extractor's.
type StateCandidate struct {
	RawName    string            `json:"name"`
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes"`
	Confidence float64           `json:"confidence"`
}
