package fallback

// SecureResult is the result of the secure operation on either backend.
type SecureResult struct {
	Hash   string `json:"secure_hash"`
	Length int    `json:"length"`
}

// ParallelResult is the result of the parallel operation on either backend.
type ParallelResult struct {
	Workers   int      `json:"worker_count"`
	Checksums []uint32 `json:"checksums"`
	Results   []string `json:"results"`
}

// ReactiveResult is the result of the reactive operation on either backend.
type ReactiveResult struct {
	EventID    string  `json:"event_id"`
	EventType  string  `json:"event_type"`
	Score      float64 `json:"reactivity_score"`
	DataLength int     `json:"data_length"`
}
