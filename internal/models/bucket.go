package models

import "time"

// TokenDeltas is the per-event token breakdown reported by the traffic
// pipeline alongside each request.
type TokenDeltas struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
}

// Total is the token count the TPM metric is evaluated against.
func (d TokenDeltas) Total() int {
	return d.InputTokens + d.OutputTokens + d.CacheReadTokens + d.CacheCreationTokens
}

// MinuteBucket holds one calendar minute of counts for one entity. The live
// bucket for the current minute is mutable and owned by the counter store;
// once the minute elapses the bucket is sealed and never mutated again.
type MinuteBucket struct {
	Minute              time.Time `json:"minute"`
	RequestCount        int       `json:"request_count"`
	InputTokens         int       `json:"input_tokens"`
	OutputTokens        int       `json:"output_tokens"`
	CacheReadTokens     int       `json:"cache_read_tokens"`
	CacheCreationTokens int       `json:"cache_creation_tokens"`
}

// TotalTokens is the bucket's aggregate token count across all categories.
func (b MinuteBucket) TotalTokens() int {
	return b.InputTokens + b.OutputTokens + b.CacheReadTokens + b.CacheCreationTokens
}

func (b *MinuteBucket) Add(deltas TokenDeltas) {
	b.RequestCount++
	b.InputTokens += deltas.InputTokens
	b.OutputTokens += deltas.OutputTokens
	b.CacheReadTokens += deltas.CacheReadTokens
	b.CacheCreationTokens += deltas.CacheCreationTokens
}

// Usage is the live view of an entity's current calendar-minute traffic.
// Rpm and Tpm are this minute's counts so far, not a trailing 60s window;
// the value resets at each minute boundary.
type Usage struct {
	Rpm    int `json:"current_rpm"`
	Tpm    int `json:"current_tpm"`
	MaxRpm int `json:"max_rpm"`
	MaxTpm int `json:"max_tpm"`
}
