package faq

import "time"

// IngestPolicy controls how a batch reacts to per-record failures.
type IngestPolicy string

const (
	// IngestPolicyPartial skips failing records and keeps the rest.
	IngestPolicyPartial IngestPolicy = "partial"
	// IngestPolicyStrict aborts the batch and undoes any writes it made.
	IngestPolicyStrict IngestPolicy = "strict"
)

// Config holds runtime knobs for the FAQ service.
type Config struct {
	Dimension        int
	MaxDistance      float64
	TopK             int
	IngestPolicy     IngestPolicy
	EmbedConcurrency int
	EmbedTimeout     time.Duration
	StoreTimeout     time.Duration
	CacheTTL         time.Duration
}

func (c Config) topK() int {
	if c.TopK <= 0 {
		return 5
	}
	return c.TopK
}

func (c Config) embedConcurrency() int {
	if c.EmbedConcurrency <= 0 {
		return 4
	}
	return c.EmbedConcurrency
}

func (c Config) policy() IngestPolicy {
	if c.IngestPolicy == IngestPolicyStrict {
		return IngestPolicyStrict
	}
	return IngestPolicyPartial
}

// txTimeout bounds one record transaction: snapshot reads, two writes and
// the commit.
func (c Config) txTimeout() time.Duration {
	if c.StoreTimeout <= 0 {
		return 0
	}
	return 4 * c.StoreTimeout
}

// cacheTimeout bounds a single answer cache call.
func (c Config) cacheTimeout() time.Duration {
	return c.StoreTimeout
}
