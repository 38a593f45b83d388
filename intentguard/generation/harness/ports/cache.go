package harnessports

import "context"

// Cache memoizes consensus results by fingerprint. Implementations treat unreadable or
// corrupt entries as misses.
type Cache interface {
	Get(ctx context.Context, key string) (value ConsensusResult, ok bool)
	Put(ctx context.Context, key string, value ConsensusResult) error
}
