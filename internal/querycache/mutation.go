package querycache

import (
	"context"
)

// MutationFunc performs a write against the backend and returns the
// server's canonical result.
type MutationFunc func(ctx context.Context) (any, error)

// ApplyFunc derives the speculative value from the current cached one.
type ApplyFunc func(current any) any

// Mutate runs a mutation with the mutation retry policy (at most one
// retry, client errors excluded) and, on success, invalidates every
// entry under the identity so dependent queries refetch.
func (cache *Cache) Mutate(ctx context.Context, identityID string, mutation MutationFunc) (any, error) {
	if identityID == "" {
		return nil, ErrQueryDisabled
	}
	result, mutationErr := runWithRetry(ctx, maxMutationRetries, cache.sleep, mutation)
	if mutationErr != nil {
		return nil, mutationErr
	}
	cache.InvalidateIdentity(identityID)
	return result, nil
}

// MutateOptimistic runs the optimistic update protocol for one key:
//
//  1. pending fetches for the key are cancelled,
//  2. the current cached value is snapshotted,
//  3. the cache is speculatively updated with apply's result,
//  4. on failure the snapshot is restored verbatim,
//  5. on settlement the key is invalidated to force a reconciling
//     refetch.
//
// Skipping the snapshot makes rollback impossible; skipping the final
// invalidation risks permanent drift if the optimistic value silently
// differs from the server's normalized one. The steps are atomic with
// respect to other mutations on the same key.
func (cache *Cache) MutateOptimistic(ctx context.Context, key Key, apply ApplyFunc, mutation MutationFunc) (any, error) {
	if key.identityID == "" {
		return nil, ErrQueryDisabled
	}
	keyText := key.String()
	keyLock := cache.lockKey(keyText)
	keyLock.Lock()
	defer keyLock.Unlock()

	cache.CancelFetches(key)
	snapshot, hadSnapshot := cache.Peek(key)
	cache.SetValue(key, apply(snapshot))

	result, mutationErr := runWithRetry(ctx, maxMutationRetries, cache.sleep, mutation)
	if mutationErr != nil {
		if hadSnapshot {
			cache.SetValue(key, snapshot)
		} else {
			cache.mutex.Lock()
			delete(cache.entries, keyText)
			cache.mutex.Unlock()
		}
		cache.Invalidate(key)
		return nil, mutationErr
	}

	cache.InvalidateIdentity(key.identityID)
	cache.Invalidate(key)
	return result, nil
}
