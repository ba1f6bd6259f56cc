package querycache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
)

// SessionSubscriber is the slice of the session controller the cache
// binding needs: a stream of session snapshots and a way to detach.
type SessionSubscriber interface {
	Subscribe() (<-chan sessionkit.Snapshot, func())
}

// FollowSession ties the cache's lifetime to the session. Whenever the
// session's identity changes hands or ends, every entry fetched under
// the previous identity is dropped so no cached view outlives the
// sign-in it belongs to. The returned stop function detaches the
// binding; calling it more than once is safe.
func (cache *Cache) FollowSession(subscriber SessionSubscriber) func() {
	snapshots, cancel := subscriber.Subscribe()
	stopChannel := make(chan struct{})

	go func() {
		currentID := ""
		for {
			select {
			case <-stopChannel:
				return
			case snapshot := <-snapshots:
				nextID := ""
				if snapshot.Identity != nil {
					nextID = snapshot.Identity.ID
				}
				if nextID == currentID {
					continue
				}
				if currentID != "" {
					cache.DropIdentity(currentID)
					cache.logger.Info("query cache cleared for signed-out identity",
						zap.String("identity_id", currentID))
				}
				currentID = nextID
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			close(stopChannel)
		})
	}
}
