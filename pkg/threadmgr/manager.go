// Package threadmgr reconstructs GenericMessage conversations from a
// thread's event log and caches the reconstruction so repeated turns on
// the same thread don't re-decode the whole log from storage.
package threadmgr

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/types/events"
)

// cachedThread is a reconstructed thread: its metadata plus the decoded
// message history, invalidated whenever a new event is appended.
type cachedThread struct {
	mu       sync.RWMutex
	thread   events.Thread
	messages []events.GenericMessage
	// lastEventID is the highest event ID folded into messages so a
	// refresh can append only the events appended since.
	lastEventID int64
}

// Manager owns the reconstruction cache for every thread it has loaded.
// A Manager is safe for concurrent use by multiple Agents.
type Manager struct {
	store store.EventStore

	mu    sync.RWMutex
	cache map[string]*cachedThread
}

// New builds a Manager over es. es is expected to already have its schema
// migrated.
func New(es store.EventStore) *Manager {
	return &Manager{store: es, cache: make(map[string]*cachedThread)}
}

// CreateThread creates a brand-new root thread (canonical_id == thread_id).
func (m *Manager) CreateThread(ctx context.Context) (events.Thread, error) {
	id := store.GenerateThreadID()
	t, err := m.store.CreateThread(ctx, id, id, "")
	if err != nil {
		return events.Thread{}, errors.Wrap(err, "create thread")
	}
	m.setCache(t.ThreadID, &cachedThread{thread: t})
	return t, nil
}

// CreateChildThread creates a new root thread (its own canonical chain)
// recorded as a delegate of parentThreadID, per the Agent.Delegate
// contract: a delegate is a fresh conversation, not a compaction
// successor, so it gets its own canonical_id.
func (m *Manager) CreateChildThread(ctx context.Context, parentThreadID string) (events.Thread, error) {
	id := store.GenerateThreadID()
	t, err := m.store.CreateThread(ctx, id, id, parentThreadID)
	if err != nil {
		return events.Thread{}, errors.Wrap(err, "create child thread")
	}
	m.setCache(t.ThreadID, &cachedThread{thread: t})
	return t, nil
}

// CreateSuccessorThread creates a new thread sharing canonicalID, used by
// the compactor to start a post-compaction thread in the same chain.
func (m *Manager) CreateSuccessorThread(ctx context.Context, canonicalID string) (events.Thread, error) {
	id := store.GenerateThreadID()
	t, err := m.store.CreateThread(ctx, id, canonicalID, "")
	if err != nil {
		return events.Thread{}, errors.Wrap(err, "create successor thread")
	}
	m.setCache(t.ThreadID, &cachedThread{thread: t})
	return t, nil
}

func (m *Manager) setCache(threadID string, c *cachedThread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[threadID] = c
}

func (m *Manager) getCache(threadID string) (*cachedThread, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cache[threadID]
	return c, ok
}

// GetThread returns a thread's metadata, using the cache when present.
func (m *Manager) GetThread(ctx context.Context, threadID string) (events.Thread, error) {
	if c, ok := m.getCache(threadID); ok {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.thread, nil
	}
	t, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return events.Thread{}, err
	}
	m.setCache(threadID, &cachedThread{thread: t})
	return t, nil
}

// Messages returns the reconstructed GenericMessage history for threadID,
// decoding and caching it on first access and replaying only new events on
// subsequent calls.
func (m *Manager) Messages(ctx context.Context, threadID string) ([]events.GenericMessage, error) {
	c, ok := m.getCache(threadID)
	if !ok {
		t, err := m.store.GetThread(ctx, threadID)
		if err != nil {
			return nil, err
		}
		c = &cachedThread{thread: t}
		m.setCache(threadID, c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for ev, err := range m.eventsAfter(ctx, threadID, c.lastEventID) {
		if err != nil {
			return nil, errors.Wrapf(err, "replay events for thread %s", threadID)
		}
		block, ok, err := decode(ev)
		if err != nil {
			return nil, errors.Wrapf(err, "decode event %d", ev.ID)
		}
		if ok {
			c.messages = appendGeneric(c.messages, block)
		}
		c.lastEventID = ev.ID
	}

	out := make([]events.GenericMessage, len(c.messages))
	copy(out, c.messages)
	return out, nil
}

func (m *Manager) eventsAfter(ctx context.Context, threadID string, afterID int64) func(func(events.ThreadEvent, error) bool) {
	return func(yield func(events.ThreadEvent, error) bool) {
		for ev, err := range m.store.EventsForThread(ctx, threadID) {
			if err != nil {
				yield(events.ThreadEvent{}, err)
				return
			}
			if ev.ID <= afterID {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// AppendEvent appends an event via the underlying EventStore and
// synchronously folds it into the thread's cached message history before
// returning, satisfying the read-your-writes coherence every caller of
// Manager depends on.
func (m *Manager) AppendEvent(ctx context.Context, threadID string, kind events.Kind, payload []byte) (events.ThreadEvent, error) {
	ev, err := m.store.Append(ctx, threadID, kind, payload)
	if err != nil {
		return events.ThreadEvent{}, err
	}

	c, ok := m.getCache(threadID)
	if !ok {
		logger.G(ctx).WithField("thread_id", threadID).Warn("appended event for uncached thread; forcing reload on next read")
		return ev, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.ID <= c.lastEventID {
		// already folded in by a concurrent Messages() call
		return ev, nil
	}
	if block, ok, err := decode(ev); err == nil && ok {
		c.messages = appendGeneric(c.messages, block)
	}
	c.lastEventID = ev.ID
	return ev, nil
}

// ResolveCanonical returns the most recent thread in canonicalID's compaction
// chain, i.e. the thread an Agent should actually keep appending to.
func (m *Manager) ResolveCanonical(ctx context.Context, canonicalID string) (events.Thread, error) {
	chain, err := m.store.FindByCanonical(ctx, canonicalID)
	if err != nil {
		return events.Thread{}, err
	}
	if len(chain) == 0 {
		return events.Thread{}, errors.Errorf("no threads found for canonical id %s", canonicalID)
	}
	return chain[len(chain)-1], nil
}

func appendGeneric(messages []events.GenericMessage, block genericUnit) []events.GenericMessage {
	if block.merge && len(messages) > 0 && messages[len(messages)-1].Role == block.message.Role {
		last := &messages[len(messages)-1]
		last.Content = append(last.Content, block.message.Content...)
		return messages
	}
	return append(messages, block.message)
}
