package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/store"
)

// registry owns the in-memory conversation aggregates and the per-participant
// locks that serialize pipeline runs. Conversation state is mutated in place,
// so no two runs for the same participant may overlap; callers must hold the
// participant's lock for the whole synchronous portion of a run.
type registry struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	convs map[string]*models.Conversation
}

func newRegistry(st store.Store) *registry {
	return &registry{
		store: st,
		locks: make(map[string]*sync.Mutex),
		convs: make(map[string]*models.Conversation),
	}
}

// lock returns the participant's serialization lock, creating it on first use.
func (r *registry) lock(participantID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[participantID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[participantID] = l
	}
	return l
}

// getOrCreate returns the cached aggregate, recovering it from a stored
// snapshot after a restart or creating a fresh one on first contact. The
// caller must hold the participant's lock.
func (r *registry) getOrCreate(participantID string, now time.Time) (*models.Conversation, error) {
	r.mu.Lock()
	if conv, ok := r.convs[participantID]; ok {
		r.mu.Unlock()
		return conv, nil
	}
	r.mu.Unlock()

	snapshot, err := r.store.GetConversation(participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", participantID, err)
	}
	conv := snapshot
	if conv == nil {
		conv = models.NewConversation(participantID, now)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.convs[participantID]; ok {
		return existing, nil
	}
	r.convs[participantID] = conv
	return conv, nil
}

// get returns the cached aggregate or the stored snapshot without creating one.
func (r *registry) get(participantID string) (*models.Conversation, error) {
	r.mu.Lock()
	if conv, ok := r.convs[participantID]; ok {
		r.mu.Unlock()
		return conv, nil
	}
	r.mu.Unlock()
	return r.store.GetConversation(participantID)
}

// recentIDs is a bounded set of transport message ids used to filter
// delivery-layer duplicates before the durable dedup record is consulted.
type recentIDs struct {
	mu    sync.Mutex
	cap   int
	seen  map[string]struct{}
	order []string
}

func newRecentIDs(capacity int) *recentIDs {
	return &recentIDs{
		cap:  capacity,
		seen: make(map[string]struct{}, capacity),
	}
}

// observe records the id and reports whether it was already present. The
// oldest entry is evicted once the set is full.
func (r *recentIDs) observe(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; ok {
		return true
	}
	if len(r.order) >= r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.seen, oldest)
	}
	r.seen[id] = struct{}{}
	r.order = append(r.order, id)
	return false
}
