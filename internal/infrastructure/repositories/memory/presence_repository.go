package memory

import (
	"context"
	"sort"
	"sync"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
)

type MemoryPresenceRepository struct {
	rooms map[string]map[string]domain.Participant
	mu    sync.RWMutex
}

func NewMemoryPresenceRepository() ports.PresenceRepository {
	return &MemoryPresenceRepository{
		rooms: make(map[string]map[string]domain.Participant),
	}
}

func (r *MemoryPresenceRepository) Join(ctx context.Context, roomID string, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]domain.Participant)
		r.rooms[roomID] = room
	}
	// Rejoin refreshes the record; membership stays idempotent.
	room[p.UserID] = p
	return nil
}

func (r *MemoryPresenceRepository) Leave(ctx context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	return nil
}

func (r *MemoryPresenceRepository) List(ctx context.Context, roomID string) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	participants := make([]domain.Participant, 0, len(room))
	for _, p := range room {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, nil
}
