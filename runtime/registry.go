package runtime

import (
	"sort"
	"sync"

	"negotiation-hub/contract"
	"negotiation-hub/domain"

	"github.com/samber/lo"
)

type presenceKey struct {
	role          domain.Role
	participantID string
}

// Registry is the presence directory: which participant is reachable through which
// connection, right now. Each role owns an independent namespace, so the same id may
// be connected as a requester and as a worker from two different sessions.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[domain.Role]map[string]contract.ConnectionRecord
	byHandle   map[string]presenceKey // handle id -> entry it currently owns
}

func NewRegistry() *Registry {
	namespaces := make(map[domain.Role]map[string]contract.ConnectionRecord, len(domain.Roles))
	for _, role := range domain.Roles {
		namespaces[role] = make(map[string]contract.ConnectionRecord)
	}
	return &Registry{
		namespaces: namespaces,
		byHandle:   make(map[string]presenceKey),
	}
}

// Register stores the connection of a participant in its role namespace.
// A previous connection of the same participant and role is replaced; its handle is
// returned so the caller can close it. The stale handle no longer owns any entry.
func (r *Registry) Register(record contract.ConnectionRecord) contract.ConnectionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	namespace, ok := r.namespaces[record.Role]
	if !ok {
		namespace = make(map[string]contract.ConnectionRecord)
		r.namespaces[record.Role] = namespace
	}

	var replaced contract.ConnectionHandle
	if previous, exists := namespace[record.ParticipantID]; exists && previous.Handle.ID() != record.Handle.ID() {
		replaced = previous.Handle
		delete(r.byHandle, previous.Handle.ID())
	}

	namespace[record.ParticipantID] = record
	r.byHandle[record.Handle.ID()] = presenceKey{role: record.Role, participantID: record.ParticipantID}
	return replaced
}

// Lookup returns the live connection of a participant, searching the given role
// namespaces in order (every namespace when none is given).
func (r *Registry) Lookup(participantID string, roles ...domain.Role) (contract.ConnectionRecord, bool) {
	if len(roles) == 0 {
		roles = domain.Roles
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, role := range roles {
		if record, ok := r.namespaces[role][participantID]; ok {
			return record, true
		}
	}
	return contract.ConnectionRecord{}, false
}

// Unregister removes whatever entry the handle currently owns.
// It is keyed by handle so that a late disconnect of a replaced session is a no-op.
func (r *Registry) Unregister(handle contract.ConnectionHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byHandle[handle.ID()]
	if !ok {
		return false
	}
	delete(r.byHandle, handle.ID())
	delete(r.namespaces[key.role], key.participantID)
	return true
}

func (r *Registry) Stats() contract.PresenceStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requesterIDs := sortedKeys(r.namespaces[domain.RoleRequester])
	workerIDs := sortedKeys(r.namespaces[domain.RoleWorker])
	return contract.PresenceStats{
		Requesters:   len(requesterIDs),
		Workers:      len(workerIDs),
		Total:        len(requesterIDs) + len(workerIDs),
		RequesterIDs: requesterIDs,
		WorkerIDs:    workerIDs,
	}
}

// List returns the connected records of one role, or of every role when role is nil,
// ordered by registration time.
func (r *Registry) List(role *domain.Role) []contract.ConnectionRecord {
	r.mu.RLock()
	var records []contract.ConnectionRecord
	for namespaceRole, namespace := range r.namespaces {
		if role != nil && *role != namespaceRole {
			continue
		}
		records = append(records, lo.Values(namespace)...)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].RegisteredAt.Equal(records[j].RegisteredAt) {
			return records[i].ParticipantID < records[j].ParticipantID
		}
		return records[i].RegisteredAt.Before(records[j].RegisteredAt)
	})
	return records
}

func sortedKeys(namespace map[string]contract.ConnectionRecord) []string {
	keys := lo.Keys(namespace)
	sort.Strings(keys)
	return keys
}
