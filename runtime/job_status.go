package runtime

import (
	"context"
	"sync"
)

// JobStatus keeps booked correlation ids in process memory.
// It is lost on restart; deployments with several processes use the redis store instead.
type JobStatus struct {
	mu     sync.RWMutex
	booked map[string]struct{}
}

func NewJobStatus() *JobStatus {
	return &JobStatus{booked: make(map[string]struct{})}
}

func (j *JobStatus) MarkBooked(_ context.Context, correlationID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.booked[correlationID] = struct{}{}
	return nil
}

func (j *JobStatus) IsBooked(_ context.Context, correlationID string) (bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	_, ok := j.booked[correlationID]
	return ok, nil
}
