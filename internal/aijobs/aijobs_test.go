package aijobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgr0831/transcription-worker/internal/store"
)

type fakeJobStore struct {
	mu        sync.Mutex
	pending   []store.AIJob
	completed map[uuid.UUID]string
	failed    map[uuid.UUID]string
}

func newFakeJobStore(jobs ...store.AIJob) *fakeJobStore {
	return &fakeJobStore{pending: jobs, completed: map[uuid.UUID]string{}, failed: map[uuid.UUID]string{}}
}

func (f *fakeJobStore) ClaimNextAIJob(ctx context.Context) (*store.AIJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, store.ErrNotFound
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	return &job, nil
}

func (f *fakeJobStore) CompleteAIJob(ctx context.Context, id uuid.UUID, result string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = result
	return nil
}

func (f *fakeJobStore) FailAIJob(ctx context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}

type fakeLLM struct {
	result string
	err    error
}

func (l *fakeLLM) Run(ctx context.Context, job store.AIJob) (string, error) {
	return l.result, l.err
}

func TestPoller_CompletesSuccessfulJob(t *testing.T) {
	id := uuid.New()
	st := newFakeJobStore(store.AIJob{ID: id, JobType: store.JobSummary})
	p := New(st, &fakeLLM{result: "done"}, Config{PollInterval: 5 * time.Millisecond, Workers: 1})
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.completed[id] == "done"
	}, time.Second, 5*time.Millisecond)
}

func TestPoller_RecordsFailedJob(t *testing.T) {
	id := uuid.New()
	st := newFakeJobStore(store.AIJob{ID: id, JobType: store.JobSentiment})
	p := New(st, &fakeLLM{err: errors.New("model unavailable")}, Config{PollInterval: 5 * time.Millisecond, Workers: 1})
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		_, ok := st.failed[id]
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "model unavailable", st.failed[id])
}
