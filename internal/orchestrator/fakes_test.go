package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mpataki/textflow/internal/llm"
	"github.com/mpataki/textflow/internal/models"
	"github.com/mpataki/textflow/internal/storage"
)

type reply struct {
	content string
	err     error
}

// scriptedClient answers each call with the next reply; the last reply
// repeats once the script runs out.
type scriptedClient struct {
	mu       sync.Mutex
	replies  []reply
	requests []llm.Request
}

func script(replies ...reply) *scriptedClient {
	return &scriptedClient{replies: replies}
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.replies) == 0 {
		return &llm.Response{}, nil
	}

	r := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Response{Content: r.content}, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedClient) prompt(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i].Messages[0].Content
}

type memStore struct {
	mu        sync.Mutex
	runs      map[string]*models.Run
	steps     map[string][]*models.StepRun
	stepErr   error
	updateErr error

	// ctx.Err() as seen by each status update
	updateCtxErrs []error
}

func newMemStore() *memStore {
	return &memStore{
		runs:  make(map[string]*models.Run),
		steps: make(map[string][]*models.StepRun),
	}
}

func (s *memStore) CreateRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCtxErrs = append(s.updateCtxErrs, ctx.Err())
	if s.updateErr != nil {
		return s.updateErr
	}
	run, ok := s.runs[id]
	if !ok {
		return storage.ErrNotFound
	}
	run.Status = status
	run.Error = errMsg
	return nil
}

func (s *memStore) CreateStepRun(ctx context.Context, step *models.StepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepErr != nil {
		return s.stepErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.steps[step.RunID] = append(s.steps[step.RunID], step)
	return nil
}

func (s *memStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *run
	cp.StepRuns = append([]*models.StepRun(nil), s.steps[id]...)
	return &cp, nil
}

func (s *memStore) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	s.mu.Lock()
	var ids []string
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	var runs []*models.Run
	for _, id := range ids {
		if len(runs) == limit {
			break
		}
		run, _ := s.GetRun(ctx, id)
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *memStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.runs, id)
	delete(s.steps, id)
	return nil
}

var errTransport = errors.New("connection reset by peer")
