package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
)

type State string

const (
	StatePending  State = "PENDING"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
	ErrUnknownID   = errors.New("unknown invocation")
)

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Invocation is a snapshot of one queued task.
type Invocation struct {
	ID         string
	Name       string
	State      State
	Message    string
	Result     any
	Error      string
	Attempts   int
	EnqueuedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Task is the unit of work run by a worker. Progress reported through h is
// visible to Get while the task runs.
type Task func(ctx context.Context, h *Handle) (any, error)

type Options struct {
	Workers    int
	Buffer     int
	MaxRetries int
	RetryDelay time.Duration
}

type Queue struct {
	opts   Options
	logger Logger
	tasks  chan *job

	mu          sync.RWMutex
	invocations map[string]*record
	closed      bool

	wg sync.WaitGroup
}

type job struct {
	id   string
	task Task
}

type record struct {
	inv  Invocation
	done chan struct{}
}

func New(logger Logger, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &Queue{
		opts:        opts,
		logger:      logger,
		tasks:       make(chan *job, opts.Buffer),
		invocations: make(map[string]*record),
	}
}

// Start launches the workers. They stop once Stop drains the queue.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Infof("Started %d backup worker(s)", q.opts.Workers)
}

// Enqueue records a PENDING invocation and hands it to the workers without
// blocking. ErrQueueFull is returned when the buffer has no room.
func (q *Queue) Enqueue(name string, task Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrQueueClosed
	}

	id := uuid.NewString()
	q.invocations[id] = &record{
		inv: Invocation{
			ID:         id,
			Name:       name,
			State:      StatePending,
			EnqueuedAt: time.Now(),
		},
		done: make(chan struct{}),
	}

	select {
	case q.tasks <- &job{id: id, task: task}:
	default:
		delete(q.invocations, id)
		return "", fmt.Errorf("%s: %w", name, ErrQueueFull)
	}

	q.logger.Debugf("Enqueued %s as %s", name, id)
	return id, nil
}

// Get returns a copy of the invocation.
func (q *Queue) Get(id string) (Invocation, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	r, ok := q.invocations[id]
	if !ok {
		return Invocation{}, false
	}
	return r.inv, true
}

// Wait blocks until the invocation reaches a terminal state or ctx ends.
func (q *Queue) Wait(ctx context.Context, id string) (Invocation, error) {
	q.mu.RLock()
	r, ok := q.invocations[id]
	q.mu.RUnlock()
	if !ok {
		return Invocation{}, ErrUnknownID
	}

	select {
	case <-r.done:
		inv, _ := q.Get(id)
		return inv, nil
	case <-ctx.Done():
		inv, _ := q.Get(id)
		return inv, ctx.Err()
	}
}

// Prune forgets terminal invocations that finished more than age ago.
func (q *Queue) Prune(age time.Duration) int {
	cutoff := time.Now().Add(-age)

	q.mu.Lock()
	defer q.mu.Unlock()

	pruned := 0
	for id, r := range q.invocations {
		if r.inv.FinishedAt != nil && r.inv.FinishedAt.Before(cutoff) {
			delete(q.invocations, id)
			pruned++
		}
	}
	return pruned
}

// Stop refuses new work, lets the workers drain what is queued, and waits
// for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, n int) {
	defer q.wg.Done()

	for j := range q.tasks {
		q.run(ctx, j)
	}
	q.logger.Debugf("Worker %d exited", n)
}

func (q *Queue) run(ctx context.Context, j *job) {
	h := &Handle{q: q, id: j.id}
	now := time.Now()
	q.update(j.id, func(inv *Invocation) {
		inv.State = StateProgress
		inv.StartedAt = &now
	})

	var (
		result any
		err    error
	)
	for attempt := 1; ; attempt++ {
		q.update(j.id, func(inv *Invocation) { inv.Attempts = attempt })

		result, err = execute(ctx, j.task, h)
		if err == nil || attempt > q.opts.MaxRetries || ctx.Err() != nil {
			break
		}

		q.logger.Warnf("Invocation %s attempt %d failed: %v, retrying in %s", j.id, attempt, err, q.opts.RetryDelay)
		h.Update(fmt.Sprintf("Retrying after error: %v", err))

		select {
		case <-ctx.Done():
		case <-time.After(q.opts.RetryDelay):
		}
	}

	finished := time.Now()
	q.finish(j.id, func(inv *Invocation) {
		inv.FinishedAt = &finished
		inv.Result = result
		if err != nil {
			inv.State = StateFailure
			inv.Error = err.Error()
			inv.Message = err.Error()
			return
		}
		inv.State = StateSuccess
	})

	if err != nil {
		q.logger.Errorf("Invocation %s failed: %v", j.id, err)
	}
}

func execute(ctx context.Context, task Task, h *Handle) (result any, err error) {
	if recovered := panics.Try(func() { result, err = task(ctx, h) }); recovered != nil {
		return nil, recovered.AsError()
	}
	return result, err
}

func (q *Queue) update(id string, fn func(*Invocation)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r, ok := q.invocations[id]; ok && !r.inv.State.Terminal() {
		fn(&r.inv)
	}
}

func (q *Queue) finish(id string, fn func(*Invocation)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r, ok := q.invocations[id]; ok && !r.inv.State.Terminal() {
		fn(&r.inv)
		close(r.done)
	}
}

// Handle lets a running task report progress.
type Handle struct {
	q  *Queue
	id string
}

func (h *Handle) ID() string {
	return h.id
}

// Update moves the invocation to PROGRESS with message.
func (h *Handle) Update(message string) {
	h.q.update(h.id, func(inv *Invocation) {
		inv.State = StateProgress
		inv.Message = message
	})
}
