package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDispatcherBusy    = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	ErrJobCancelled      = errors.New("job cancelled")
)

// Task is the unit of work run for a key.
type Task func(ctx context.Context) error

// Job is a queued task for one key.
type Job struct {
	Key  string
	ctx  context.Context
	task Task
	done chan error
}

type keyQueue struct {
	jobs    []Job
	running bool
}

// Dispatcher runs tasks on a fixed set of workers. Tasks sharing a key run
// one at a time in submission order; keys take turns in LRU order.
type Dispatcher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queues    map[string]*keyQueue
	ready     *list.List // keys with queued jobs and nothing running
	positions map[string]*list.Element
	pending   int
	limit     int
	stopped   bool
	wg        sync.WaitGroup
}

func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		limit:     queueSize,
	}
	d.cond = sync.NewCond(&d.mu)
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work(i)
	}
	return d
}

// Submit queues task under key and returns a channel that receives its result.
func (d *Dispatcher) Submit(ctx context.Context, key string, task Task) (<-chan error, error) {
	if task == nil {
		return nil, errors.New("task is required")
	}
	job := Job{Key: key, ctx: ctx, task: task, done: make(chan error, 1)}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, ErrDispatcherStopped
	}
	if d.pending >= d.limit {
		return nil, ErrDispatcherBusy
	}
	q := d.queues[key]
	if q == nil {
		q = &keyQueue{}
		d.queues[key] = q
	}
	q.jobs = append(q.jobs, job)
	d.pending++
	if !q.running {
		if _, queued := d.positions[key]; !queued {
			d.positions[key] = d.ready.PushBack(key)
		}
	}
	d.cond.Signal()
	return job.done, nil
}

// Do submits task and waits for it to finish or for ctx to end.
func (d *Dispatcher) Do(ctx context.Context, key string, task Task) error {
	done, err := d.Submit(ctx, key, task)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelKey drops the queued jobs of key. A job already running is not interrupted.
func (d *Dispatcher) CancelKey(key string) {
	d.mu.Lock()
	q := d.queues[key]
	if q == nil {
		d.mu.Unlock()
		return
	}
	dropped := q.jobs
	q.jobs = nil
	d.pending -= len(dropped)
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
	if !q.running {
		delete(d.queues, key)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		job.done <- ErrJobCancelled
	}
	if len(dropped) > 0 {
		debugLog("[dispatcher] cancelled %d job(s) for key %s", len(dropped), key)
	}
}

// Stop rejects queued jobs and waits for running ones to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	var dropped []Job
	for key, q := range d.queues {
		dropped = append(dropped, q.jobs...)
		q.jobs = nil
		if !q.running {
			delete(d.queues, key)
		}
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.pending = 0
	d.mu.Unlock()
	d.cond.Broadcast()

	for _, job := range dropped {
		job.done <- ErrDispatcherStopped
	}
	d.wg.Wait()
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	for {
		job, ok := d.next()
		if !ok {
			return
		}
		debugLog("[dispatcher] worker-%d runs job for key %s", id, job.Key)
		job.done <- run(job)
		d.finish(job.Key)
	}
}

// next blocks until the least recently served ready key has a job.
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.ready.Len() == 0 && !d.stopped {
		d.cond.Wait()
	}
	if d.stopped {
		return Job{}, false
	}
	elem := d.ready.Front()
	key := elem.Value.(string)
	d.ready.Remove(elem)
	delete(d.positions, key)

	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.running = true
	d.pending--
	return job, true
}

func (d *Dispatcher) finish(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[key]
	if q == nil {
		return
	}
	q.running = false
	if len(q.jobs) == 0 {
		delete(d.queues, key)
		return
	}
	if !d.stopped {
		d.positions[key] = d.ready.PushBack(key)
		d.cond.Signal()
	}
}

func run(job Job) (err error) {
	if err := job.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task for key %s panicked: %v", job.Key, r)
		}
	}()
	return job.task(job.ctx)
}
