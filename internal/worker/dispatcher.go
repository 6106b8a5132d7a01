package worker

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"podiumgo/internal/logger"
)

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	log      *slog.Logger

	mu        sync.Mutex
	queues    map[int64]*userQueue // pending jobs per user
	ready     *list.List           // users with pending jobs, in turn order
	positions map[int64]*list.Element

	quit      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MinWorkers < 0 {
		cfg.MinWorkers = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	log = logger.OrNop(log)
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, log),
		jobQueue:  make(chan Job, cfg.QueueSize),
		log:       log,
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Submit queues fn for userID. The returned channel yields the job's error
// once it has run. A full queue fails fast with ErrDispatcherBusy.
func (d *Dispatcher) Submit(ctx context.Context, userID int64, fn func(ctx context.Context) error) (<-chan error, error) {
	job := Job{kind: jobRun, UserID: userID, ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case <-d.quit:
		return nil, ErrDispatcherClosed
	default:
	}
	select {
	case d.jobQueue <- job:
		return job.result, nil
	default:
		return nil, ErrDispatcherBusy
	}
}

// Do submits fn and waits for it.
func (d *Dispatcher) Do(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	res, err := d.Submit(ctx, userID, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops dispatching, fails queued jobs with ErrDispatcherClosed and
// retires the workers once they finish their current job.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.pool.close()
		<-d.done
		d.mu.Lock()
		for _, q := range d.queues {
			for _, job := range q.jobs {
				job.finish(ErrDispatcherClosed)
			}
		}
		d.queues = make(map[int64]*userQueue)
		d.ready.Init()
		d.positions = make(map[int64]*list.Element)
		d.mu.Unlock()
		for {
			select {
			case job := <-d.jobQueue:
				job.finish(ErrDispatcherClosed)
			default:
				return
			}
		}
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		job, ok := d.nextJob()
		if !ok {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		if !d.dispatch(job) {
			return
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

// CancelUser drops the queued, not yet dispatched jobs of userID.
func (d *Dispatcher) CancelUser(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q := d.queues[userID]; q != nil {
		for _, job := range q.jobs {
			job.finish(context.Canceled)
		}
	}
	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.UserID] = d.ready.PushBack(job.UserID)
}

// nextJob pops the front user's oldest job and sends that user to the back.
func (d *Dispatcher) nextJob() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

func (d *Dispatcher) dispatch(job Job) bool {
	ch := d.pool.acquire()
	if ch == nil {
		job.finish(ErrDispatcherClosed)
		return false
	}
	d.log.Debug("dispatch job", "user_id", job.UserID, "worker", d.pool.workerID(ch))
	ch <- job
	return true
}

// Stats is a snapshot of the pool for health output.
type Stats struct {
	Running int `json:"running"`
	Idle    int `json:"idle"`
	Queued  int `json:"queued"`
}

func (d *Dispatcher) Stats() Stats {
	running, idle := d.pool.stats()
	d.mu.Lock()
	queued := 0
	for _, q := range d.queues {
		queued += len(q.jobs)
	}
	d.mu.Unlock()
	return Stats{Running: running, Idle: idle, Queued: queued + len(d.jobQueue)}
}

func (s Stats) String() string {
	return fmt.Sprintf("running=%d idle=%d queued=%d", s.Running, s.Idle, s.Queued)
}
