package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

type JobType string

const (
	Process JobType = "process"
	Stop    JobType = "stop"
)

// Job is one unit handed to the pool: run the pipeline for a job id.
type Job struct {
	Type JobType
	ID   string
}

// ErrDispatcherBusy is returned when the intake queue is full.
var ErrDispatcherBusy = errors.New("dispatcher queue full")

// Dispatcher fans jobs out to the worker pool while guaranteeing at most one
// active run per job id. Re-deliveries of an id queue behind the active run
// instead of racing it.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	wake     chan struct{}

	mu        sync.Mutex
	pending   map[string][]Job
	ready     *list.List // round-robin queue of job ids with pending work
	positions map[string]*list.Element
	active    map[string]struct{}
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration, run func(Job)) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 16
	}
	d := &Dispatcher{
		jobQueue:  make(chan Job, queueSize),
		wake:      make(chan struct{}, 1),
		pending:   make(map[string][]Job),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		active:    make(map[string]struct{}),
	}
	d.pool = newJobChannelPool(minWorkers, maxWorkers, idleTimeout, d, run)

	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.loop()
	return d
}

// Enqueue hands a job to the dispatcher without blocking the caller.
func (d *Dispatcher) Enqueue(job Job) error {
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) loop() {
	for {
		if !d.dispatchOne() {
			// Nothing dispatchable: wait for new work or a finished run.
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.wake:
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[job.ID] = append(d.pending[job.ID], job)
	if _, queued := d.positions[job.ID]; queued {
		return
	}
	d.positions[job.ID] = d.ready.PushBack(job.ID)
}

// dispatchOne picks the first ready id that is not already running and hands
// its next job to a pool worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	for elem := d.ready.Front(); elem != nil; elem = elem.Next() {
		id := elem.Value.(string)
		if _, busy := d.active[id]; busy {
			continue
		}
		queue := d.pending[id]
		job := queue[0]
		queue = queue[1:]
		if len(queue) == 0 {
			delete(d.pending, id)
			d.ready.Remove(elem)
			delete(d.positions, id)
		} else {
			d.pending[id] = queue
			d.ready.MoveToBack(elem)
		}
		d.active[id] = struct{}{}
		d.mu.Unlock()

		workerChan := d.pool.acquire()
		debugLog("[dispatcher] assign job %s to worker", job.ID)
		workerChan <- job
		return true
	}
	d.mu.Unlock()
	return false
}

// finish clears the active mark for an id and pokes the loop in case later
// deliveries of the same id were held back.
func (d *Dispatcher) finish(jobID string) {
	d.mu.Lock()
	delete(d.active, jobID)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}
