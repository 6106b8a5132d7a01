package worker

import (
	"fmt"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{id: id, pool: pool, jobChannel: make(chan Job)}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for {
			if !w.pool.release(w.jobChannel) {
				return
			}
			job := <-w.jobChannel
			if job.kind == jobStop {
				return
			}
			job.finish(w.execute(job))
		}
	}()
}

func (w *Worker) execute(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker-%d: job panic: %v", w.id, r)
		}
	}()
	if job.ctx != nil {
		if err := job.ctx.Err(); err != nil {
			return err
		}
	}
	return job.fn(job.ctx)
}
