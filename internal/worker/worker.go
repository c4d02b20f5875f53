package worker

type poolWorker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool) *poolWorker {
	return &poolWorker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *poolWorker) start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.pool.run(job)
			w.pool.dispatcher.finish(job.ID)
			w.pool.release(w.jobChannel)
		}
	}()
}
