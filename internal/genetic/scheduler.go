package genetic

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs action(i) for every i in [0, count). Each call must touch
// only data owned by index i; no ordering between indices is guaranteed.
type Scheduler interface {
	Run(count int, action func(i int))
}

// NewScheduler returns a parallel scheduler sized to GOMAXPROCS when parallel
// is true and a plain loop otherwise.
func NewScheduler(parallel bool) Scheduler {
	if parallel {
		return &parallelScheduler{workers: runtime.GOMAXPROCS(0)}
	}
	return sequentialScheduler{}
}

type sequentialScheduler struct{}

func (sequentialScheduler) Run(count int, action func(i int)) {
	for i := 0; i < count; i++ {
		action(i)
	}
}

type parallelScheduler struct {
	workers int
}

// Run splits [0, count) into contiguous ranges, one per worker. A panic in
// any worker is re-raised on the calling goroutine with its original value.
func (s *parallelScheduler) Run(count int, action func(i int)) {
	if count <= 0 {
		return
	}

	workers := min(max(s.workers, 1), count)
	if workers == 1 {
		sequentialScheduler{}.Run(count, action)
		return
	}

	chunk := (count + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < count; start += chunk {
		end := min(start+chunk, count)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &workerPanic{value: r}
				}
			}()
			for i := start; i < end; i++ {
				action(i)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if wp, ok := err.(*workerPanic); ok {
			panic(wp.value)
		}
		panic(err)
	}
}

// workerPanic carries a recovered panic value out of an errgroup worker.
type workerPanic struct {
	value any
}

func (p *workerPanic) Error() string {
	return fmt.Sprintf("scheduler worker panic: %v", p.value)
}
