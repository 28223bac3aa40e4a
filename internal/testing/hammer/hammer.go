// Package hammer runs a test body concurrently, to surface data races under -race.
package hammer

import (
	"runtime"
	"sync"
	"testing"
)

// Hammer runs test in P goroutines, each looping N times. Keep P*N small enough that Run finishes in about a tenth of
// a second, and lower both under testing.Short:
//
//	P, N := 8, 100
//	if testing.Short() {
//		P, N = 4, 10
//	}
//	hammer.NewHammer(t, P, N).Run(func(p, n int) {
//		// p and n identify the goroutine and iteration.
//	}, nil)
//	if t.Failed() {
//		return
//	}
type Hammer interface {
	// Run blocks until every goroutine finished. onRunning, if non-nil, is called once all goroutines started, just
	// before they are released together.
	Run(test func(p, n int), onRunning func())
}

func NewHammer(t *testing.T, P, N int) Hammer {
	return &hammer{t: t, p: P, n: N}
}

type hammer struct {
	t    *testing.T
	p, n int
}

func (h *hammer) Run(test func(p, n int), onRunning func()) {
	// Fewer procs than goroutines forces them to switch cores.
	procs := h.p / 2
	if procs < 1 {
		procs = 1
	}
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(procs))

	var started, finished sync.WaitGroup
	release := make(chan struct{})
	started.Add(h.p)
	finished.Add(h.p)
	for p := 0; p < h.p; p++ {
		p := p
		go func() {
			defer finished.Done()
			// A panic here would crash the test binary, so report it as a failure instead.
			defer func() {
				if recovered := recover(); recovered != nil {
					h.t.Error(recovered)
				}
			}()
			started.Done()
			<-release
			for n := 0; n < h.n; n++ {
				test(p, n)
			}
		}()
	}

	started.Wait()
	if onRunning != nil {
		onRunning()
	}
	close(release)
	finished.Wait()
}
