// Package hammer runs a test body from many goroutines released at the same time, to surface
// races in code shared across goroutines.
package hammer

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
)

// Run calls test(p, n) for every n below N in each of P goroutines. The goroutines start the
// loop together once all of them are running. A panic in test fails t rather than the binary,
// so require failures from other goroutines are reported.
//
// Size P and N so Run takes about a tenth of a second, and scale down under -short:
//
//	P, N := 8, 1000
//	if testing.Short() {
//		P, N = 4, 100
//	}
//	hammer.Run(t, P, N, func(p, n int) { ... })
//	if t.Failed() {
//		return
//	}
func Run(t testing.TB, P, N int, test func(p, n int)) {
	t.Helper()
	// Fewer procs than goroutines forces them to switch cores.
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(max(P/2, 1)))

	var ready, done sync.WaitGroup
	start := make(chan struct{})
	ready.Add(P)
	done.Add(P)
	for p := 0; p < P; p++ {
		go func() {
			defer done.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Error(fmt.Sprint(r))
				}
			}()
			ready.Done()
			<-start
			for n := 0; n < N; n++ {
				test(p, n)
			}
		}()
	}
	ready.Wait()
	close(start)
	done.Wait()
}
