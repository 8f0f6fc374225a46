package distributor

import (
	"sync"
	"time"
)

// waitWithTimeout waits on cond for up to d, waking spuriously if the timer
// fires first. Callers must re-check their predicate in a loop, exactly as
// with a normal sync.Cond.Wait — this only bounds how long a single wait
// call can block.
func waitWithTimeout(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, cond.Signal)
	defer timer.Stop()
	cond.Wait()
}
