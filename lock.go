package jsbridge

import (
	"runtime"
	"sync"
)

// reentrantLock serializes access to one execution context while letting host
// functions re-enter it from the goroutine that is running the script.
type reentrantLock struct {
	mu sync.Mutex

	holder uintptr    // goroutine ID of current lock holder (0 if unlocked)
	depth  int32      // recursion depth
	meta   sync.Mutex // protects holder and depth
}

func (l *reentrantLock) lock() {
	gid := getGoroutineID()

	l.meta.Lock()
	if l.holder == gid {
		l.depth++
		l.meta.Unlock()
		return
	}
	l.meta.Unlock()

	l.mu.Lock()

	l.meta.Lock()
	l.holder = gid
	l.depth = 1
	l.meta.Unlock()
}

func (l *reentrantLock) unlock() {
	l.meta.Lock()
	l.depth--
	if l.depth == 0 {
		l.holder = 0
		l.meta.Unlock()
		l.mu.Unlock()
	} else {
		l.meta.Unlock()
	}
}

// getGoroutineID parses the current goroutine number out of the stack header
// "goroutine 123 [running]:".
func getGoroutineID() uintptr {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uintptr
	for i := 10; i < n && buf[i] != ' '; i++ {
		id = id*10 + uintptr(buf[i]-'0')
	}
	return id
}
