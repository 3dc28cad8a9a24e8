package persistence

import "sync"

type keyState struct {
	mu      sync.Mutex
	lastSeq uint64
}

// keyedWriter serializes writes per key and drops any write whose sequence
// number is not newer than the last one that succeeded.
type keyedWriter struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

func newKeyedWriter() *keyedWriter {
	return &keyedWriter{keys: make(map[string]*keyState)}
}

func (w *keyedWriter) state(key string) *keyState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.keys[key]
	if !ok {
		st = &keyState{}
		w.keys[key] = st
	}
	return st
}

// write runs fn under the key lock. It reports false without calling fn when
// a newer write already landed.
func (w *keyedWriter) write(key string, seq uint64, fn func() error) (bool, error) {
	st := w.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if seq <= st.lastSeq {
		return false, nil
	}
	if err := fn(); err != nil {
		return false, err
	}
	st.lastSeq = seq
	return true, nil
}

func (w *keyedWriter) forget(key string) {
	w.mu.Lock()
	delete(w.keys, key)
	w.mu.Unlock()
}
