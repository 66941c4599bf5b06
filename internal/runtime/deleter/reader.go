package deleter

import "sync/atomic"

// Reader tracks the read sections of one lock-free reader. A Reader must
// not be shared by goroutines reading at the same time.
type Reader struct {
	d     *Deleter
	epoch atomic.Uint64
}

// NewReader registers a reader with d.
func (d *Deleter) NewReader() *Reader {
	r := &Reader{d: d}
	r.epoch.Store(inactive)
	d.mu.Lock()
	d.readers = append(d.readers, r)
	d.mu.Unlock()
	return r
}

// Close unregisters r.
func (r *Reader) Close() {
	r.epoch.Store(inactive)
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, x := range d.readers {
		if x == r {
			d.readers = append(d.readers[:i], d.readers[i+1:]...)
			return
		}
	}
}

// Enter starts a read section. Pointers loaded after Enter stay valid
// until Exit.
func (r *Reader) Enter() {
	r.epoch.Store(r.d.epoch.Load())
}

// Exit ends the read section.
func (r *Reader) Exit() {
	r.epoch.Store(inactive)
}

// Active reports whether r is inside a read section.
func (r *Reader) Active() bool {
	return r.epoch.Load() != inactive
}
