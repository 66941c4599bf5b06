package gc

import "sync"

// CallbackID names a registered host callback.
type CallbackID uint64

// Callback binds a routine to the userdata passed back to it. Neither
// handle is owned by the registry.
type Callback struct {
	Routine  Handle
	UserData Handle
}

// Callbacks is a weak registry of host callbacks. An entry disappears as
// soon as the collector finalizes its routine or its userdata.
type Callbacks struct {
	mu      sync.Mutex
	next    CallbackID
	entries map[CallbackID]Callback
	byObj   map[Handle][]CallbackID
}

func newCallbacks() *Callbacks {
	return &Callbacks{
		entries: make(map[CallbackID]Callback),
		byObj:   make(map[Handle][]CallbackID),
	}
}

// Register records cb and returns its id.
func (r *Callbacks) Register(cb Callback) CallbackID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.entries[id] = cb
	r.byObj[cb.Routine] = append(r.byObj[cb.Routine], id)
	if !cb.UserData.IsNil() && cb.UserData != cb.Routine {
		r.byObj[cb.UserData] = append(r.byObj[cb.UserData], id)
	}
	return id
}

// Lookup returns the callback registered under id.
func (r *Callbacks) Lookup(id CallbackID) (Callback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.entries[id]
	return cb, ok
}

// Unregister removes id.
func (r *Callbacks) Unregister(id CallbackID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)
	r.unlink(cb.Routine, id)
	r.unlink(cb.UserData, id)
}

func (r *Callbacks) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Callbacks) unlink(h Handle, id CallbackID) {
	ids := r.byObj[h]
	for i, x := range ids {
		if x == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.byObj, h)
		return
	}
	r.byObj[h] = ids
}

// forget drops every entry that mentions h.
func (r *Callbacks) forget(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.byObj[h]
	if !ok {
		return
	}
	delete(r.byObj, h)
	for _, id := range ids {
		cb, ok := r.entries[id]
		if !ok {
			continue
		}
		delete(r.entries, id)
		if cb.Routine != h {
			r.unlink(cb.Routine, id)
		}
		if cb.UserData != h {
			r.unlink(cb.UserData, id)
		}
	}
}
