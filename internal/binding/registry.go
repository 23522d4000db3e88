package binding

import "github.com/gogpu/compute/gpucore"

// Registry records the device resources created on behalf of one compute
// shader so they can be released together at teardown.
//
// Resources passed in by the caller are never tracked.
type Registry struct {
	handles []gpucore.Handle
}

// Track records h. Invalid handles are ignored.
func (r *Registry) Track(h gpucore.Handle) {
	if h.IsValid() {
		r.handles = append(r.handles, h)
	}
}

// Len returns the number of tracked handles.
func (r *Registry) Len() int { return len(r.handles) }

// Tracked returns a copy of the tracked handles in creation order.
func (r *Registry) Tracked() []gpucore.Handle {
	return append([]gpucore.Handle(nil), r.handles...)
}

// ReleaseAll frees every tracked handle in creation order and empties the
// registry. It returns the number of handles freed.
func (r *Registry) ReleaseAll(free ReleaseFunc) int {
	n := 0
	for _, h := range r.handles {
		if h.IsValid() {
			free(h)
			n++
		}
	}
	r.handles = nil
	return n
}
