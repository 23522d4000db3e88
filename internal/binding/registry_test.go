package binding

import (
	"slices"
	"testing"

	"github.com/gogpu/compute/gpucore"
)

func TestRegistryReleaseAll(t *testing.T) {
	var r Registry
	r.Track(3)
	r.Track(gpucore.InvalidHandle)
	r.Track(1)
	r.Track(2)

	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}

	var freed []gpucore.Handle
	n := r.ReleaseAll(func(h gpucore.Handle) { freed = append(freed, h) })
	if n != 3 {
		t.Errorf("ReleaseAll = %d, want 3", n)
	}
	if !slices.Equal(freed, []gpucore.Handle{3, 1, 2}) {
		t.Errorf("freed = %v, want creation order [3 1 2]", freed)
	}
	if r.Len() != 0 {
		t.Errorf("Len after ReleaseAll = %d", r.Len())
	}

	if n := r.ReleaseAll(func(h gpucore.Handle) { t.Errorf("double free of %d", h) }); n != 0 {
		t.Errorf("second ReleaseAll = %d, want 0", n)
	}
}

func TestRegistryTrackedIsCopy(t *testing.T) {
	var r Registry
	r.Track(7)
	got := r.Tracked()
	got[0] = 99
	if r.Tracked()[0] != 7 {
		t.Error("Tracked exposed internal storage")
	}
}
