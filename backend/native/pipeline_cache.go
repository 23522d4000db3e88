//go:build !nogpu

package native

import (
	"encoding/binary"
	"hash"
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

// pipelineKey identifies one HAL pipeline variant: a registered pipeline
// combined with the layouts of the sets bound to it.
type pipelineKey struct {
	pipeline gpucore.Handle
	layout   uint64
}

type cachedPipeline struct {
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

// pipelineCache keeps the HAL pipelines built for registered pipelines.
//
// Entries evicted from the cache may still be referenced by a submitted
// command buffer, so they are retired and destroyed on the next Sync.
// pipelineCache is not safe for concurrent use; Device guards it.
type pipelineCache struct {
	device  hal.Device
	entries *lru.Cache[pipelineKey, *cachedPipeline]
	retired []*cachedPipeline

	hits   uint64
	misses uint64
}

func newPipelineCache(device hal.Device, size int) *pipelineCache {
	if size <= 0 {
		size = DefaultPipelineCacheSize
	}
	c := &pipelineCache{device: device}
	// Only fails for a non-positive size.
	c.entries, _ = lru.NewWithEvict(size, func(_ pipelineKey, p *cachedPipeline) {
		c.retired = append(c.retired, p)
	})
	return c
}

// getOrCreate returns the pipeline for p bound with the given set layouts,
// building and caching it on a miss.
func (c *pipelineCache) getOrCreate(h gpucore.Handle, p *pipelineEntry, layouts []hal.BindGroupLayout, signature uint64) (hal.ComputePipeline, error) {
	key := pipelineKey{pipeline: h, layout: signature}
	if cp, ok := c.entries.Get(key); ok {
		c.hits++
		return cp.pipeline, nil
	}
	c.misses++

	pl, err := c.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.shader.label,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return nil, err
	}
	pipeline, err := c.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  p.shader.label,
		Layout: pl,
		Compute: hal.ComputeState{
			Module:     p.shader.module,
			EntryPoint: p.entryPoint,
		},
	})
	if err != nil {
		c.device.DestroyPipelineLayout(pl)
		return nil, err
	}

	c.entries.Add(key, &cachedPipeline{layout: pl, pipeline: pipeline})
	return pipeline, nil
}

// removePipeline retires every variant of the registered pipeline h.
func (c *pipelineCache) removePipeline(h gpucore.Handle) {
	for _, key := range c.entries.Keys() {
		if key.pipeline == h {
			c.entries.Remove(key)
		}
	}
}

// purge retires every cached pipeline.
func (c *pipelineCache) purge() { c.entries.Purge() }

// destroyRetired destroys pipelines no submitted work references anymore.
func (c *pipelineCache) destroyRetired() {
	for _, p := range c.retired {
		c.device.DestroyComputePipeline(p.pipeline)
		c.device.DestroyPipelineLayout(p.layout)
	}
	c.retired = c.retired[:0]
}

// Len returns the number of cached pipeline variants.
func (c *pipelineCache) Len() int { return c.entries.Len() }

// Stats returns cache hit and miss counts.
func (c *pipelineCache) Stats() (hits, misses uint64) { return c.hits, c.misses }

// signatureOf hashes per-set layout signatures in set order.
func signatureOf(sets []uint64) uint64 {
	h := fnv.New64a()
	hashWriteUint32(h, uint32(len(sets)))
	for _, s := range sets {
		hashWriteUint64(h, s)
	}
	return h.Sum64()
}

// hashWriteUint32 writes a uint32 to the hash in little-endian format.
func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

// hashWriteUint64 writes a uint64 to the hash in little-endian format.
func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}
