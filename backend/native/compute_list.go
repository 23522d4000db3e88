//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

type opcode uint8

const (
	opBindPipeline opcode = iota
	opBindUniformSet
	opDispatch
)

type command struct {
	op      opcode
	handle  gpucore.Handle
	set     uint32
	x, y, z uint32
}

// computeList records commands and encodes them into one compute pass when
// ended. Pipelines are resolved at encode time, once the layouts of the
// bound sets are known.
type computeList struct {
	d     *Device
	cmds  []command
	ended bool
}

var _ gpucore.ComputeList = (*computeList)(nil)

func (l *computeList) BindPipeline(pipeline gpucore.Handle) {
	l.cmds = append(l.cmds, command{op: opBindPipeline, handle: pipeline})
}

func (l *computeList) BindUniformSet(uniformSet gpucore.Handle, set uint32) {
	l.cmds = append(l.cmds, command{op: opBindUniformSet, handle: uniformSet, set: set})
}

func (l *computeList) Dispatch(x, y, z uint32) {
	l.cmds = append(l.cmds, command{op: opDispatch, x: x, y: y, z: z})
}

// End encodes the recorded commands. The result replaces any list that was
// ended but never submitted.
func (l *computeList) End() error {
	if l.ended {
		return ErrListEnded
	}
	l.ended = true

	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "compute-list"})
	if err != nil {
		return fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("compute-list"); err != nil {
		return fmt.Errorf("native: begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "compute"})
	if err := d.encodeLocked(pass, l.cmds); err != nil {
		pass.End()
		encoder.DiscardEncoding()
		return err
	}
	pass.End()

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end encoding: %w", err)
	}
	if d.pending != nil {
		d.device.FreeCommandBuffer(d.pending)
	}
	d.pending = cmd
	return nil
}

// encodeLocked replays cmds into pass.
func (d *Device) encodeLocked(pass hal.ComputePassEncoder, cmds []command) error {
	var (
		pipelineHandle gpucore.Handle
		pipeline       *pipelineEntry
		bound          = make(map[uint32]*uniformSetEntry)
	)

	for _, c := range cmds {
		switch c.op {
		case opBindPipeline:
			p, ok := d.pipelines[c.handle]
			if !ok {
				return fmt.Errorf("%w: pipeline %d", ErrUnknownHandle, c.handle)
			}
			pipelineHandle, pipeline = c.handle, p

		case opBindUniformSet:
			us, ok := d.uniformSets[c.handle]
			if !ok {
				return fmt.Errorf("%w: uniform set %d", ErrUnknownHandle, c.handle)
			}
			bound[c.set] = us

		case opDispatch:
			if pipeline == nil {
				return errors.New("native: dispatch without a bound pipeline")
			}
			layouts, signature, err := d.pipelineLayoutsLocked(bound)
			if err != nil {
				return err
			}
			hp, err := d.cache.getOrCreate(pipelineHandle, pipeline, layouts, signature)
			if err != nil {
				return fmt.Errorf("native: create compute pipeline: %w", err)
			}
			pass.SetPipeline(hp)
			for i := range uint32(len(layouts)) {
				if us, ok := bound[i]; ok {
					pass.SetBindGroup(i, us.group, nil)
				}
			}
			pass.Dispatch(c.x, c.y, c.z)
		}
	}
	return nil
}

// pipelineLayoutsLocked returns the bind group layouts for sets 0..max of
// bound, filling unbound indices with an empty layout, and a signature
// identifying the combination.
func (d *Device) pipelineLayoutsLocked(bound map[uint32]*uniformSetEntry) ([]hal.BindGroupLayout, uint64, error) {
	n := uint32(0)
	for set := range bound {
		n = max(n, set+1)
	}

	layouts := make([]hal.BindGroupLayout, n)
	signatures := make([]uint64, n)
	for i := range n {
		if us, ok := bound[i]; ok {
			layouts[i] = us.layout
			signatures[i] = us.signature
			continue
		}
		empty, err := d.emptyLayoutLocked()
		if err != nil {
			return nil, 0, err
		}
		layouts[i] = empty
		signatures[i] = layoutSignature(nil)
	}
	return layouts, signatureOf(signatures), nil
}

func (d *Device) emptyLayoutLocked() (hal.BindGroupLayout, error) {
	if d.emptyLayout != nil {
		return d.emptyLayout, nil
	}
	bgl, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: "compute-empty-set"})
	if err != nil {
		return nil, fmt.Errorf("native: create empty bind group layout: %w", err)
	}
	d.emptyLayout = bgl
	return bgl, nil
}
