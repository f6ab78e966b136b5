package ggtext

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// indirectArgsSize is the byte size of the draw descriptor embedded at
// the start of every position buffer.
const indirectArgsSize = 16

// minBufferAllocation is the smallest device allocation made for a
// geometry buffer. Keeps empty texts from thrashing tiny allocations.
const minBufferAllocation = 32

// uploadTimeout bounds the fence wait after a staged device-local copy.
const uploadTimeout = 5 * time.Second

// DrawIndirectArgs matches the wire layout read by DrawIndirect.
type DrawIndirectArgs struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

// encode writes the descriptor into buf in GPU byte order.
func (a DrawIndirectArgs) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], a.VertexCount)
	binary.LittleEndian.PutUint32(buf[4:8], a.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:12], a.FirstVertex)
	binary.LittleEndian.PutUint32(buf[12:16], a.FirstInstance)
}

// deviceBuffer is a growable vertex buffer with indirect-draw usage.
// Capacity only ever grows: when the logical size exceeds the current
// allocation the buffer is reallocated to max(2x the requirement,
// minBufferAllocation) and the old allocation is destroyed. Shrinking
// the logical size reuses the existing allocation.
type deviceBuffer struct {
	label string

	buf      hal.Buffer
	capacity uint64
	size     uint64
}

// ensure makes the buffer hold at least needed bytes, reallocating if
// the current capacity is too small. It returns true when a new
// allocation was made, in which case previously recorded command
// buffers reference a destroyed buffer and must be re-recorded.
func (b *deviceBuffer) ensure(device hal.Device, needed uint64, deviceLocal bool) (bool, error) {
	if b.buf != nil && needed <= b.capacity {
		b.size = needed
		return false, nil
	}

	capacity := needed * 2
	if capacity < minBufferAllocation {
		capacity = minBufferAllocation
	}

	usage := gputypes.BufferUsageVertex | gputypes.BufferUsageIndirect | gputypes.BufferUsageCopyDst
	if !deviceLocal {
		usage |= gputypes.BufferUsageMapWrite
	}

	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label,
		Size:  capacity,
		Usage: usage,
	})
	if err != nil {
		return false, fmt.Errorf("ggtext: grow %s to %d bytes: %w", b.label, capacity, err)
	}

	if b.buf != nil {
		device.DestroyBuffer(b.buf)
	}
	b.buf = buf
	b.capacity = capacity
	b.size = needed

	slogger().Debug("ggtext: buffer grown", "label", b.label, "capacity", capacity, "size", needed)
	return true, nil
}

// upload writes data into the buffer at offset 0. Host-visible buffers
// take the direct queue write path; device-local buffers go through a
// transient staging buffer and a fenced copy submission.
func (b *deviceBuffer) upload(device hal.Device, queue hal.Queue, deviceLocal bool, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !deviceLocal {
		queue.WriteBuffer(b.buf, 0, data)
		return nil
	}
	return b.uploadStaged(device, queue, data)
}

// uploadStaged copies data into a device-local buffer via a staging
// buffer and a blocking fenced submission.
func (b *deviceBuffer) uploadStaged(device hal.Device, queue hal.Queue, data []byte) error {
	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label + "_staging",
		Size:  uint64(len(data)),
		Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("ggtext: create staging for %s: %w", b.label, err)
	}
	defer device.DestroyBuffer(staging)

	queue.WriteBuffer(staging, 0, data)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: b.label + "_upload"})
	if err != nil {
		return fmt.Errorf("ggtext: create upload encoder: %w", err)
	}
	if err := encoder.BeginEncoding(b.label + "_upload"); err != nil {
		return fmt.Errorf("ggtext: begin upload encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(staging, b.buf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: uint64(len(data))},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("ggtext: end upload encoding: %w", err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("ggtext: create upload fence: %w", err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("ggtext: submit upload for %s: %w", b.label, err)
	}
	ok, err := device.Wait(fence, 1, uploadTimeout)
	if err != nil {
		return fmt.Errorf("ggtext: wait for %s upload: %w", b.label, err)
	}
	if !ok {
		return fmt.Errorf("ggtext: %s upload timed out after %s", b.label, uploadTimeout)
	}
	return nil
}

// destroy releases the device allocation. Safe to call repeatedly.
func (b *deviceBuffer) destroy(device hal.Device) {
	if b.buf == nil {
		return
	}
	device.DestroyBuffer(b.buf)
	b.buf = nil
	b.capacity = 0
	b.size = 0
}

// ---- Serialization ----

// buildPositionData serializes the indirect draw descriptor followed
// by the position cache. Layout: 16 descriptor bytes, then 8 bytes
// (two float32) per vertex.
func buildPositionData(args DrawIndirectArgs, positions []Point) []byte {
	data := make([]byte, indirectArgsSize+len(positions)*8)
	args.encode(data)
	writePoints(data[indirectArgsSize:], positions)
	return data
}

// buildUVData serializes the UV cache, 8 bytes per vertex. An empty
// cache yields the descriptor bytes instead: the buffer always holds
// a valid allocation to bind, and validation tooling can inspect the
// descriptor through either vertex buffer.
func buildUVData(args DrawIndirectArgs, uvs []Point) []byte {
	if len(uvs) == 0 {
		data := make([]byte, indirectArgsSize)
		args.encode(data)
		return data
	}
	data := make([]byte, len(uvs)*8)
	writePoints(data, uvs)
	return data
}

func writePoints(buf []byte, pts []Point) {
	off := 0
	for _, p := range pts {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(p.Y))
		off += 8
	}
}
