package ggtext

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// Context owns the shared GPU objects for text rendering and drives
// the per-frame work phases. All registered work drains in a fixed
// order inside UpdateFrame:
//
//  1. geometry rebuilds (CPU only)
//  2. device syncs (buffer growth + uploads)
//  3. command re-recording, reported to the caller
//
// Later phases may be scheduled by earlier ones (a rebuild marks its
// object for sync, a buffer reallocation forces re-recording) but
// never the other way around, so one drain per frame suffices.
//
// Context and the objects created from it are confined to a single
// goroutine; the frame protocol is cooperative, not locked.
type Context struct {
	device hal.Device
	queue  hal.Queue

	pipeline *StripPipeline

	// Phase worklists, insertion ordered, deduplicated.
	updateList []*Text
	updateSet  map[*Text]struct{}
	syncList   []*Text
	syncSet    map[*Text]struct{}

	rerecord bool
	closed   bool
}

// NewContext creates a Context on the given device and queue. The
// strip pipeline is compiled eagerly so shader errors surface here
// rather than at first draw.
func NewContext(device hal.Device, queue hal.Queue, cfg PipelineConfig) (*Context, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	pipeline, err := NewStripPipeline(device, queue, cfg)
	if err != nil {
		return nil, fmt.Errorf("ggtext: create context: %w", err)
	}
	return &Context{
		device:    device,
		queue:     queue,
		pipeline:  pipeline,
		updateSet: make(map[*Text]struct{}),
		syncSet:   make(map[*Text]struct{}),
	}, nil
}

// NewContextFrom creates a Context from a host-provided DeviceHandle,
// typically a gogpu application context.
func NewContextFrom(handle DeviceHandle, cfg PipelineConfig) (*Context, error) {
	device, queue, err := resolveDeviceHandle(handle)
	if err != nil {
		return nil, err
	}
	return NewContext(device, queue, cfg)
}

// Device returns the underlying device.
func (c *Context) Device() hal.Device { return c.device }

// Queue returns the underlying queue.
func (c *Context) Queue() hal.Queue { return c.queue }

// Pipeline returns the shared strip pipeline.
func (c *Context) Pipeline() *StripPipeline { return c.pipeline }

// registerUpdate schedules t for a geometry rebuild in the next
// UpdateFrame. Duplicate registrations collapse.
func (c *Context) registerUpdate(t *Text) {
	if _, ok := c.updateSet[t]; ok {
		return
	}
	c.updateSet[t] = struct{}{}
	c.updateList = append(c.updateList, t)
}

// registerSync schedules t for a device sync in the next UpdateFrame.
func (c *Context) registerSync(t *Text) {
	if _, ok := c.syncSet[t]; ok {
		return
	}
	c.syncSet[t] = struct{}{}
	c.syncList = append(c.syncList, t)
}

// unregister drops t from all worklists. Called from Text.Destroy so a
// destroyed object is never rebuilt by a later frame.
func (c *Context) unregister(t *Text) {
	if _, ok := c.updateSet[t]; ok {
		delete(c.updateSet, t)
		c.updateList = removeText(c.updateList, t)
	}
	if _, ok := c.syncSet[t]; ok {
		delete(c.syncSet, t)
		c.syncList = removeText(c.syncList, t)
	}
}

// Rerecord requests command buffer re-recording for the next frame,
// independent of any buffer reallocation.
func (c *Context) Rerecord() { c.rerecord = true }

// UpdateFrame drains the pending work in phase order and reports
// whether command buffers referencing ggtext resources must be
// re-recorded. On error the remaining work stays queued for the next
// frame.
func (c *Context) UpdateFrame() (bool, error) {
	if c.closed {
		return false, ErrContextClosed
	}

	// Phase 1: geometry. Rebuilds may cascade more rebuilds through an
	// atlas rebake; the loop runs until the list is quiet.
	for len(c.updateList) > 0 {
		t := c.updateList[0]
		c.updateList = c.updateList[1:]
		delete(c.updateSet, t)
		t.RebuildGeometry()
	}

	// Phase 2: device buffers.
	for len(c.syncList) > 0 {
		t := c.syncList[0]
		c.syncList = c.syncList[1:]
		delete(c.syncSet, t)
		rerecord, err := t.SyncDevice()
		if err != nil {
			// Put it back; the caller may retry after freeing memory.
			c.registerSync(t)
			return false, err
		}
		c.rerecord = c.rerecord || rerecord
	}

	rerecord := c.rerecord
	c.rerecord = false
	return rerecord, nil
}

// Close releases the pipeline. Text objects must be destroyed by their
// owners; Close does not reach into them.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.updateList, c.syncList = nil, nil
	c.updateSet, c.syncSet = nil, nil
	if c.pipeline != nil {
		c.pipeline.Destroy()
		c.pipeline = nil
	}
}

func removeText(list []*Text, t *Text) []*Text {
	for i, v := range list {
		if v == t {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
