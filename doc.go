// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package ggtext renders text as GPU vertex geometry backed by a glyph
// atlas.
//
// A Text object keeps a CPU-side geometry cache (six vertices per
// character, forming a degenerate triangle strip) and mirrors it into
// two growable device buffers. The position buffer embeds an indirect
// draw descriptor in its first 16 bytes, so visibility toggles never
// force command buffer re-recording: the descriptor's vertex count is
// rewritten instead.
//
// Work is split into ordered phases driven by a Context:
//
//	RebuildGeometry  CPU-only: layout the characters against the atlas
//	SyncDevice       GPU upload: grow buffers, write descriptor + caches
//	RecordDraw       record into a render pass (only when required)
//
// Glyph metrics and UVs come from a GlyphSource. The fontatlas
// subpackage provides a concrete one built on go-text/typesetting;
// any other atlas can be plugged in by implementing the interface.
package ggtext
