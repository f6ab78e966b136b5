package ggtext

import "errors"

// Package errors.
var (
	// ErrOutOfRange is returned when a query addresses a character index
	// beyond the current text or its built geometry.
	ErrOutOfRange = errors.New("ggtext: character index out of range")

	// ErrNoFont is returned when an operation requires a bound font but
	// the text object has none.
	ErrNoFont = errors.New("ggtext: text object has no font")

	// ErrNilDevice is returned when a Context is created without a
	// device or queue.
	ErrNilDevice = errors.New("ggtext: nil device or queue")

	// ErrContextClosed is returned when using a Context after Close.
	ErrContextClosed = errors.New("ggtext: context is closed")

	// ErrShaderSourceEmpty is returned when the embedded shader source
	// is missing (broken build).
	ErrShaderSourceEmpty = errors.New("ggtext: shader source is empty")
)
