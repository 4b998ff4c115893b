// Package errs holds the sentinel error values shared across region, ring
// and rpc, so callers can test with errors.Is instead of string matching.
package errs

import "errors"

var (
	// ErrNameInUse is returned by region.Create when the name is already mapped.
	ErrNameInUse = errors.New("shmipc: name already in use")

	// ErrNameNotFound is returned by region.Open when no region exists for name.
	ErrNameNotFound = errors.New("shmipc: name not found")

	// ErrOutOfRange is returned at construction time for an out-of-bounds
	// buffer_capacity or buffer_node_count.
	ErrOutOfRange = errors.New("shmipc: value out of range")

	// ErrShutdown is returned once the owner has torn the region down.
	ErrShutdown = errors.New("shmipc: shut down")

	// ErrAlreadyDisposed is returned by any operation on a disposed channel.
	ErrAlreadyDisposed = errors.New("shmipc: already disposed")

	// ErrMalformedFrame is returned internally when a packet header fails to parse.
	ErrMalformedFrame = errors.New("shmipc: malformed frame")
)
