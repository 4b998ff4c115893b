// Package region maps a named, fixed-size block of memory into two or more
// processes and publishes the small self-describing header the rest of the
// toolkit builds on: total size and a one-way shutdown flag.
//
// Regions live under /dev/shm by default, the same backing store the
// teacher's shm.Matrix and shm.RingBuffer used, overridable with the
// SHMIPC_DIR environment variable (set it to a tmpfs path on non-Linux
// hosts, or to a per-test temp dir in tests).
package region

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/alephtx/shmipc/errs"
)

// HeaderSize is the fixed 16-byte on-disk header: 8 bytes total size, 4
// bytes shutdown flag, 4 bytes reserved padding (spec §3.1).
const HeaderSize = 16

const (
	offSize     = 0
	offShutdown = 8
	// offPadding = 12, reserved, always zero.
)

// Region is a mapped shared-memory block plus its header.
type Region struct {
	name  string
	file  *os.File
	data  []byte // full mapping, header included
	owner bool
}

func shmPath(name string) string {
	dir := os.Getenv("SHMIPC_DIR")
	if dir == "" {
		dir = "/dev/shm"
	}
	return filepath.Join(dir, name)
}

// Create maps a brand new region of size+HeaderSize bytes and becomes its
// owner. It fails with errs.ErrNameInUse if name is already mapped.
func Create(name string, size int64) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("region: create %s: %w: size must be positive", name, errs.ErrOutOfRange)
	}
	path := shmPath(name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("region: create %s: %w", name, errs.ErrNameInUse)
		}
		return nil, fmt.Errorf("region: create %s: %w", name, err)
	}

	total := size + HeaderSize
	if err := f.Truncate(total); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("region: truncate %s: %w", name, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("region: mmap %s: %w", name, err)
	}

	binary.LittleEndian.PutUint64(data[offSize:], uint64(total))
	binary.LittleEndian.PutUint32(data[offShutdown:], 0)

	return &Region{name: name, file: f, data: data, owner: true}, nil
}

// Open maps an existing region created by a peer's Create call. It fails
// with errs.ErrNameNotFound if no such region exists.
func Open(name string) (*Region, error) {
	path := shmPath(name)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("region: open %s: %w", name, errs.ErrNameNotFound)
		}
		return nil, fmt.Errorf("region: open %s: %w", name, err)
	}

	// Peek the header first to discover the full mapped size (spec §4.1 open).
	hdr := make([]byte, HeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("region: read header %s: %w", name, err)
	}
	total := binary.LittleEndian.Uint64(hdr[offSize:])

	data, err := unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("region: mmap %s: %w", name, err)
	}

	return &Region{name: name, file: f, data: data, owner: false}, nil
}

// Name returns the region's shared name.
func (r *Region) Name() string { return r.name }

// Size returns the total mapped size, including the header.
func (r *Region) Size() int64 {
	return int64(binary.LittleEndian.Uint64(r.data[offSize:]))
}

// RawBase returns the mapped bytes immediately following the header — the
// base address the Ring (and anyone else) lays its own structures over.
func (r *Region) RawBase() []byte {
	return r.data[HeaderSize:]
}

// MarkShutdown atomically publishes the shutdown flag. Only meaningful on
// the owner, but harmless if called by a peer.
func (r *Region) MarkShutdown() {
	storeShutdown(r.data[offShutdown:], 1)
}

// IsShutdown acquire-loads the shutdown flag.
func (r *Region) IsShutdown() bool {
	return loadShutdown(r.data[offShutdown:]) != 0
}

// IsOwner reports whether this handle created the region (vs opened it).
func (r *Region) IsOwner() bool { return r.owner }

// Close unmaps the region and closes the backing file descriptor. The
// owner additionally unlinks the /dev/shm entry, so the name is free for a
// new Create at once; peers that still map the old region keep their
// mapping until they close it themselves.
func (r *Region) Close() error {
	err := unix.Munmap(r.data)
	cerr := r.file.Close()
	if r.owner {
		os.Remove(shmPath(r.name))
	}
	if err != nil {
		return err
	}
	return cerr
}
