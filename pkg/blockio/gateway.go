// Package blockio is the narrow contract the scanner uses to fetch and
// release on-disk blocks. It owns the device handle and any CRC/verifier
// logic; the scanner only ever sees a Buffer and a Status.
package blockio

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies the structure a caller expects to find at an address,
// so the gateway's verifier can check magic/CRC fields without the
// scanner reaching back into device bytes itself.
type Kind int

const (
	KindSB Kind = iota
	KindAGF
	KindAGI
	KindAGFL
	KindFreespace
	KindInode
	KindExtent
)

func (k Kind) String() string {
	switch k {
	case KindSB:
		return "superblock"
	case KindAGF:
		return "agf"
	case KindAGI:
		return "agi"
	case KindAGFL:
		return "agfl"
	case KindFreespace:
		return "freespace"
	case KindInode:
		return "inode"
	case KindExtent:
		return "extent"
	default:
		return "unknown"
	}
}

// Ops is a verifier descriptor: what the caller believes it is reading,
// and (for CRC-bearing filesystems) the owner it expects the block to
// claim. DeviceGateway checks only WantMagic and, with RequireCRC, the
// checksum; it does not examine WantOwner or HasOwner.
type Ops struct {
	Kind        Kind
	WantMagic   uint32
	WantOwner   uint64 // AG number or inode number, meaning depends on Kind
	HasOwner    bool
	RequireCRC  bool
}

// Status reports the outcome of a successful Read; a non-nil error from
// Read always means the I/O itself failed, never a content problem.
type Status int

const (
	// StatusOK: block read, verifier happy.
	StatusOK Status = iota
	// StatusBadCRC: checksum did not match; warn, continue, writeback
	// is allowed to repair it in modify mode.
	StatusBadCRC
	// StatusStructInvalid: verifier's magic check failed (or the block
	// is too short to hold one); the caller must treat the subtree
	// rooted here as suspect.
	StatusStructInvalid
)

// Address is a device-relative block range.
type Address struct {
	Sector   uint64
	NSectors uint32
}

// Buffer is a borrowed view of one or more device sectors. The core
// indicates via Release/ReleaseWriteback whether it should be written
// back; Buffers are not safe for concurrent use.
type Buffer struct {
	Addr   Address
	Data   []byte
	Status Status
	dirty  bool
}

// MarkDirty flags the buffer as needing a writeback on release. Only
// meaningful when the gateway was opened in modify mode.
func (b *Buffer) MarkDirty() {
	b.dirty = true
}

// Dirty reports whether MarkDirty has been called since the buffer was
// fetched.
func (b *Buffer) Dirty() bool {
	return b.dirty
}

// ErrReadFailure is returned by Read when the underlying device I/O
// itself failed (short read, device error) — distinct from a Status
// that merely flags bad content in a block that was read successfully.
var ErrReadFailure = errors.New("blockio: read failure")

// ErrNotModifiable is returned by ReleaseWriteback when the gateway was
// not opened in modify mode; the core must never mutate a buffer under
// no-modify.
var ErrNotModifiable = errors.New("blockio: writeback attempted while not in modify mode")

// Gateway is the contract the scanner uses to fetch and release blocks.
// Implementations own the device and any CRC verification.
type Gateway interface {
	// Read fetches addr.NSectors sectors starting at addr.Sector,
	// verifying the content against ops. A non-nil error means the I/O failed;
	// the returned Buffer's Status otherwise reports content problems.
	Read(ctx context.Context, addr Address, ops Ops) (*Buffer, error)

	// Release returns a buffer to the gateway without writing it back,
	// discarding any local modifications.
	Release(buf *Buffer)

	// ReleaseWriteback returns a buffer to the gateway, persisting it
	// if Dirty() and the gateway is in modify mode. A dirty buffer
	// released to a gateway that is not modifiable yields
	// ErrNotModifiable; a clean buffer is simply released.
	ReleaseWriteback(buf *Buffer) error

	// ModifyMode reports whether writeback is permitted.
	ModifyMode() bool
}

// wrapReadErr gives read failures enough context to name the address
// that failed without the caller having to reconstruct it.
func wrapReadErr(addr Address, err error) error {
	return fmt.Errorf("%w: sector %d (+%d): %v", ErrReadFailure, addr.Sector, addr.NSectors, err)
}
