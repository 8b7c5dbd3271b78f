package blockio

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"
)

// SectorSize is the fixed on-disk sector size this reference gateway
// assumes; real images may carry a different value in the superblock,
// but the scanner always addresses the device in units of sectors.
const SectorSize = 512

// DeviceGateway is a reference blockio.Gateway backed by an
// io.ReaderAt / io.WriterAt device image. It performs no caching beyond
// the buffer the caller currently holds, which matches the core's
// borrow-for-one-visit usage pattern.
type DeviceGateway struct {
	r io.ReaderAt
	w io.WriterAt // nil unless modify mode

	mu sync.Mutex // serializes device access; CRC verification is pure
}

// NewDeviceGateway opens a read-only gateway.
func NewDeviceGateway(r io.ReaderAt) *DeviceGateway {
	return &DeviceGateway{r: r}
}

// NewModifiableDeviceGateway opens a gateway permitted to write back
// dirty buffers.
func NewModifiableDeviceGateway(r io.ReaderAt, w io.WriterAt) *DeviceGateway {
	return &DeviceGateway{r: r, w: w}
}

func (g *DeviceGateway) ModifyMode() bool {
	return g.w != nil
}

func (g *DeviceGateway) Read(ctx context.Context, addr Address, ops Ops) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := int64(addr.NSectors) * SectorSize
	data := make([]byte, size)

	g.mu.Lock()
	_, err := g.r.ReadAt(data, int64(addr.Sector)*SectorSize)
	g.mu.Unlock()
	if err != nil {
		return nil, wrapReadErr(addr, err)
	}

	buf := &Buffer{Addr: addr, Data: data, Status: StatusOK}
	buf.Status = verify(data, ops)
	return buf, nil
}

func (g *DeviceGateway) Release(buf *Buffer) {
	// Reference implementation holds no cache; nothing to do beyond
	// letting the buffer be garbage collected.
}

func (g *DeviceGateway) ReleaseWriteback(buf *Buffer) error {
	if !buf.Dirty() {
		g.Release(buf)
		return nil
	}
	if g.w == nil {
		return ErrNotModifiable
	}

	g.mu.Lock()
	_, err := g.w.WriteAt(buf.Data, int64(buf.Addr.Sector)*SectorSize)
	g.mu.Unlock()
	return err
}

// verify runs the magic and, when requested, CRC checks a caller's Ops
// describes. Blocks shorter than a magic-number field are treated as
// structurally invalid rather than panicking.
func verify(data []byte, ops Ops) Status {
	if len(data) < 4 {
		return StatusStructInvalid
	}

	if ops.WantMagic != 0 {
		got := binary.BigEndian.Uint32(data[0:4])
		if got != ops.WantMagic {
			return StatusStructInvalid
		}
	}

	if ops.RequireCRC {
		if !checkCRC(data, crcOffset(ops.Kind)) {
			return StatusBadCRC
		}
	}

	return StatusOK
}

// crcOffset is the byte offset of the CRC field within a CRC-bearing
// header, which differs between the short-pointer (AG-local) and
// long-pointer (per-inode extent) B+tree layouts: both place it right
// after an 8-byte block number and an 8-byte LSN, but the short header
// that precedes those is 16 bytes while the long header is 24.
func crcOffset(kind Kind) int {
	if kind == KindExtent {
		return 40
	}
	return 32
}

func checkCRC(data []byte, off int) bool {
	if len(data) < off+4 {
		return false
	}
	want := binary.LittleEndian.Uint32(data[off : off+4])

	table := crc32.MakeTable(crc32.Castagnoli)
	h := crc32.New(table)
	_, _ = h.Write(data[:off])
	_, _ = h.Write(make([]byte, 4))
	_, _ = h.Write(data[off+4:])

	return ^h.Sum32() == want
}
