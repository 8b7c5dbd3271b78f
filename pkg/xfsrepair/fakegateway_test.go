package xfsrepair

import (
	"context"

	"github.com/vorteil/xfsrepair/pkg/blockio"
)

// memGateway is an in-memory stand-in for a device-backed blockio.Gateway,
// used only by this package's tests so walkers and visitors can be
// exercised without a real filesystem image. It performs no magic/CRC
// verification of its own - device.go's own tests already cover that -
// it only hands back whatever bytes a test has staged at a sector,
// unless a test has asked it to simulate a read failure or a verifier
// rejection at a given sector via failAt/statusAt.
type memGateway struct {
	sectorSize int
	sectors    map[uint64][]byte
	modify     bool

	failAt   map[uint64]bool
	statusAt map[uint64]blockio.Status
}

func newMemGateway(sectorSize int, modify bool) *memGateway {
	return &memGateway{
		sectorSize: sectorSize,
		sectors:    make(map[uint64][]byte),
		modify:     modify,
		failAt:     make(map[uint64]bool),
		statusAt:   make(map[uint64]blockio.Status),
	}
}

// failRead makes any Read touching sector sec return ErrReadFailure.
func (g *memGateway) failRead(sec uint64) {
	g.failAt[sec] = true
}

// forceStatus makes any Read touching sector sec report the given
// Status instead of StatusOK.
func (g *memGateway) forceStatus(sec uint64, status blockio.Status) {
	g.statusAt[sec] = status
}

// putBlock stages a block's worth of bytes at a device address computed
// the same way Geometry derives it, zero-padding or truncating to fit.
func (g *memGateway) putBlock(addr blockio.Address, data []byte) {
	for i := uint32(0); i < addr.NSectors; i++ {
		start := int(i) * g.sectorSize
		buf := make([]byte, g.sectorSize)
		if start < len(data) {
			end := start + g.sectorSize
			if end > len(data) {
				end = len(data)
			}
			copy(buf, data[start:end])
		}
		g.sectors[addr.Sector+uint64(i)] = buf
	}
}

func (g *memGateway) Read(ctx context.Context, addr blockio.Address, ops blockio.Ops) (*blockio.Buffer, error) {
	status := blockio.StatusOK
	for i := uint32(0); i < addr.NSectors; i++ {
		s := addr.Sector + uint64(i)
		if g.failAt[s] {
			return nil, blockio.ErrReadFailure
		}
		if st, ok := g.statusAt[s]; ok {
			status = st
		}
	}

	data := make([]byte, int(addr.NSectors)*g.sectorSize)
	for i := uint32(0); i < addr.NSectors; i++ {
		sec, ok := g.sectors[addr.Sector+uint64(i)]
		if !ok {
			continue
		}
		copy(data[int(i)*g.sectorSize:], sec)
	}
	return &blockio.Buffer{Addr: addr, Data: data, Status: status}, nil
}

func (g *memGateway) Release(buf *blockio.Buffer) {}

func (g *memGateway) ReleaseWriteback(buf *blockio.Buffer) error {
	if !buf.Dirty() {
		return nil
	}
	g.putBlock(buf.Addr, buf.Data)
	return nil
}

func (g *memGateway) ModifyMode() bool { return g.modify }
