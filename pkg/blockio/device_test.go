package blockio

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
)

type memDevice struct {
	data []byte
}

func (m *memDevice) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.data[off:]), nil
}

func (m *memDevice) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.data[off:], p), nil
}

func newMemDevice(sectors int) *memDevice {
	return &memDevice{data: make([]byte, sectors*SectorSize)}
}

func TestDeviceGatewayReadGoodMagic(t *testing.T) {
	dev := newMemDevice(4)
	binary.BigEndian.PutUint32(dev.data[0:4], 0xDEADBEEF)

	g := NewDeviceGateway(dev)
	buf, err := g.Read(context.Background(), Address{Sector: 0, NSectors: 1}, Ops{WantMagic: 0xDEADBEEF})
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if buf.Status != StatusOK {
		t.Errorf("expected StatusOK, got %v", buf.Status)
	}
}

func TestDeviceGatewayReadBadMagic(t *testing.T) {
	dev := newMemDevice(4)
	binary.BigEndian.PutUint32(dev.data[0:4], 0x11111111)

	g := NewDeviceGateway(dev)
	buf, err := g.Read(context.Background(), Address{Sector: 0, NSectors: 1}, Ops{WantMagic: 0xDEADBEEF})
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if buf.Status != StatusStructInvalid {
		t.Errorf("expected StatusStructInvalid, got %v", buf.Status)
	}
}

func TestDeviceGatewayReleaseWritebackRequiresModifyMode(t *testing.T) {
	dev := newMemDevice(1)
	g := NewDeviceGateway(dev)

	buf, err := g.Read(context.Background(), Address{Sector: 0, NSectors: 1}, Ops{})
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	buf.MarkDirty()

	if err := g.ReleaseWriteback(buf); err != ErrNotModifiable {
		t.Errorf("expected ErrNotModifiable, got %v", err)
	}
}

func TestDeviceGatewayWritebackPersists(t *testing.T) {
	dev := newMemDevice(1)
	g := NewModifiableDeviceGateway(dev, dev)

	buf, err := g.Read(context.Background(), Address{Sector: 0, NSectors: 1}, Ops{})
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}

	copy(buf.Data, []byte{1, 2, 3, 4})
	buf.MarkDirty()

	if err := g.ReleaseWriteback(buf); err != nil {
		t.Fatalf("unexpected writeback error: %v", err)
	}

	if !bytes.Equal(dev.data[0:4], []byte{1, 2, 3, 4}) {
		t.Errorf("expected writeback to persist modified bytes")
	}
}

func TestDeviceGatewayCancelledContext(t *testing.T) {
	dev := newMemDevice(1)
	g := NewDeviceGateway(dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Read(ctx, Address{Sector: 0, NSectors: 1}, Ops{})
	if err == nil {
		t.Errorf("expected cancelled context to abort the read")
	}
}
