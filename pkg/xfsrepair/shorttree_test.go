package xfsrepair

import (
	"context"
	"testing"

	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

func TestDecodeShortHeaderReadsFields(t *testing.T) {
	data := make([]byte, 16)
	putBE32(data[0:4], xfsformat.ABTBMagic)
	putBE16(data[4:6], 2)
	putBE16(data[6:8], 9)
	putBE32(data[8:12], 0xAB)
	putBE32(data[12:16], xfsformat.NullAGBlock)

	h := DecodeShortHeader(data, false)
	if h.Magic != xfsformat.ABTBMagic || h.Level != 2 || h.NumRecs != 9 {
		t.Errorf("decoded header = %+v", h)
	}
	if h.LeftSib != 0xAB || h.RightSib != xfsformat.NullAGBlock {
		t.Errorf("decoded sibling pointers = %x/%x", h.LeftSib, h.RightSib)
	}
}

func TestWalkShortTreeInvokesVisitorWithNodeBytes(t *testing.T) {
	geo := testGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)

	data := make([]byte, 16)
	putBE32(data[0:4], xfsformat.ABTBMagic)
	putBE16(data[4:6], 0)
	putBE16(data[6:8], 0)
	putBE32(data[8:12], xfsformat.NullAGBlock)
	putBE32(data[12:16], xfsformat.NullAGBlock)
	gw.putBlock(geo.AGBlockAddr(0, 5), data)

	var sawMagic uint32
	visitor := func(ctx context.Context, node *blockio.Buffer, level int, blockNum uint32, ag int, suspect bool, isRoot bool, acc interface{}) bool {
		h := DecodeShortHeader(node.Data, false)
		sawMagic = h.Magic
		return true
	}

	ok := WalkShortTree(context.Background(), gw, geo, 0, 5, 0, false, true, blockio.KindFreespace, xfsformat.ABTBMagic, visitor, nil)
	if !ok {
		t.Fatal("expected WalkShortTree to report visitor's true result")
	}
	if sawMagic != xfsformat.ABTBMagic {
		t.Errorf("visitor saw magic %x, want %x", sawMagic, xfsformat.ABTBMagic)
	}
}

func TestWalkShortTreeFailsOnCancelledContext(t *testing.T) {
	geo := testGeometry()
	gw := newMemGateway(int(geo.SectorSize), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	visitor := func(ctx context.Context, node *blockio.Buffer, level int, blockNum uint32, ag int, suspect bool, isRoot bool, acc interface{}) bool {
		t.Fatal("visitor must not run once the context is already cancelled")
		return false
	}

	if WalkShortTree(ctx, gw, geo, 0, 5, 0, false, true, blockio.KindFreespace, xfsformat.ABTBMagic, visitor, nil) {
		t.Fatal("expected false on a cancelled context")
	}
}
