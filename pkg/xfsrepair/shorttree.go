package xfsrepair

import (
	"context"

	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

// ShortTreeVisitor inspects exactly one node of an AG-local B+tree and
// decides whether to descend further. Recursion is visitor-driven: the
// visitor calls WalkShortTree again for each child it wants to visit,
// with level-1. Different visitor kinds (freespace, allocation inode
// tree, free-inode tree) have different descent policies, which is why
// the walker itself never recurses on its own.
//
// acc is an opaque per-AG accumulator the visitor mutates; the walker
// never inspects it.
type ShortTreeVisitor func(ctx context.Context, node *blockio.Buffer, level int, blockNum uint32, ag int, suspect bool, isRoot bool, acc interface{}) bool

// WalkShortTree loads exactly one node — blockNum at the given level of
// AG ag's B+tree — and invokes visitor on it. It does not recurse; the
// visitor is responsible for calling WalkShortTree again for any
// children it decides to descend into.
func WalkShortTree(ctx context.Context, gw blockio.Gateway, geo *Geometry, ag int, blockNum uint32, level int, suspect bool, isRoot bool, kind blockio.Kind, wantMagic uint32, visitor ShortTreeVisitor, acc interface{}) bool {
	if err := ctx.Err(); err != nil {
		return false
	}

	addr := geo.AGBlockAddr(ag, blockNum)
	ops := blockio.Ops{Kind: kind, WantMagic: wantMagic, RequireCRC: geo.CRC}

	buf, err := gw.Read(ctx, addr, ops)
	if err != nil {
		// I/O failure on a subtree block: return failure for that
		// subtree. Nothing is logged here.
		return false
	}
	defer gw.Release(buf)

	nodeSuspect := suspect
	if buf.Status != blockio.StatusOK {
		nodeSuspect = true
	}

	return visitor(ctx, buf, level, blockNum, ag, nodeSuspect, isRoot, acc)
}

// DecodeShortHeader reads the common short-pointer B+tree header fields
// regardless of whether the block carries the CRC (v5) trailer.
func DecodeShortHeader(data []byte, crc bool) xfsformat.ShortBtreeHeader {
	var h xfsformat.ShortBtreeHeader
	h.Magic = beUint32(data[0:4])
	h.Level = beUint16(data[4:6])
	h.NumRecs = beUint16(data[6:8])
	h.LeftSib = beUint32(data[8:12])
	h.RightSib = beUint32(data[12:16])
	return h
}
