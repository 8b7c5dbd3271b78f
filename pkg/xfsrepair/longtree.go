package xfsrepair

import (
	"context"

	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

// MaxBtreeDepth bounds the cursor's per-level array; no extent tree
// this tool understands nests deeper than this.
const MaxBtreeDepth = 9

// LevelCursor is one level's sibling/key bookkeeping, carried across
// sibling calls at that level during a long-tree walk.
type LevelCursor struct {
	HaveBlock bool
	Block     uint64
	LeftSib   uint64
	RightSib  uint64
	FirstKey  uint64
	LastKey   uint64
}

// Cursor is the long-tree walker's fixed-depth, per-level sibling
// cursor: a small inline array sized to the maximum supported tree
// depth rather than a dynamic container.
type Cursor struct {
	Levels [MaxBtreeDepth]LevelCursor
}

// LongTreeResult is what a long-tree visitor reports back after
// inspecting one node: whether the subtree is still usable, and
// whether the buffer needs to be written back (forced true on bad CRC
// regardless of what the visitor itself decided).
type LongTreeResult struct {
	OK    bool
	Dirty bool
}

// LongTreeVisitor inspects one node of a file's extent tree. As with
// ShortTreeVisitor, recursion is visitor-driven: the walker loads
// exactly one node per call.
type LongTreeVisitor func(ctx context.Context, node *blockio.Buffer, level int, fsbno uint64, ino uint64, suspect bool, isRoot bool, cursor *Cursor, tot, nex *uint64, acc interface{}) LongTreeResult

// WalkLongTree loads the node at fsbno and invokes visitor on it. A
// false return (a failed read, a cancelled context, or a false
// LongTreeResult.OK) means the owning inode must be discarded. The buffer is released (written back
// if visitor or bad-CRC demands it and the gateway is modifiable)
// before returning.
func WalkLongTree(ctx context.Context, gw blockio.Gateway, geo *Geometry, fsbno uint64, level int, ino uint64, suspect bool, isRoot bool, magic uint32, visitor LongTreeVisitor, cursor *Cursor, tot, nex *uint64, acc interface{}) bool {
	if err := ctx.Err(); err != nil {
		return false
	}

	ops := blockio.Ops{Kind: blockio.KindExtent, WantMagic: magic, RequireCRC: geo.CRC}
	if geo.CRC {
		ops.HasOwner = true
		ops.WantOwner = ino
	}

	addr := geo.FSBlockAddr(fsbno)
	buf, err := gw.Read(ctx, addr, ops)
	if err != nil {
		return false
	}

	nodeSuspect := suspect
	badCRC := false
	if buf.Status == blockio.StatusBadCRC {
		badCRC = true
	}
	if buf.Status == blockio.StatusStructInvalid {
		nodeSuspect = true
	}

	res := visitor(ctx, buf, level, fsbno, ino, nodeSuspect, isRoot, cursor, tot, nex, acc)

	dirty := res.Dirty || badCRC
	if dirty {
		buf.MarkDirty()
	}

	if gw.ModifyMode() {
		_ = gw.ReleaseWriteback(buf)
	} else {
		gw.Release(buf)
	}

	return res.OK
}

// DecodeLongHeader reads the common long-pointer B+tree header fields,
// plus (when crc is set) the CRC-variant's self-address, UUID, and
// owner fields the extent-tree visitor cross-checks against the node's
// actual address, the filesystem's own UUID, and the owning inode.
func DecodeLongHeader(data []byte, crc bool) xfsformat.LongBtreeHeader {
	var h xfsformat.LongBtreeHeader
	h.Magic = beUint32(data[0:4])
	h.Level = beUint16(data[4:6])
	h.NumRecs = beUint16(data[6:8])
	h.LeftSib = beUint64(data[8:16])
	h.RightSib = beUint64(data[16:24])
	if crc {
		h.BlkNo = beUint64(data[24:32])
		copy(h.UUID[:], data[44:60])
		h.Owner = beUint64(data[60:68])
	}
	return h
}

// checkSibling validates that a non-first node's left sibling matches
// the previously visited node at this level, and that this node is
// that previous node's declared right sibling, then updates the
// cursor to this node. It returns false on a sibling mismatch
// (structural corruption).
func checkSibling(cur *Cursor, level int, fsbno uint64, leftSib, rightSib uint64, isFirstOnLevel bool) bool {
	lc := &cur.Levels[level]

	ok := true
	if isFirstOnLevel {
		if leftSib != xfsformat.NullBlock {
			ok = false
		}
	} else if lc.HaveBlock {
		if leftSib != lc.Block {
			ok = false
		}
		if fsbno != lc.RightSib {
			ok = false
		}
	}

	lc.HaveBlock = true
	lc.Block = fsbno
	lc.LeftSib = leftSib
	lc.RightSib = rightSib
	return ok
}
