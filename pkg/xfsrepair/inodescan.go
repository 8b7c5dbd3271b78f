package xfsrepair

import (
	"context"

	"github.com/vorteil/xfsrepair/internal/rlog"
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
)

// inodeCoreSize is the on-disk size of the fixed inode core this tool
// decodes; the literal area (data fork content, or the broot for
// btree-format forks) immediately follows it.
const inodeCoreSize = 100

// scanInodeDataFork reads the on-disk inode at (ag, agIno), decodes its
// core, and walks its data fork when the format warrants it: an inline
// extent list is claimed directly, a btree-format fork's in-inode root
// is followed into ScanExtentTree. Device, local-data, and attribute
// forks are out of scope; this only accounts for the blocks a data
// fork's extents occupy.
func scanInodeDataFork(ctx context.Context, gw blockio.Gateway, geo *Geometry, sm *StateMap, log rlog.Logger, ag int, agIno uint32, absIno uint64, modifyMode bool) bool {
	ipb := geo.InodesPerBlock()
	if ipb == 0 {
		return false
	}
	block := agIno / ipb
	offset := int(agIno%ipb) * int(geo.InodeSize)

	addr := geo.AGBlockAddr(ag, block)
	buf, err := gw.Read(ctx, addr, blockio.Ops{Kind: blockio.KindInode, RequireCRC: false})
	if err != nil {
		log.Warnf("inode %d: failed to read inode block: %v", absIno, err)
		return false
	}
	defer gw.Release(buf)

	if offset+inodeCoreSize > len(buf.Data) {
		log.Warnf("inode %d: inode offset out of range within its block", absIno)
		return false
	}
	data := buf.Data[offset:]
	core := decodeInodeCore(data)
	if core.Magic != xfsformat.InodeMagic {
		log.Warnf("inode %d: bad inode magic", absIno)
		return false
	}

	switch core.Format {
	case xfsformat.InodeFormatExtents:
		return scanInlineExtents(data[inodeCoreSize:], int(core.NExtents), geo, sm, log, absIno)
	case xfsformat.InodeFormatBTree:
		return scanBTreeFork(ctx, gw, geo, sm, log, data[inodeCoreSize:], absIno, modifyMode)
	default:
		// Device and local-data formats hold no extents to account for.
		return true
	}
}

func decodeInodeCore(data []byte) xfsformat.InodeCore {
	var c xfsformat.InodeCore
	c.Magic = beUint16(data[0:2])
	c.Mode = beUint16(data[2:4])
	c.Version = data[4]
	c.Format = data[5]
	c.Onlink = beUint16(data[6:8])
	c.UID = beUint32(data[8:12])
	c.GID = beUint32(data[12:16])
	c.Nlink = beUint32(data[16:20])
	c.ProjID = beUint16(data[20:22])
	c.FlushIter = beUint16(data[30:32])
	c.Size = int64(beUint64(data[56:64]))
	c.NBlocks = beUint64(data[64:72])
	c.ExtSize = beUint32(data[72:76])
	c.NExtents = int32(beUint32(data[76:80]))
	c.ANExtents = int16(beUint16(data[80:82]))
	c.ForkOff = data[82]
	c.Gen = beUint32(data[92:96])
	c.NextUnlinked = beUint32(data[96:100])
	return c
}

// scanInlineExtents claims the blocks listed in an extents-format data
// fork stored directly in the inode's literal area.
func scanInlineExtents(data []byte, nExtents int, geo *Geometry, sm *StateMap, log rlog.Logger, ino uint64) bool {
	ok := true
	for i := 0; i < nExtents; i++ {
		off := i * xfsformat.BmbtRecSize
		if off+xfsformat.BmbtRecSize > len(data) {
			log.Warnf("inode %d: extent record %d runs past the literal area", ino, i)
			ok = false
			break
		}
		rec := xfsformat.DecodeBmbtRec(data[off : off+xfsformat.BmbtRecSize])
		ag, agbno := geo.DecomposeFSBlock(rec.StartBlock)
		for _, c := range sm.SetExtent(ag, agbno, rec.BlockCount, Inuse) {
			log.Warnf("ag %d: block %d multiply claimed (was %s), inode %d's inline extent list also claims it", ag, c.Block, c.Claimant, ino)
		}
	}
	return ok
}

// scanBTreeFork follows a btree-format data fork's in-inode root
// record into the ordinary long-tree walk.
func scanBTreeFork(ctx context.Context, gw blockio.Gateway, geo *Geometry, sm *StateMap, log rlog.Logger, broot []byte, ino uint64, modifyMode bool) bool {
	if len(broot) < 4 {
		return false
	}
	level := beUint16(broot[0:2])
	numRecs := int(beUint16(broot[2:4]))

	const keySize = 8
	const ptrSize = 8
	keysOff := 4
	ptrsOff := keysOff + numRecs*keySize
	if ptrsOff+numRecs*ptrSize > len(broot) {
		log.Warnf("inode %d: btree-format fork root truncated", ino)
		return false
	}

	ok := true
	for i := 0; i < numRecs; i++ {
		ptr := beUint64(broot[ptrsOff+i*ptrSize : ptrsOff+i*ptrSize+ptrSize])
		childOK, _, _ := ScanExtentTree(ctx, gw, geo, sm, log, ptr, int(level), ino, modifyMode)
		if !childOK {
			ok = false
		}
	}
	return ok
}
