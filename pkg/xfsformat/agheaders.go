package xfsformat

import "encoding/binary"

// DecodeSuperBlock decodes the fixed-size portion of a superblock
// common to both CRC and non-CRC filesystems; fields past Features2
// (log-incompat bits, the v5 metadata UUID, and so on) are not modeled
// since nothing in this tool consults them.
func DecodeSuperBlock(b []byte) SuperBlock {
	be := binary.BigEndian
	var sb SuperBlock
	sb.MagicNumber = be.Uint32(b[0:4])
	sb.BlockSize = be.Uint32(b[4:8])
	sb.DataBlocks = be.Uint64(b[8:16])
	sb.RealtimeBlocks = be.Uint64(b[16:24])
	sb.RealtimeExtents = be.Uint64(b[24:32])
	copy(sb.UUID[:], b[32:48])
	sb.LogStart = be.Uint64(b[48:56])
	sb.RootInode = be.Uint64(b[56:64])
	sb.RealtimeBitmapInode = be.Uint64(b[64:72])
	sb.RealtimeSummaryInode = be.Uint64(b[72:80])
	sb.RealtimeExtentBlocks = be.Uint32(b[80:84])
	sb.AGBlocks = be.Uint32(b[84:88])
	sb.AGCount = be.Uint32(b[88:92])
	sb.RealtimeBitmapBlocks = be.Uint32(b[92:96])
	sb.LogBlocks = be.Uint32(b[96:100])
	sb.VersionNum = be.Uint16(b[100:102])
	sb.SectorSize = be.Uint16(b[102:104])
	sb.InodeSize = be.Uint16(b[104:106])
	sb.InodesPerBlock = be.Uint16(b[106:108])
	copy(sb.FSName[:], b[108:120])
	sb.BlockSizeLogarithmic = b[120]
	sb.SectorSizeLogarithmic = b[121]
	sb.InodeSizeLogarithmic = b[122]
	sb.InodesPerBlockLogarithmic = b[123]
	sb.AGBlocksLogarithmic = b[124]
	sb.RealtimeExtentBlocksLogarithmic = b[125]
	sb.InProgress = b[126]
	sb.InodesMaxPercentage = b[127]
	sb.InodesAllocated = be.Uint64(b[128:136])
	sb.InodesFree = be.Uint64(b[136:144])
	sb.DataFree = be.Uint64(b[144:152])
	sb.RealtimeExtentsFree = be.Uint64(b[152:160])
	sb.UserQuotasInode = be.Uint64(b[160:168])
	sb.GroupQuotasInode = be.Uint64(b[168:176])
	sb.QuotaFlags = be.Uint16(b[176:178])
	sb.MiscFlags = b[178]
	sb.SharedVN = b[179]
	sb.InodeChunkAlignment = be.Uint32(b[180:184])
	sb.StripeUnitBlocks = be.Uint32(b[184:188])
	sb.StripeWidthBlocks = be.Uint32(b[188:192])
	sb.DirectoryBlocksLogarithmic = b[192]
	sb.LogSectorSizeLogarithmic = b[193]
	sb.LogSectorSize = be.Uint16(b[194:196])
	sb.LogStripeUnit = be.Uint32(b[196:200])
	sb.MoreFeatures = be.Uint32(b[200:204])
	sb.BadFeatures = be.Uint32(b[204:208])
	if len(b) >= 212 {
		sb.Features2 = be.Uint32(b[208:212])
	}
	return sb
}

// DecodeAGF decodes an AG's freespace header.
func DecodeAGF(b []byte) AGF {
	be := binary.BigEndian
	var agf AGF
	agf.Magic = be.Uint32(b[0:4])
	agf.Version = be.Uint32(b[4:8])
	agf.SeqNo = be.Uint32(b[8:12])
	agf.Length = be.Uint32(b[12:16])
	agf.Roots[0] = be.Uint32(b[16:20])
	agf.Roots[1] = be.Uint32(b[20:24])
	agf.Spare0 = be.Uint32(b[24:28])
	agf.Levels[0] = be.Uint32(b[28:32])
	agf.Levels[1] = be.Uint32(b[32:36])
	agf.Spare1 = be.Uint32(b[36:40])
	agf.FLFirst = be.Uint32(b[40:44])
	agf.FLLast = be.Uint32(b[44:48])
	agf.FLCount = be.Uint32(b[48:52])
	agf.FreeBlocks = be.Uint32(b[52:56])
	agf.Longest = be.Uint32(b[56:60])
	agf.BTreeBlocks = be.Uint32(b[60:64])
	return agf
}

// DecodeAGI decodes an AG's inode header.
func DecodeAGI(b []byte) AGI {
	be := binary.BigEndian
	var agi AGI
	agi.Magic = be.Uint32(b[0:4])
	agi.Version = be.Uint32(b[4:8])
	agi.SeqNo = be.Uint32(b[8:12])
	agi.Length = be.Uint32(b[12:16])
	agi.Count = be.Uint32(b[16:20])
	agi.Root = be.Uint32(b[20:24])
	agi.Level = be.Uint32(b[24:28])
	agi.FreeCount = be.Uint32(b[28:32])
	agi.NewIno = be.Uint32(b[32:36])
	agi.DirIno = be.Uint32(b[36:40])
	for i := range agi.Unlinked {
		off := 40 + i*4
		agi.Unlinked[i] = be.Uint32(b[off : off+4])
	}
	finoOff := 40 + len(agi.Unlinked)*4
	if len(b) >= finoOff+8 {
		agi.FreeRoot = be.Uint32(b[finoOff : finoOff+4])
		agi.FreeLevel = be.Uint32(b[finoOff+4 : finoOff+8])
	}
	return agi
}

// DecodeAGFL decodes the AG free list's block array, bounded to
// [flFirst, flLast] with wraparound the way the on-disk ring buffer
// works; size is the number of uint32 slots the AGFL block holds
// (geometry- and version-dependent).
func DecodeAGFL(b []byte, headerSize int, size, flFirst, flLast uint32) []uint32 {
	be := binary.BigEndian
	var out []uint32
	if size == 0 {
		return out
	}
	for i := flFirst; ; i = (i + 1) % size {
		off := headerSize + int(i)*4
		if off+4 > len(b) {
			break
		}
		out = append(out, be.Uint32(b[off:off+4]))
		if i == flLast {
			break
		}
	}
	return out
}
