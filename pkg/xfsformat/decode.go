package xfsformat

import "encoding/binary"

// AllocRecSize and AllocKeyPtrSize are the on-disk sizes of freespace
// B+tree leaf and interior entries.
const (
	AllocRecSize   = 8
	AllocKeyPtrSize = 8
	InodeRecSize   = 16
	InodeKeyPtrSize = 8
)

func DecodeAllocRecord(b []byte) AllocRecord {
	return AllocRecord{
		StartBlock: binary.BigEndian.Uint32(b[0:4]),
		BlockCount: binary.BigEndian.Uint32(b[4:8]),
	}
}

func DecodeAllocKeyPtr(key, ptr []byte) AllocKeyPtr {
	return AllocKeyPtr{
		StartBlock: binary.BigEndian.Uint32(key),
		Ptr:        binary.BigEndian.Uint32(ptr),
	}
}

// DecodeInodeRecord decodes one 16-byte inobt/finobt record. When
// sparse is true the record uses the holemask/count/freecount union
// member; otherwise it uses the legacy 32-bit freecount and the chunk
// is assumed fully populated (Count = ChunkSize, HoleMask = 0).
func DecodeInodeRecord(b []byte, sparse bool) InodeRecord {
	rec := InodeRecord{
		StartIno: binary.BigEndian.Uint32(b[0:4]),
		Free:     binary.BigEndian.Uint64(b[8:16]),
	}
	if sparse {
		rec.HoleMask = binary.BigEndian.Uint16(b[4:6])
		rec.Count = b[6]
		rec.FreeCount = b[7]
	} else {
		rec.HoleMask = 0
		rec.Count = ChunkSize
		rec.FreeCount = uint8(binary.BigEndian.Uint32(b[4:8]))
	}
	return rec
}

func DecodeInodeKeyPtr(key, ptr []byte) InodeKeyPtr {
	return InodeKeyPtr{
		StartIno: binary.BigEndian.Uint32(key),
		Ptr:      binary.BigEndian.Uint32(ptr),
	}
}
