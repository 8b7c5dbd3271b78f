package xfsformat

import (
	"encoding/binary"

	"github.com/davidminor/uint128"
)

// BmbtRecSize is the on-disk size in bytes of one bmbt leaf record.
const BmbtRecSize = 16

// BmbtRec is a decoded file-extent record: a run of BlockCount blocks of
// file data starting at file offset StartOff, stored at filesystem block
// StartBlock.
type BmbtRec struct {
	StartOff   uint64
	StartBlock uint64
	BlockCount uint32
	Unwritten  bool
}

// DecodeBmbtRec unpacks a 128-bit extent record. The packing mirrors the
// inverse of the one used to write these records: a 1-bit unwritten
// flag, a 54-bit file offset, a 52-bit start block, and a 21-bit block
// count, stored big-endian as two 64-bit halves.
func DecodeBmbtRec(raw []byte) BmbtRec {
	hi := binary.BigEndian.Uint64(raw[0:8])
	lo := binary.BigEndian.Uint64(raw[8:16])
	xe := uint128.Uint128{H: hi, L: lo}

	blocks := xe.And(uint128.Uint128{L: 0x1FFFFF})
	number := xe.ShiftRight(21).And(uint128.Uint128{L: 0x0FFFFFFFFFFFFF})
	rest := xe.ShiftRight(73)
	offset := rest.And(uint128.Uint128{L: 0x3FFFFFFFFFFFFF})
	unwritten := rest.ShiftRight(54).L&0x1 != 0

	return BmbtRec{
		StartOff:   offset.L,
		StartBlock: number.L,
		BlockCount: uint32(blocks.L),
		Unwritten:  unwritten,
	}
}

// EncodeBmbtRec packs an extent record back into its 128-bit on-disk
// form, the inverse of DecodeBmbtRec.
func EncodeBmbtRec(r BmbtRec) [BmbtRecSize]byte {
	var blocks, number, offset, flag uint128.Uint128

	blocks.L = uint64(r.BlockCount) & 0x1FFFFF

	number.L = r.StartBlock & 0x0FFFFFFFFFFFFF
	number = number.ShiftLeft(21)

	offset.L = r.StartOff & 0x3FFFFFFFFFFFFF
	offset = offset.ShiftLeft(73)

	if r.Unwritten {
		flag.L = 1
		flag = flag.ShiftLeft(127)
	}

	xe := blocks.Or(number).Or(offset).Or(flag)

	var out [BmbtRecSize]byte
	binary.BigEndian.PutUint64(out[0:8], xe.H)
	binary.BigEndian.PutUint64(out[8:16], xe.L)
	return out
}
