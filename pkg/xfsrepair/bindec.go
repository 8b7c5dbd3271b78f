package xfsrepair

import "encoding/binary"

// All on-disk integers are big-endian; these small helpers keep the
// visitors free of repeated binary.BigEndian.* noise at decode sites.
func beUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func beUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
