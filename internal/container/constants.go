// Package container defines constants and low-level readers for the PNG
// chunk layout and the GIF block layout: signatures, chunk type codes,
// CRC-checked chunk reads and truncation-aware full reads.
package container

import "encoding/binary"

// ChunkType builds a big-endian chunk type code from its four ASCII letters.
func ChunkType(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// PNG chunk types.
var (
	TypeIHDR = ChunkType('I', 'H', 'D', 'R')
	TypePLTE = ChunkType('P', 'L', 'T', 'E')
	TypeTRNS = ChunkType('t', 'R', 'N', 'S')
	TypeIDAT = ChunkType('I', 'D', 'A', 'T')
	TypeIEND = ChunkType('I', 'E', 'N', 'D')
	TypeACTL = ChunkType('a', 'c', 'T', 'L')
	TypeFCTL = ChunkType('f', 'c', 'T', 'L')
	TypeFDAT = ChunkType('f', 'd', 'A', 'T')
)

// PNG layout constants.
const (
	PNGSignature    = "\x89PNG\r\n\x1a\n"
	ChunkHeaderSize = 8         // 4-byte length + 4-byte type
	ChunkCRCSize    = 4         // CRC-32 trailer
	MaxChunkLength  = 1<<31 - 1 // PNG limits chunk lengths to 2^31-1
	IHDRSize        = 13        // IHDR payload
	ACTLSize        = 8         // acTL payload
	FCTLSize        = 26        // fcTL payload
	FDATSeqSize     = 4         // fdAT sequence number prefix
	smallChunk      = 1 << 20   // chunks up to this size read through the pool
)

// GIF layout constants.
const (
	GIFSignatureSize  = 6
	GIF87a            = "GIF87a"
	GIF89a            = "GIF89a"
	ScreenDescSize    = 7 // logical screen descriptor after the signature
	ImageDescSize     = 9 // image descriptor after the 0x2C introducer
	AppIdentifierSize = 11

	GIFExtension       = 0x21
	GIFImageDescriptor = 0x2C
	GIFTrailer         = 0x3B

	GIFGraphicControl = 0xF9
	GIFApplication    = 0xFF
)

// TypeString returns the four-letter name of a chunk type.
func TypeString(t uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], t)
	return string(b[:])
}

// IsCritical reports whether the chunk type has the critical bit set
// (uppercase first letter).
func IsCritical(t uint32) bool {
	return t&(0x20<<24) == 0
}
