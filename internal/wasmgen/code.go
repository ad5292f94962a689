package wasmgen

const (
	opEnd       = 0x0b
	opCall      = 0x10
	opDrop      = 0x1a
	opLocalGet  = 0x20
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opI32Load   = 0x28
	opI32Store  = 0x36
	opI32Const  = 0x41
	opI32Eq     = 0x46
	opI32LtU    = 0x49
	opI32Add    = 0x6a
)

// Code concatenates instruction sequences.
func Code(instrs ...[]byte) []byte {
	var out []byte
	for _, in := range instrs {
		out = append(out, in...)
	}
	return out
}

func I32Const(v int32) []byte  { return appendSLEB128([]byte{opI32Const}, v) }
func LocalGet(i uint32) []byte  { return appendULEB128([]byte{opLocalGet}, i) }
func GlobalGet(i uint32) []byte { return appendULEB128([]byte{opGlobalGet}, i) }
func GlobalSet(i uint32) []byte { return appendULEB128([]byte{opGlobalSet}, i) }
func Call(fn uint32) []byte     { return appendULEB128([]byte{opCall}, fn) }

// I32Load loads a naturally aligned i32 from the address on the stack plus offset.
func I32Load(offset uint32) []byte {
	return appendULEB128([]byte{opI32Load, 0x02}, offset)
}

// I32Store stores an i32 at the address on the stack plus offset.
func I32Store(offset uint32) []byte {
	return appendULEB128([]byte{opI32Store, 0x02}, offset)
}

func I32Add() []byte { return []byte{opI32Add} }
func I32Eq() []byte  { return []byte{opI32Eq} }
func I32LtU() []byte { return []byte{opI32LtU} }
func Drop() []byte   { return []byte{opDrop} }

func appendULEB128(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

func appendSLEB128(dst []byte, v int32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}
