package conv

const (
	hexLower = "0123456789abcdef"
	hexUpper = "0123456789ABCDEF"
)

// AppendHex appends two hex digits per byte of b, without separators.
func AppendHex(dst []byte, b []byte, upper bool) []byte {
	digits := hexLower
	if upper {
		digits = hexUpper
	}
	for _, v := range b {
		dst = append(dst, digits[v>>4], digits[v&0x0F])
	}
	return dst
}

// ByteHex writes one byte as 2-digit uppercase hex into buf.
func ByteHex(buf []byte, v byte) []byte {
	if len(buf) < 2 {
		return buf[:0]
	}
	buf[0] = hexUpper[v>>4]
	buf[1] = hexUpper[v&0x0F]
	return buf[:2]
}
