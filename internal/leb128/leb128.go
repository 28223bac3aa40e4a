package leb128

import "errors"

const (
	maxVarintLen32 = 5
	maxVarintLen64 = 10
)

var (
	// ErrUnexpectedEnd is returned when the buffer ends before the terminating byte of a value.
	ErrUnexpectedEnd = errors.New("unexpected end of LEB128 input")
	errOverflow32    = errors.New("overflows a 32-bit integer")
	errOverflow64    = errors.New("overflows a 64-bit integer")
)

// EncodeInt32 encodes the signed value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt64(value int64) (buf []byte) {
	for {
		// Take 7 remaining low-order bits from the value into b.
		b := uint8(value & 0x7f)
		// Extract the sign bit.
		s := uint8(value & 0x40)
		value >>= 7

		// The encoding unsigned numbers is simpler as it only needs to check if the value is non-zero to tell if there
		// are more bits to encode. Signed is a little more complicated as you have to double-check the sign bit.
		// If either case, set the high-order bit to tell the reader there are more bytes in this int.
		if (value != -1 || s == 0) && (value != 0 || s != 0) {
			b |= 0x80
		}

		// Append b into the buffer
		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
	}
	return buf
}

// EncodeUint32 encodes the value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint64(value uint64) (buf []byte) {
	// This is effectively a do/while loop where we take 7 bits of the value and encode them until it is zero.
	for {
		// Take 7 remaining low-order bits from the value into b.
		b := uint8(value & 0x7f)
		value = value >> 7

		// If there are remaining bits, the value won't be zero: Set the high-
		// order bit to tell the reader there are more bytes in this uint.
		if value != 0 {
			b |= 0x80
		}

		// Append b into the buffer
		buf = append(buf, b)
		if b&0x80 == 0 {
			return buf
		}
	}
}

// LoadUint32 decodes an unsigned 32-bit value from the head of buf, returning the number of bytes read.
func LoadUint32(buf []byte) (ret uint32, bytesRead uint64, err error) {
	for shift := 0; ; shift += 7 {
		if bytesRead == maxVarintLen32 {
			return 0, 0, errOverflow32
		}
		if int(bytesRead) >= len(buf) {
			return 0, 0, ErrUnexpectedEnd
		}
		b := buf[bytesRead]
		bytesRead++
		if bytesRead == maxVarintLen32 && b&0x70 != 0 {
			// Only the low 4 bits of the 5th byte fit into 32 bits.
			return 0, 0, errOverflow32
		}
		ret |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, bytesRead, nil
		}
	}
}

// LoadInt32 decodes a signed 32-bit value from the head of buf, returning the number of bytes read.
func LoadInt32(buf []byte) (ret int32, bytesRead uint64, err error) {
	var b byte
	shift := 0
	for {
		if bytesRead == maxVarintLen32 {
			return 0, 0, errOverflow32
		}
		if int(bytesRead) >= len(buf) {
			return 0, 0, ErrUnexpectedEnd
		}
		b = buf[bytesRead]
		bytesRead++
		ret |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}

	if bytesRead == maxVarintLen32 {
		// The unused bits of the last byte must be the sign extension of bit 31.
		if sign, unused := b&0x08, b&0x70; (sign == 0 && unused != 0) || (sign != 0 && unused != 0x70) {
			return 0, 0, errOverflow32
		}
	} else if b&0x40 != 0 {
		ret |= -1 << shift
	}
	return ret, bytesRead, nil
}

// LoadInt64 decodes a signed 64-bit value from the head of buf, returning the number of bytes read.
func LoadInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	var b byte
	shift := 0
	for {
		if bytesRead == maxVarintLen64 {
			return 0, 0, errOverflow64
		}
		if int(bytesRead) >= len(buf) {
			return 0, 0, ErrUnexpectedEnd
		}
		b = buf[bytesRead]
		bytesRead++
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}

	if bytesRead == maxVarintLen64 {
		if unused := b & 0x7f; unused != 0 && unused != 0x7f {
			return 0, 0, errOverflow64
		}
	} else if b&0x40 != 0 {
		ret |= -1 << shift
	}
	return ret, bytesRead, nil
}
