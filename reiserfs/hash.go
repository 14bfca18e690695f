package reiserfs

// Hash identifies which directory-name hash a filesystem was created with.
type Hash uint32

const (
	HashTEA Hash = 1
	HashYURA Hash = 2
	HashR5  Hash = 3
)

func (h Hash) String() string {
	switch h {
	case HashTEA:
		return "tea"
	case HashYURA:
		return "yura"
	case HashR5:
		return "r5"
	default:
		return "unknown"
	}
}

// HashFunc computes a name's 32-bit hash word, before the GET_HASH_VALUE
// mask-and-substitute in HashValue is applied.
type HashFunc func(name string) uint32

func (h Hash) Func() HashFunc {
	switch h {
	case HashTEA:
		return TEAHash
	case HashYURA:
		return YURAHash
	case HashR5:
		return R5Hash
	default:
		return nil
	}
}

// hashValueMask / hashValueZeroSubstitute implement GET_HASH_VALUE: the
// top-bit-clearing mask applied to every computed hash to form a
// directory-entry's offset tier, and the substitute used when that mask
// yields zero (offset zero is reserved by the tree's ordering).
const (
	hashValueMask            = 0x7fffff80
	hashValueZeroSubstitute  = 128
)

// HashValue computes the DR-item offset tier for name under the given
// hash, special-casing "." and ".." to their fixed offsets regardless of
// hash (§4.11).
func HashValue(h Hash, name string) uint32 {
	if name == "." {
		return DotOffset
	}
	if name == ".." {
		return DotDotOffset
	}
	fn := h.Func()
	if fn == nil {
		return 0
	}
	v := fn(name) & hashValueMask
	if v == 0 {
		v = hashValueZeroSubstitute
	}
	return v
}

// sbyte reproduces a `(signed char)` widened to a 32-bit value: negative
// bytes sign-extend, exactly as they do when the reference C code casts a
// signed char to uint32_t.
func sbyte(b byte) int32 { return int32(int8(b)) }

// teaK are the four fixed key words __tea_hash_func seeds its state with.
var teaK = [4]uint32{0x9464a485, 0x542e1a94, 0x3e846bff, 0xb75bcfc3}

const (
	teaDelta      = 0x9E3779B9
	teaFullRounds = 10
	teaPartRounds = 6
)

func teaCore(h0, h1 *uint32, a, b, c, d uint32, rounds int) {
	var sum uint32
	b0, b1 := *h0, *h1
	for n := rounds; n > 0; n-- {
		sum += teaDelta
		b0 += ((b1 << 4) + a) ^ (b1 + sum) ^ ((b1 >> 5) + b)
		b1 += ((b0 << 4) + c) ^ (b0 + sum) ^ ((b0 >> 5) + d)
	}
	*h0 += b0
	*h1 += b1
}

// TEAHash is a 4-round Feistel hash over 4 u32 lanes, mirroring
// __tea_hash_func exactly, including its byte-order-dependent lane packing
// and its length-derived padding word for the final, partial chunk.
func TEAHash(name string) uint32 {
	h0, h1 := teaK[0], teaK[1]
	buf := []byte(name)
	length := len(buf)

	pad := uint32(length) | uint32(length)<<8
	pad |= pad << 16

	packLE := func(b []byte) uint32 {
		var v uint32
		for i := 0; i < 4 && i < len(b); i++ {
			v |= uint32(sbyte(b[i])) << (8 * i)
		}
		return v
	}

	for length >= 16 {
		a := packLE(buf[0:4])
		b := packLE(buf[4:8])
		c := packLE(buf[8:12])
		d := packLE(buf[12:16])
		teaCore(&h0, &h1, a, b, c, d, teaPartRounds)
		length -= 16
		buf = buf[16:]
	}

	var a, b, c, d uint32
	switch {
	case length >= 12:
		a = packLE(buf[0:4])
		b = packLE(buf[4:8])
		c = packLE(buf[8:12])
		d = pad
		for i := 12; i < length; i++ {
			d <<= 8
			d |= uint32(buf[i])
		}
	case length >= 8:
		a = packLE(buf[0:4])
		b = packLE(buf[4:8])
		c, d = pad, pad
		for i := 8; i < length; i++ {
			c <<= 8
			c |= uint32(buf[i])
		}
	case length >= 4:
		a = packLE(buf[0:4])
		b, c, d = pad, pad, pad
		for i := 4; i < length; i++ {
			b <<= 8
			b |= uint32(buf[i])
		}
	default:
		a, b, c, d = pad, pad, pad, pad
		for i := 0; i < length; i++ {
			a <<= 8
			a |= uint32(buf[i])
		}
	}

	teaCore(&h0, &h1, a, b, c, d, teaFullRounds)
	return h0 ^ h1
}

// YURAHash is the decimal-positional-value hash, mirroring
// __yura_hash_func's treatment of each byte as an ASCII-digit-offset value
// weighted by a power of ten derived from its position, including the
// reference's quirky padding loops out to 256 positions.
func YURAHash(name string) uint32 {
	buf := []byte(name)
	n := len(buf)
	if n == 0 {
		return 0
	}

	pow := func(upto int) uint32 {
		p := uint32(1)
		for j := upto; j < n-1; j++ {
			p *= 10
		}
		return p
	}

	var a uint32
	if n == 1 {
		a = uint32(sbyte(buf[0]) - 48)
	} else {
		a = uint32(sbyte(buf[0])-48) * pow(1)
	}

	i := 1
	for ; i < n; i++ {
		c := uint32(sbyte(buf[i]) - 48)
		a += c * pow(i)
	}
	for ; i < 40; i++ {
		c := uint32('0' - 48)
		a += c * pow(i)
	}
	for ; i < 256; i++ {
		c := uint32(i)
		a += c * pow(i)
	}

	return a << 7
}

// R5Hash is the shift-multiply accumulation hash, mirroring
// __r5_hash_func.
func R5Hash(name string) uint32 {
	var a uint32
	for _, ch := range []byte(name) {
		v := sbyte(ch)
		a += uint32(v << 4)
		a += uint32(v >> 4)
		a *= 11
	}
	return a
}
