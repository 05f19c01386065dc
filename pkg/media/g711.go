package media

// Статические payload type G.711 (RFC 3551).
const (
	PayloadTypePCMU uint8 = 0
	PayloadTypePCMA uint8 = 8
)

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// decodeULaw G.711 μ-law -> линейный 16-битный отсчёт.
func decodeULaw(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int32(mantissa) << 3) + ulawBias) << exponent
	sample -= ulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// encodeULaw линейный 16-битный отсчёт -> G.711 μ-law.
func encodeULaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// decodeALaw G.711 A-law -> линейный 16-битный отсчёт.
func decodeALaw(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := int32(a & 0x0F)

	var sample int32
	if exponent == 0 {
		sample = mantissa<<4 + 8
	} else {
		sample = (mantissa<<4 + 0x108) << (exponent - 1)
	}
	if sign == 0 {
		sample = -sample
	}
	return int16(sample)
}

// encodeALaw линейный 16-битный отсчёт -> G.711 A-law.
func encodeALaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0x80)
	if s < 0 {
		s = -s - 1
		sign = 0
	}
	if s > 32767 {
		s = 32767
	}

	var out byte
	if s < 256 {
		out = byte(s >> 4)
	} else {
		exponent := byte(7)
		for mask := int32(0x4000); s&mask == 0 && exponent > 1; mask >>= 1 {
			exponent--
		}
		out = exponent<<4 | byte(s>>(exponent+3))&0x0F
	}
	return (out | sign) ^ 0x55
}

// applyGain масштабирует G.711 payload на месте. Для других payload
// type данные не меняются.
func applyGain(payloadType uint8, payload []byte, gain float64) {
	if gain == 1 {
		return
	}
	var (
		decode func(byte) int16
		encode func(int16) byte
	)
	switch payloadType {
	case PayloadTypePCMU:
		decode, encode = decodeULaw, encodeULaw
	case PayloadTypePCMA:
		decode, encode = decodeALaw, encodeALaw
	default:
		return
	}
	for i, b := range payload {
		v := float64(decode(b)) * gain
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		payload[i] = encode(int16(v))
	}
}

// gainForVolume уровень 0-100 в коэффициент, 50 соответствует 1.0.
func gainForVolume(level int) float64 {
	return float64(level) / 50
}
