package audiobridge

// G.711 mu-law transcoding between the telephony leg (8kHz mu-law, one byte
// per sample) and the conversational session leg (16-bit LE PCM). No
// resampling: both legs run at 8kHz.

const muLawBias = 0x84

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^uint8(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := (int32(mantissa)<<3 + muLawBias) << exponent
		sample -= muLawBias
		if sign != 0 {
			sample = -sample
		}
		muLawDecodeTable[i] = int16(sample)
	}
}

// DecodeMuLaw expands mu-law bytes to 16-bit LE PCM.
func DecodeMuLaw(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		s := muLawDecodeTable[b]
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// EncodeMuLaw compresses 16-bit LE PCM to mu-law bytes. An odd trailing byte
// is ignored.
func EncodeMuLaw(in []byte) []byte {
	n := len(in) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(in[2*i]) | uint16(in[2*i+1])<<8)
		out[i] = encodeMuLawSample(s)
	}
	return out
}

func encodeMuLawSample(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > 32635 {
		s = 32635
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}
