package audio

// G.711 mu-law companding. The telephony transport carries 8-bit mu-law at
// 8kHz; STT consumers want linear PCM.

const (
	mulawBias = 0x84
	mulawClip = 32635

	// MulawSilence is the mu-law encoding of a zero sample.
	MulawSilence byte = 0xFF
)

// MulawEncodeSample compresses one 16-bit linear PCM sample to mu-law.
func MulawEncodeSample(pcm int16) byte {
	sign := byte(0)
	v := int(pcm)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; exponent, mask = exponent-1, mask>>1 {
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | byte(exponent)<<4 | mantissa)
}

// MulawDecodeSample expands one mu-law byte to a 16-bit linear PCM sample.
func MulawDecodeSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	v := (int32(mantissa)<<3 + mulawBias) << exponent
	v -= mulawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// MulawEncode compresses a burst of linear PCM samples.
func MulawEncode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = MulawEncodeSample(s)
	}
	return out
}

// MulawDecode expands a burst of mu-law bytes to linear PCM samples.
func MulawDecode(ulaw []byte) []int16 {
	out := make([]int16, len(ulaw))
	for i, u := range ulaw {
		out[i] = MulawDecodeSample(u)
	}
	return out
}

// MulawDecodeToPCM16LE expands mu-law bytes to little-endian 16-bit PCM
// bytes, the layout the WAV writer and most STT engines expect.
func MulawDecodeToPCM16LE(ulaw []byte) []byte {
	out := make([]byte, 2*len(ulaw))
	for i, u := range ulaw {
		s := MulawDecodeSample(u)
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// MulawEncodeFromPCM16LE compresses little-endian 16-bit PCM bytes to
// mu-law. A trailing odd byte is ignored.
func MulawEncodeFromPCM16LE(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = MulawEncodeSample(s)
	}
	return out
}
