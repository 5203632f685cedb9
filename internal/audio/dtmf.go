// Package audio holds the pure signal-processing utilities for the call
// pipeline: DTMF synthesis, G.711 mu-law companding, and WAV framing.
package audio

import (
	"errors"
	"fmt"
	"math"
)

// Encoding is the target sample format for synthesized audio.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_s16le"
	EncodingPCM8  Encoding = "pcm_u8"
	EncodingMulaw Encoding = "mulaw"
)

// Format describes a raw audio stream.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// DefaultFormat matches the North American telephony transport: 8kHz mono
// mu-law.
var DefaultFormat = Format{SampleRate: 8000, Channels: 1, Encoding: EncodingMulaw}

// Tone is one symbol of the DTMF keypad alphabet.
type Tone byte

// ToneFrequencies maps each keypad symbol to its ITU-T low/high pair in Hz.
var ToneFrequencies = map[Tone][2]float64{
	'1': {697, 1209}, '2': {697, 1336}, '3': {697, 1477},
	'4': {770, 1209}, '5': {770, 1336}, '6': {770, 1477},
	'7': {852, 1209}, '8': {852, 1336}, '9': {852, 1477},
	'*': {941, 1209}, '0': {941, 1336}, '#': {941, 1477},
	'A': {697, 1633}, 'B': {770, 1633}, 'C': {852, 1633}, 'D': {941, 1633},
}

var (
	ErrUnsupportedTone     = errors.New("unsupported dtmf tone")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrEmptySequence       = errors.New("no valid dtmf tones in sequence")
)

// GenerateTone synthesizes one DTMF tone. Each of the two sinusoids is mixed
// at half amplitude so their sum cannot clip.
func GenerateTone(tone Tone, durationMs int, format Format) ([]byte, error) {
	freqs, ok := ToneFrequencies[tone]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTone, string(tone))
	}
	bps, err := bytesPerSample(format.Encoding)
	if err != nil {
		return nil, err
	}

	numSamples := durationMs * format.SampleRate / 1000
	out := make([]byte, numSamples*bps)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(format.SampleRate)
		s := 0.5 * (math.Sin(2*math.Pi*freqs[0]*t) + math.Sin(2*math.Pi*freqs[1]*t))
		writeSample(out, i, s, format.Encoding)
	}
	return out, nil
}

// GenerateSequence synthesizes a run of tones separated by fixed pauses.
// Unsupported symbols are filtered out first; an input with no valid symbols
// is an error the caller decides how to report. The returned slice of tones
// is the filtered sequence that was actually synthesized.
func GenerateSequence(sequence string, toneMs, pauseMs int, format Format) ([]byte, []Tone, error) {
	bps, err := bytesPerSample(format.Encoding)
	if err != nil {
		return nil, nil, err
	}

	var tones []Tone
	for i := 0; i < len(sequence); i++ {
		t := Tone(sequence[i])
		if _, ok := ToneFrequencies[t]; ok {
			tones = append(tones, t)
		}
	}
	if len(tones) == 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrEmptySequence, sequence)
	}

	toneSamples := toneMs * format.SampleRate / 1000
	pauseSamples := pauseMs * format.SampleRate / 1000
	total := len(tones) * (toneSamples + pauseSamples)
	out := make([]byte, total*bps)

	offset := 0
	for _, tone := range tones {
		buf, err := GenerateTone(tone, toneMs, format)
		if err != nil {
			return nil, nil, err
		}
		copy(out[offset:], buf)
		offset += len(buf)

		fillSilence(out[offset:offset+pauseSamples*bps], format.Encoding)
		offset += pauseSamples * bps
	}
	return out, tones, nil
}

// SequenceFrequencies returns the frequency pairs for a filtered tone run.
func SequenceFrequencies(tones []Tone) [][2]float64 {
	out := make([][2]float64, 0, len(tones))
	for _, t := range tones {
		out = append(out, ToneFrequencies[t])
	}
	return out
}

func bytesPerSample(enc Encoding) (int, error) {
	switch enc {
	case EncodingPCM16:
		return 2, nil
	case EncodingPCM8, EncodingMulaw:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

func writeSample(out []byte, i int, s float64, enc Encoding) {
	switch enc {
	case EncodingPCM16:
		v := int16(clamp(s*32767, -32768, 32767))
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	case EncodingPCM8:
		out[i] = byte(clamp((s+1)*127.5, 0, 255))
	case EncodingMulaw:
		out[i] = MulawEncodeSample(int16(clamp(s*32767, -32768, 32767)))
	}
}

func fillSilence(buf []byte, enc Encoding) {
	var v byte
	switch enc {
	case EncodingPCM16:
		v = 0
	case EncodingPCM8:
		v = 128
	case EncodingMulaw:
		v = MulawSilence
	}
	for i := range buf {
		buf[i] = v
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
