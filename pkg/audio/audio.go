// Package audio provides small audio utilities shared by the TTS queue and
// the room hub: spoken-duration estimation for backlog accounting and PCM
// sample conversion helpers.
package audio

import (
	"strings"
	"unicode/utf8"
)

// Typical conversational speech covers roughly 15 characters per second.
// Used to estimate spoken duration before any audio exists.
const msPerChar = 65

// minEstimateMs floors estimates so that very short utterances ("Ok.") still
// account for the per-item synthesis and delivery overhead.
const minEstimateMs = 400

// EstimateSpeechDurationMs estimates how long text takes to speak, in
// milliseconds. The estimate feeds TTS backlog accounting until the real
// audio duration is known.
func EstimateSpeechDurationMs(text string) int {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	ms := n * msPerChar
	if ms < minEstimateMs {
		ms = minEstimateMs
	}
	return ms
}

// PCMDurationMs returns the duration of raw little-endian 16-bit PCM data at
// the given sample rate and channel count. Returns 0 for invalid parameters.
func PCMDurationMs(data []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := len(data) / (2 * channels)
	return samples * 1000 / sampleRate
}

// BytesToInt16 converts little-endian bytes to int16 PCM samples. A trailing
// odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Int16ToBytes converts int16 PCM samples to little-endian bytes.
func Int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
