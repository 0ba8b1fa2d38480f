package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Opus delivery uses 48 kHz mono at 20 ms frame size, matching what browser
// listeners decode without resampling.
const (
	OpusSampleRate  = 48000
	OpusChannels    = 1
	opusFrameSizeMs = 20

	// opusFrameSamples is the number of samples per channel per 20 ms frame.
	opusFrameSamples = OpusSampleRate * opusFrameSizeMs / 1000 // 960
)

// OpusEncoder packetises raw PCM into Opus frames for listeners that request
// binary audio frames instead of base64 PCM. Each outbound audio stream gets
// its own encoder to keep codec state per stream.
//
// OpusEncoder is not safe for concurrent use.
type OpusEncoder struct {
	enc *gopus.Encoder

	// remainder carries samples that did not fill a whole frame.
	remainder []int16
}

// NewOpusEncoder creates an encoder configured for outbound speech audio.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(OpusSampleRate, OpusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode consumes little-endian 16-bit PCM bytes and returns zero or more
// complete Opus packets. Input that does not fill a whole 20 ms frame is
// buffered until the next call; call [OpusEncoder.Flush] to drain it.
func (e *OpusEncoder) Encode(pcmBytes []byte) ([][]byte, error) {
	samples := append(e.remainder, BytesToInt16(pcmBytes)...)

	var packets [][]byte
	for len(samples) >= opusFrameSamples {
		frame := samples[:opusFrameSamples]
		samples = samples[opusFrameSamples:]

		pkt, err := e.enc.Encode(frame, opusFrameSamples, opusFrameSamples*2)
		if err != nil {
			return nil, fmt.Errorf("audio: opus encode: %w", err)
		}
		packets = append(packets, pkt)
	}

	e.remainder = samples
	return packets, nil
}

// Flush pads any buffered partial frame with silence and returns the final
// packet, or nil when nothing is buffered.
func (e *OpusEncoder) Flush() ([]byte, error) {
	if len(e.remainder) == 0 {
		return nil, nil
	}
	frame := make([]int16, opusFrameSamples)
	copy(frame, e.remainder)
	e.remainder = nil

	pkt, err := e.enc.Encode(frame, opusFrameSamples, opusFrameSamples*2)
	if err != nil {
		return nil, fmt.Errorf("audio: opus flush: %w", err)
	}
	return pkt, nil
}
