package speech

import (
	"bytes"
	"encoding/binary"
	"math"
)

// DefaultSilenceRMS is the loudness below which a 16-bit recording counts as silence.
const DefaultSilenceRMS = 300

const wavHeaderSize = 44

// isSilent reports whether a 16-bit PCM WAV recording stays below threshold RMS.
// Audio that is not a plain WAV is never considered silent.
func isSilent(audio []byte, threshold float64) bool {
	if threshold <= 0 || len(audio) < wavHeaderSize ||
		!bytes.Equal(audio[0:4], []byte("RIFF")) || !bytes.Equal(audio[8:12], []byte("WAVE")) {
		return false
	}
	if binary.LittleEndian.Uint16(audio[34:36]) != 16 {
		return false
	}
	pcm := audio[wavHeaderSize:]
	n := len(pcm) / 2
	if n == 0 {
		return true
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) < threshold
}
