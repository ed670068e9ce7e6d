package audio

import (
	"encoding/binary"
	"math"
)

// SilenceFloorDB is the dBFS value reported for digital silence. A true
// all-zero frame has no defined level; -96 dBFS is below the quantisation
// noise of 16-bit PCM, so any threshold above it classifies silence correctly.
const SilenceFloorDB = -96.0

// RMS computes the root mean square of 16-bit little-endian PCM samples,
// normalised to [0, 1]. Any trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:i*2+2]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// DBFS converts a frame of 16-bit PCM to its level in decibels relative to
// full scale. Returns SilenceFloorDB for empty or all-zero input so callers
// can compare against a threshold without special-casing silence.
func DBFS(pcm []byte) float64 {
	rms := RMS(pcm)
	if rms <= 0 {
		return SilenceFloorDB
	}
	db := 20 * math.Log10(rms)
	if db < SilenceFloorDB {
		return SilenceFloorDB
	}
	return db
}

// MeanAmplitude returns the mean absolute sample value normalised to [0, 1].
// Level meters and visualisers want this cheaper, smoother measure rather
// than RMS.
func MeanAmplitude(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += math.Abs(s) / 32768.0
	}
	return sum / float64(n)
}
