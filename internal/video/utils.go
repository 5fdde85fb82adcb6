package video

import (
	"crypto/rand"
	"math"
	"math/big"
	"path/filepath"
	"strings"

	"story-video-gen/internal/ffmpeg"
)

// ceilCentis rounds d up to 2 decimals. d is first snapped to microseconds so
// that float noise (1.1*100 = 110.00000000000001) does not add a centisecond.
func ceilCentis(d float64) float64 {
	return math.Ceil(math.Round(d*1e6)/1e4) / 100
}

// roundMicros keeps filter-graph timestamps readable.
func roundMicros(s float64) float64 {
	return math.Round(s*1e6) / 1e6
}

// audioFilter is the -af chain for a speed/volume change. Volume goes first,
// then atempo. Unity values are left out.
func audioFilter(speed, volume float64) string {
	var parts []string
	if volume != 1 {
		parts = append(parts, "volume="+ffmpeg.FormatSeconds(volume))
	}
	if speed != 1 {
		parts = append(parts, "atempo="+ffmpeg.FormatSeconds(speed))
	}
	return strings.Join(parts, ",")
}

// changed names what a speed/volume pass updates, for progress labels.
func changed(speed, volume float64) string {
	var parts []string
	if speed != 1 {
		parts = append(parts, "speed")
	}
	if volume != 1 {
		parts = append(parts, "volume")
	}
	return strings.Join(parts, "/")
}

// cryptoInt63n returns a uniform value in [0, n).
func cryptoInt63n(n int64) (int64, error) {
	if n <= 1 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

func ext(path string) string {
	if e := filepath.Ext(path); e != "" {
		return e
	}
	return ".mp4"
}
