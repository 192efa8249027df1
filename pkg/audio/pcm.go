package audio

import (
	"mime"
	"strconv"
	"strings"

	"github.com/MrWong99/pingquest/pkg/types"
)

// PCMFormat describes headerless 16-bit little-endian PCM.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// ParsePCM reports whether mimeType names raw 16-bit PCM ("audio/L16",
// "audio/pcm", "audio/x-raw") and, if so, its rate and channel parameters.
// Missing parameters default to 16000 Hz mono.
func ParsePCM(mimeType string) (PCMFormat, bool) {
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return PCMFormat{}, false
	}
	switch strings.ToLower(mt) {
	case "audio/l16", "audio/pcm", "audio/x-raw":
	default:
		return PCMFormat{}, false
	}
	f := PCMFormat{SampleRate: 16000, Channels: 1}
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		f.SampleRate = r
	}
	if c, err := strconv.Atoi(params["channels"]); err == nil && c > 0 {
		f.Channels = c
	}
	return f, true
}

// ToMonoPCM converts a raw PCM clip to mono at dstRate. Clips that are not raw
// PCM are returned unchanged. The result is tagged "audio/L16; rate=<dstRate>".
func ToMonoPCM(clip types.AudioClip, dstRate int) types.AudioClip {
	f, ok := ParsePCM(clip.MIMEType)
	if !ok || dstRate <= 0 {
		return clip
	}
	data := clip.Data
	if f.Channels == 2 {
		data = StereoToMono(data)
	}
	data = ResampleMono16(data, f.SampleRate, dstRate)
	return types.AudioClip{Data: data, MIMEType: "audio/L16; rate=" + strconv.Itoa(dstRate)}
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or either is invalid the input is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) int16 {
		return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
