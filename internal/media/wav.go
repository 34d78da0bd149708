package media

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV container for transcription payloads: 44-byte little-endian
// RIFF/WAVE/fmt /data header, PCM format tag 1, mono, 16-bit samples.

const wavHeaderSize = 44

var (
	ErrNotWAV        = errors.New("not a RIFF/WAVE stream")
	ErrUnsupportedWAV = errors.New("unsupported WAV format")
)

// EncodeWAV wraps mono PCM16 samples in a WAV container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                     // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)                      // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)                      // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))     // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                      // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                     // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}
	return buf
}

// DecodeWAV parses a mono PCM16 WAV payload, returning the samples and
// the sample rate.
func DecodeWAV(b []byte) ([]int16, int, error) {
	if len(b) < wavHeaderSize {
		return nil, 0, ErrNotWAV
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " {
		return nil, 0, ErrNotWAV
	}
	format := binary.LittleEndian.Uint16(b[20:22])
	channels := binary.LittleEndian.Uint16(b[22:24])
	bits := binary.LittleEndian.Uint16(b[34:36])
	if format != 1 || channels != 1 || bits != 16 {
		return nil, 0, fmt.Errorf("%w: format=%d channels=%d bits=%d", ErrUnsupportedWAV, format, channels, bits)
	}
	sampleRate := int(binary.LittleEndian.Uint32(b[24:28]))

	if string(b[36:40]) != "data" {
		return nil, 0, ErrNotWAV
	}
	dataLen := int(binary.LittleEndian.Uint32(b[40:44]))
	if dataLen > len(b)-wavHeaderSize {
		dataLen = len(b) - wavHeaderSize
	}

	samples := make([]int16, dataLen/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[wavHeaderSize+i*2:]))
	}
	return samples, sampleRate, nil
}
