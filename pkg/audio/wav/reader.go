// Package wav reads and writes 16-bit PCM WAV audio. Files feed the
// simulated microphone; synthesized replies can be saved back to disk.
package wav

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/chriscow/simon-go/pkg/rtc"
)

// Header represents a WAV file header
type Header struct {
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Audio is decoded PCM plus its format.
type Audio struct {
	Header Header
	PCM    []byte // 16-bit little-endian, interleaved
}

// Frames splits the audio into 10ms frames.
func (a Audio) Frames() ([]rtc.AudioFrame, error) {
	return rtc.Split(a.PCM, int(a.Header.SampleRate), int(a.Header.NumChannels))
}

// IsWAV reports whether data starts with a RIFF/WAVE signature.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ReadFile decodes a WAV file.
func ReadFile(filename string) (Audio, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// DecodeBytes decodes an in-memory WAV payload.
func DecodeBytes(data []byte) (Audio, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a complete WAV stream.
func Decode(r io.Reader) (Audio, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Audio{}, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if !IsWAV(riff[:]) {
		return Audio{}, fmt.Errorf("not a valid RIFF/WAVE stream")
	}

	var (
		h      Header
		gotFmt bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Audio{}, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Audio{}, fmt.Errorf("fmt chunk too small: %d bytes", size)
			}
			fmtData := make([]byte, size)
			if _, err := io.ReadFull(r, fmtData); err != nil {
				return Audio{}, fmt.Errorf("failed to read fmt data: %w", err)
			}
			if format := binary.LittleEndian.Uint16(fmtData[0:2]); format != 1 {
				return Audio{}, fmt.Errorf("only PCM format is supported, got format %d", format)
			}
			h.NumChannels = binary.LittleEndian.Uint16(fmtData[2:4])
			h.SampleRate = binary.LittleEndian.Uint32(fmtData[4:8])
			h.BitsPerSample = binary.LittleEndian.Uint16(fmtData[14:16])
			gotFmt = true

		case "data":
			if !gotFmt {
				return Audio{}, fmt.Errorf("data chunk before fmt chunk")
			}
			if err := validate(h); err != nil {
				return Audio{}, err
			}
			pcm, err := io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return Audio{}, fmt.Errorf("failed to read audio data: %w", err)
			}
			// streamed WAVs often carry a placeholder size; keep what arrived
			h.DataSize = uint32(len(pcm))
			return Audio{Header: h, PCM: pcm}, nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return Audio{}, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

func validate(h Header) error {
	if h.BitsPerSample != 16 {
		return fmt.Errorf("only 16-bit samples are supported, got %d-bit", h.BitsPerSample)
	}
	if h.NumChannels != 1 && h.NumChannels != 2 {
		return fmt.Errorf("only mono and stereo are supported, got %d channels", h.NumChannels)
	}
	if h.SampleRate == 0 || h.SampleRate%100 != 0 {
		return fmt.Errorf("sample rate %dHz is not supported", h.SampleRate)
	}
	return nil
}
