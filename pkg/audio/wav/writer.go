package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Encode writes pcm as a complete WAV stream.
func Encode(w io.Writer, pcm []byte, sampleRate uint32, numChannels uint16) error {
	const bitsPerSample = 16
	dataSize := uint32(len(pcm))
	byteRate := sampleRate * uint32(numChannels) * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], numChannels)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	return nil
}

// WriteFile saves pcm as a WAV file.
func WriteFile(filename string, pcm []byte, sampleRate uint32, numChannels uint16) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	if err := Encode(f, pcm, sampleRate, numChannels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
