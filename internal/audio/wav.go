package audio

import (
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// NewWAVRecorder returns the high quality variant: uncompressed 16-bit PCM
// in a RIFF/WAVE container, encoded in-process.
func NewWAVRecorder(source Source) Recorder {
	return &encodedRecorder{
		source:  source,
		newSink: newWAVSink,
		mime:    "audio/wav",
		ext:     "wav",
	}
}

type wavSink struct {
	file    *os.File
	encoder *wav.Encoder
	buf     *goaudio.IntBuffer
}

func newWAVSink(path string, f Format) (sink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &wavSink{
		file:    file,
		encoder: wav.NewEncoder(file, f.SampleRate, 16, f.Channels, 1),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: f.Channels,
				SampleRate:  f.SampleRate,
			},
			SourceBitDepth: 16,
		},
	}, nil
}

func (s *wavSink) Write(pcm []byte) error {
	n := len(pcm) / 2
	if cap(s.buf.Data) < n {
		s.buf.Data = make([]int, n)
	}
	s.buf.Data = s.buf.Data[:n]
	for i := 0; i < n; i++ {
		s.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return s.encoder.Write(s.buf)
}

func (s *wavSink) Close() error {
	encErr := s.encoder.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize wav header: %w", encErr)
	}
	return fileErr
}
