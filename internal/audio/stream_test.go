package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestStreamFansOutEveryChunk(t *testing.T) {
	data := bytes.Repeat([]byte{1}, ChunkBytes*3+100)
	s := NewStream("test", io.NopCloser(bytes.NewReader(data)), false, nil)
	a := s.Subscribe(16)
	b := s.Subscribe(16)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for name, sub := range map[string]*Subscription{"a": a, "b": b} {
		total := 0
		chunks := 0
		for chunk := range sub.Chunks() {
			total += len(chunk)
			chunks++
		}
		if chunks != 4 {
			t.Fatalf("%s: expected 4 chunks, got %d", name, chunks)
		}
		if total != len(data) {
			t.Fatalf("%s: expected %d bytes, got %d", name, len(data), total)
		}
	}
}

func TestStreamDropsForFullSubscriber(t *testing.T) {
	data := bytes.Repeat([]byte{1}, ChunkBytes*4)
	s := NewStream("test", io.NopCloser(bytes.NewReader(data)), false, nil)
	sub := s.Subscribe(1)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := s.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped chunks, got %d", got)
	}
	sub.Close()
}

func TestSubscribeAfterEndIsClosed(t *testing.T) {
	s := NewStream("test", io.NopCloser(bytes.NewReader(nil)), false, nil)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	sub := s.Subscribe(4)
	if _, ok := <-sub.Chunks(); ok {
		t.Fatalf("expected closed channel")
	}
	sub.Close()
}

func TestSubscriptionCloseTwice(t *testing.T) {
	s := NewStream("test", io.NopCloser(bytes.NewReader(nil)), false, nil)
	sub := s.Subscribe(4)
	sub.Close()
	sub.Close()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestReadWAVHeader(t *testing.T) {
	samples := []byte{1, 2, 3, 4}
	wav := buildWAV(SampleRate, BitsPerSample, Channels, samples)
	r, err := ReadWAVHeader(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read samples: %v", err)
	}
	if !bytes.Equal(got, samples) {
		t.Fatalf("unexpected samples: %v", got)
	}
}

func TestReadWAVHeaderRejectsFormat(t *testing.T) {
	wav := buildWAV(44100, 16, 2, []byte{0, 0})
	if _, err := ReadWAVHeader(bytes.NewReader(wav)); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestOpenMissingFileIsAccessError(t *testing.T) {
	_, err := Open(context.Background(), "/does/not/exist.wav", nil)
	var accessErr *AccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("expected AccessError, got %v", err)
	}
}

func buildWAV(rate uint32, bits, channels uint16, samples []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(samples)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, channels)
	_ = binary.Write(&buf, binary.LittleEndian, rate)
	_ = binary.Write(&buf, binary.LittleEndian, rate*uint32(channels)*uint32(bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, channels*(bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, bits)
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(samples)))
	buf.Write(samples)
	return buf.Bytes()
}
