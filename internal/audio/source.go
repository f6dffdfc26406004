package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Open opens a file-backed source. "-" reads raw PCM from stdin, .wav files are
// validated, .pcm/.raw files are taken as raw s16le, anything else is decoded
// through ffmpeg when it is on the PATH.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Stream, error) {
	if path == "" {
		return nil, &AccessError{Source: "<none>", Err: errors.New("no audio source configured")}
	}
	if path == "-" {
		return NewStream("stdin", io.NopCloser(os.Stdin), false, logger), nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav", ".pcm", ".raw":
	default:
		return openFFmpeg(ctx, path, logger)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &AccessError{Source: path, Err: err}
	}
	if ext == ".wav" {
		reader, err := ReadWAVHeader(bufio.NewReader(file))
		if err != nil {
			if cerr := file.Close(); cerr != nil {
				// Best-effort close on header failure.
				_ = cerr
			}
			return nil, &AccessError{Source: path, Err: err}
		}
		return NewStream(path, readCloser{Reader: reader, Closer: file}, true, logger), nil
	}
	return NewStream(path, file, true, logger), nil
}

// OpenCommand starts a capture command that writes raw s16le 16 kHz mono PCM to stdout,
// e.g. "arecord -q -f S16_LE -r 16000 -c 1 -t raw".
func OpenCommand(ctx context.Context, cmdline string, logger *slog.Logger) (*Stream, error) {
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return nil, &AccessError{Source: "capture", Err: errors.New("capture command is empty")}
	}
	return startCommand(ctx, parts[0], parts[0], parts[1:], logger)
}

func openFFmpeg(ctx context.Context, path string, logger *slog.Logger) (*Stream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &AccessError{Source: path, Err: err}
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, &AccessError{Source: path, Err: fmt.Errorf("ffmpeg not found: %w", err)}
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-re", "-i", path,
		"-f", "s16le", "-ac", fmt.Sprint(Channels), "-ar", fmt.Sprint(SampleRate),
		"-",
	}
	return startCommand(ctx, path, "ffmpeg", args, logger)
}

// Command sources pace themselves, so they are never rate limited.
func startCommand(ctx context.Context, source, name string, args []string, logger *slog.Logger) (*Stream, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = io.Discard
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &AccessError{Source: source, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &AccessError{Source: source, Err: err}
	}
	return NewStream(source, &commandReader{ReadCloser: stdout, cmd: cmd}, false, logger), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type commandReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (c *commandReader) Close() error {
	if c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	if err := c.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Killed on purpose.
			return nil
		}
		return err
	}
	return nil
}

// ReadWAVHeader consumes a RIFF/WAVE header and returns a reader positioned at the
// PCM samples. Only 16 kHz, 16-bit, mono PCM is accepted.
func ReadWAVHeader(r io.Reader) (io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("failed to read wav header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}
	sawFormat := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("failed to read wav chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if err := checkFormat(body); err != nil {
				return nil, err
			}
			sawFormat = true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return nil, err
				}
			}
		case "data":
			if !sawFormat {
				return nil, errors.New("data chunk before fmt chunk")
			}
			return io.LimitReader(r, int64(size)), nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

func checkFormat(body []byte) error {
	audioFormat := binary.LittleEndian.Uint16(body[0:2])
	channels := binary.LittleEndian.Uint16(body[2:4])
	sampleRate := binary.LittleEndian.Uint32(body[4:8])
	bits := binary.LittleEndian.Uint16(body[14:16])
	if audioFormat != 1 {
		return fmt.Errorf("unsupported wav encoding %d (want PCM)", audioFormat)
	}
	if channels != Channels || sampleRate != SampleRate || bits != BitsPerSample {
		return fmt.Errorf("unsupported wav format %d Hz/%d-bit/%d ch (want %d Hz/%d-bit/%d ch)",
			sampleRate, bits, channels, SampleRate, BitsPerSample, Channels)
	}
	return nil
}
