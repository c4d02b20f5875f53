package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrConversionFailed wraps any ffmpeg failure; conversion errors are fatal
// to the job, there is no fallback format.
var ErrConversionFailed = errors.New("media conversion failed")

// Service shells out to ffmpeg/ffprobe for container conversion and audio
// compression. Both binaries must be on PATH.
type Service struct {
	ffmpegPath  string
	ffprobePath string
}

func NewService() *Service {
	return &Service{ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"}
}

// NeedsConversion reports whether the container must be converted before
// transcription.
func (s *Service) NeedsConversion(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mov")
}

// ConvertToMP4 transcodes a MOV input to MP4 next to the original.
func (s *Service) ConvertToMP4(ctx context.Context, path string) (string, error) {
	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp4"
	if err := s.runFFmpeg(ctx,
		"-i", path,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-y", outPath,
	); err != nil {
		return "", err
	}
	if err := checkOutput(outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

// CompressAudio re-encodes the input as mono low-bitrate mp3 targeted at
// maxSizeMB, with a second harder pass when the first result is still over.
func (s *Service) CompressAudio(ctx context.Context, path string, maxSizeMB int) (string, error) {
	duration, err := s.probeDuration(ctx, path)
	if err != nil {
		return "", err
	}

	// Bitrate (kbps) to land the target size, clamped to a speech-usable
	// range. Very long recordings bottom out at 16kbps.
	bitrate := int(float64(maxSizeMB) * 8 * 1024 / duration)
	if bitrate < 16 {
		bitrate = 16
	}
	if bitrate > 64 {
		bitrate = 64
	}

	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + "_compressed.mp3"
	if err := s.compressPass(ctx, path, outPath, bitrate, 16000); err != nil {
		return "", err
	}

	if mb := fileSizeMB(outPath); mb > float64(maxSizeMB) {
		ultraPath := strings.TrimSuffix(outPath, ".mp3") + "_ultra.mp3"
		ultraBitrate := bitrate * 7 / 10
		if ultraBitrate < 12 {
			ultraBitrate = 12
		}
		if err := s.compressPass(ctx, outPath, ultraPath, ultraBitrate, 12000); err != nil {
			return "", err
		}
		os.Remove(outPath)
		outPath = ultraPath
	}
	return outPath, nil
}

func (s *Service) compressPass(ctx context.Context, in, out string, bitrateKbps, sampleRate int) error {
	return s.runFFmpeg(ctx,
		"-i", in,
		"-acodec", "mp3",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-q:a", "9",
		"-vn",
		"-y", out,
	)
}

func (s *Service) runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: ffmpeg: %v: %s", ErrConversionFailed, err, lastLine(stderr.String()))
	}
	return nil
}

// probeDuration reads the input duration in seconds via ffprobe.
func (s *Service) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe: %v", ErrConversionFailed, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("%w: ffprobe returned no duration", ErrConversionFailed)
	}
	return duration, nil
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: output file not created", ErrConversionFailed)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: output file is empty", ErrConversionFailed)
	}
	return nil
}

func fileSizeMB(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1024 * 1024)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
