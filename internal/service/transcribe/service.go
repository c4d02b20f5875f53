package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrTranscriptionFailed covers empty and binary-looking transcription
// output as well as transport failures.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Service transcribes audio/video files with the Whisper API.
type Service struct {
	client *openai.Client
	model  string
}

func NewService(apiKey, baseURL, model string) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &Service{client: &client, model: model}, nil
}

// Transcribe sends the file to Whisper and validates the returned text. The
// caller is responsible for compressing oversized inputs first.
func (s *Service) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open input: %v", ErrTranscriptionFailed, err)
	}
	defer f.Close()

	result, err := s.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(s.model),
		File:  f,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	if err := ValidateTranscript(result.Text); err != nil {
		return "", err
	}
	return result.Text, nil
}

// ValidateTranscript rejects empty output and output that looks like binary
// data, so garbage is never persisted as a transcript.
func ValidateTranscript(text string) error {
	if !hasPrintableContent(text) {
		return fmt.Errorf("%w: returned empty text", ErrTranscriptionFailed)
	}
	if looksBinary(text) {
		return fmt.Errorf("%w: output appears to contain binary data", ErrTranscriptionFailed)
	}
	return nil
}

func hasPrintableContent(text string) bool {
	for _, r := range text {
		if !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// looksBinary samples up to the first 1000 runes of a long transcript and
// flags it when fewer than 70% are printable.
func looksBinary(text string) bool {
	runes := []rune(text)
	if len(runes) <= 100 {
		return false
	}
	sample := runes
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	printable := 0
	for _, r := range sample {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) < 0.7
}
