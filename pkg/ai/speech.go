package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Voices accepted by the speech endpoint.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// ValidVoice reports whether v is one of Voices.
func ValidVoice(v string) bool {
	for _, voice := range Voices {
		if voice == v {
			return true
		}
	}
	return false
}

// SpeechSynthesizer turns text into encoded audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// SpeechConfig configures OpenAISpeech. Format defaults to mp3.
type SpeechConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Format  string
	Timeout time.Duration
	// MaxAudioBytes caps one response body.
	MaxAudioBytes int64
}

// OpenAISpeech calls /audio/speech.
type OpenAISpeech struct {
	cfg        SpeechConfig
	httpClient *http.Client
}

// NewOpenAISpeech builds a speech client.
func NewOpenAISpeech(cfg SpeechConfig) (*OpenAISpeech, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("tts base url required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 64 << 20
	}
	return &OpenAISpeech{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize returns the audio bytes for text.
func (s *OpenAISpeech) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("speech input required")
	}
	if !ValidVoice(voice) {
		return nil, fmt.Errorf("unsupported voice %q", voice)
	}
	body, err := json.Marshal(speechRequest{Model: s.cfg.Model, Input: text, Voice: voice, ResponseFormat: s.cfg.Format})
	if err != nil {
		return nil, err
	}
	resp, err := doPost(ctx, s.httpClient, s.cfg.BaseURL+"/audio/speech", s.cfg.APIKey, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if int64(len(audio)) > s.cfg.MaxAudioBytes {
		return nil, errors.New("audio response too large")
	}
	if len(audio) == 0 {
		return nil, errors.New("empty audio response")
	}
	return audio, nil
}
