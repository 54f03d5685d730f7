package audio

import (
	"context"
	"errors"
	"fmt"

	"babelmic/internal/ports"
)

var _ ports.Synthesizer = (*RemoteSpeech)(nil)

// RemoteSpeech speaks by downloading synthesized audio from the backend and
// playing it locally.
type RemoteSpeech struct {
	fetcher ports.SpeechFetcher
	player  ports.Player
}

func NewRemoteSpeech(fetcher ports.SpeechFetcher, player ports.Player) *RemoteSpeech {
	return &RemoteSpeech{fetcher: fetcher, player: player}
}

func (s *RemoteSpeech) Speak(ctx context.Context, text string, language string) error {
	if s.fetcher == nil || s.player == nil {
		return errors.New("remote speech is not configured")
	}

	clip, err := s.fetcher.FetchSpeech(ctx, text, language)
	if err != nil {
		return fmt.Errorf("failed to fetch speech: %w", err)
	}
	return s.player.Play(ctx, clip)
}
