package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"babelmic/internal/domain"
	"babelmic/internal/ports"
)

// Recognizer captures the microphone with an AudioCapture and streams it to
// Deepgram, exposing the result as a recognition stream.
type Recognizer struct {
	provider  *Provider
	audio     ports.AudioCapture
	audioCfg  ports.AudioConfig
	chunkSize int
}

func NewRecognizer(provider *Provider, audio ports.AudioCapture, audioCfg ports.AudioConfig, chunkSize int) *Recognizer {
	if chunkSize < 256 {
		chunkSize = 4096
	}
	return &Recognizer{provider: provider, audio: audio, audioCfg: audioCfg, chunkSize: chunkSize}
}

func (r *Recognizer) Start(ctx context.Context, language string) (ports.RecognitionStream, error) {
	if r.provider == nil || !r.provider.Configured() || r.audio == nil {
		return nil, fmt.Errorf("%w: deepgram recognizer is not configured", domain.ErrCapabilityUnavailable)
	}

	stream, err := r.provider.StartStreaming(ctx, StreamConfig{
		Language:       language,
		SampleRate:     r.audioCfg.SampleRate,
		Channels:       r.audioCfg.Channels,
		InterimResults: true,
	})
	if err != nil {
		return nil, err
	}

	audioSession, err := r.audio.Start(ctx, r.audioCfg)
	if err != nil {
		_ = stream.Close()
		return nil, &domain.RecognitionError{Kind: domain.RecognitionAudioCapture, Detail: err.Error()}
	}

	run := &recognitionRun{stream: stream, audio: audioSession}
	run.pump.Go(func() error {
		err := pumpAudioChunks(audioSession, stream, r.chunkSize)
		_ = stream.CloseSend()
		if err != nil && run.audioStopped.Load() {
			return nil
		}
		return err
	})
	go func() {
		<-stream.done
		run.stopAudio()
	}()
	return run, nil
}

type recognitionRun struct {
	stream *streamingSession
	audio  ports.AudioSession
	pump   errgroup.Group

	closing      atomic.Bool
	audioStopped atomic.Bool
}

func (r *recognitionRun) Events() <-chan domain.RecognitionEvent {
	return r.stream.Events()
}

// Wait reports the stream failure first, then any microphone failure.
func (r *recognitionRun) Wait() error {
	streamErr := r.stream.Wait()
	pumpErr := r.pump.Wait()
	if r.closing.Load() {
		return nil
	}
	if streamErr != nil {
		return streamErr
	}
	if pumpErr != nil {
		return &domain.RecognitionError{Kind: domain.RecognitionAudioCapture, Detail: pumpErr.Error()}
	}
	return nil
}

func (r *recognitionRun) Close() error {
	r.closing.Store(true)
	r.stopAudio()
	_ = r.stream.Close()
	return nil
}

func (r *recognitionRun) stopAudio() {
	if r.audioStopped.Swap(true) {
		return
	}
	_ = r.audio.Stop()
}

// pumpAudioChunks copies microphone audio into the stream until the capture
// ends. Send failures end the pump quietly; the stream reports its own error.
func pumpAudioChunks(audio io.Reader, stream interface{ SendAudio([]byte) error }, chunkSize int) error {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("audio capture error: %w", err)
		}
	}
}
