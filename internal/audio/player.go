package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"babelmic/internal/ports"
)

var _ ports.Player = (*FFPlayPlayer)(nil)

// FFPlayPlayer plays an encoded clip by piping it into ffplay.
type FFPlayPlayer struct {
	command string
}

func NewFFPlayPlayer(command string) *FFPlayPlayer {
	if strings.TrimSpace(command) == "" {
		command = "ffplay"
	}
	return &FFPlayPlayer{command: command}
}

// Play blocks until playback ends. Cancelling ctx interrupts the player.
func (p *FFPlayPlayer) Play(ctx context.Context, clip []byte) error {
	if len(clip) == 0 {
		return errors.New("no audio to play")
	}

	cmd := exec.Command(p.command, "-nodisp", "-autoexit", "-hide_banner", "-loglevel", "error", "-i", "-")
	cmd.Stdin = bytes.NewReader(clip)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	cmd.WaitDelay = stopGrace

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start player: %w", err)
	}
	proc := watch(cmd)

	select {
	case err := <-proc.exited:
		if err != nil {
			return fmt.Errorf("playback failed: %w: %s", err, stderr.tail())
		}
		return nil
	case <-ctx.Done():
		_ = proc.stop()
		return ctx.Err()
	}
}
