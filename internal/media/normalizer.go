package media

import (
	"context"
	"errors"
	"fmt"
)

// Canonical encoding of normalized audio. The bitrate is constant, so byte
// size stands in for duration downstream.
const (
	SampleRate     = 16000
	BitrateKbps    = 64
	BytesPerSecond = BitrateKbps * 1000 / 8
	NormalizedExt  = ".mp3"
)

var ErrTranscode = errors.New("transcode failed")

// encodeArgs are shared by normalization and segment cutting.
func encodeArgs() []string {
	return []string{
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(SampleRate),
		"-b:a", fmt.Sprintf("%dk", BitrateKbps),
	}
}

type Normalizer struct {
	runner Runner
}

func NewNormalizer(runner Runner) *Normalizer {
	return &Normalizer{runner: runner}
}

// Normalize drops any video track and re-encodes input as 16 kHz mono audio at
// 64 kbps. Failures are not retried.
func (n *Normalizer) Normalize(ctx context.Context, tmp Acquirer, input Handle) (Handle, error) {
	out, err := tmp.Acquire(NormalizedExt)
	if err != nil {
		return Handle{}, err
	}
	args := append([]string{"-y", "-i", input.Path}, encodeArgs()...)
	args = append(args, out.Path)
	if err := n.runner.Run(ctx, args...); err != nil {
		return Handle{}, fmt.Errorf("%w: %w", ErrTranscode, err)
	}
	return out, nil
}
