package media

import (
	"context"
	"fmt"
	"strings"
)

// SpeechToText turns one audio file into text.
type SpeechToText interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Sequencer transcribes segments one at a time in index order.
type Sequencer struct {
	stt SpeechToText
}

func NewSequencer(stt SpeechToText) *Sequencer {
	return &Sequencer{stt: stt}
}

// Transcribe joins the trimmed text of every segment with single spaces;
// segments that come back empty are left out. Any failing segment aborts the
// whole transcript. progress, if set, runs after each
// segment with the number done so far.
func (s *Sequencer) Transcribe(ctx context.Context, segments []AudioSegment, progress func(done, total int)) (string, error) {
	parts := make([]string, 0, len(segments))
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := s.stt.Transcribe(ctx, seg.Handle.Path)
		if err != nil {
			return "", fmt.Errorf("transcribe segment %d/%d: %w", i+1, len(segments), err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
		if progress != nil {
			progress(i+1, len(segments))
		}
	}
	return strings.Join(parts, " "), nil
}
