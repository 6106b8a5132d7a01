package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
)

const (
	DefaultMaxChunkBytes   = 25 * 1024 * 1024
	DefaultMaxChunkSeconds = 1400
)

// AudioSegment is one ordered piece of normalized audio. Start and Duration
// are in seconds and derived from the nominal bitrate.
type AudioSegment struct {
	Index    int
	Handle   Handle
	Size     int64
	Start    float64
	Duration float64
}

// SegmentPlan describes where one segment is cut. The last segment has ToEnd
// set and runs to the end of the stream.
type SegmentPlan struct {
	Index    int
	Start    int
	Duration int
	ToEnd    bool
}

// PlanSegments decides how to cut an audio stream of size bytes so that every
// piece stays under both maxBytes and maxSeconds. Duration is estimated from
// bytesPerSecond instead of probing the file. A result of length one means the
// input already fits.
func PlanSegments(size, maxBytes int64, maxSeconds, bytesPerSecond float64) []SegmentPlan {
	if size <= 0 || bytesPerSecond <= 0 {
		return []SegmentPlan{{Index: 0, ToEnd: true}}
	}
	estimated := float64(size) / bytesPerSecond
	count := 1
	if maxBytes > 0 {
		count = int(math.Ceil(float64(size) / float64(maxBytes)))
	}
	if maxSeconds > 0 {
		if byDuration := int(math.Ceil(estimated / maxSeconds)); byDuration > count {
			count = byDuration
		}
	}
	if count <= 1 {
		return []SegmentPlan{{Index: 0, Duration: int(math.Ceil(estimated)), ToEnd: true}}
	}

	chunk := int(math.Floor(estimated / float64(count)))
	if chunk < 1 {
		chunk = 1
	}
	plans := make([]SegmentPlan, count)
	for i := range plans {
		plans[i] = SegmentPlan{Index: i, Start: i * chunk, Duration: chunk}
	}
	last := &plans[count-1]
	last.ToEnd = true
	last.Duration = max(int(math.Ceil(estimated))-last.Start, 0)
	return plans
}

// Splitter cuts normalized audio into transcription-sized segments.
type Splitter struct {
	runner     Runner
	maxSeconds float64
}

func NewSplitter(runner Runner, maxSeconds int) *Splitter {
	if maxSeconds <= 0 {
		maxSeconds = DefaultMaxChunkSeconds
	}
	return &Splitter{runner: runner, maxSeconds: float64(maxSeconds)}
}

// Split returns the segments of normalized in playback order. When the input
// already fits it comes back unchanged as the only segment and ffmpeg is not
// invoked.
func (s *Splitter) Split(ctx context.Context, tmp Acquirer, normalized Handle, maxBytesPerChunk int64) ([]AudioSegment, error) {
	info, err := os.Stat(normalized.Path)
	if err != nil {
		return nil, fmt.Errorf("stat normalized audio: %w", err)
	}
	if maxBytesPerChunk <= 0 {
		maxBytesPerChunk = DefaultMaxChunkBytes
	}
	size := info.Size()
	plans := PlanSegments(size, maxBytesPerChunk, s.maxSeconds, BytesPerSecond)
	if len(plans) == 1 {
		return []AudioSegment{{
			Index:    0,
			Handle:   normalized,
			Size:     size,
			Duration: float64(size) / BytesPerSecond,
		}}, nil
	}

	segments := make([]AudioSegment, 0, len(plans))
	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := tmp.Acquire(NormalizedExt)
		if err != nil {
			return nil, err
		}
		args := []string{"-y", "-ss", strconv.Itoa(p.Start), "-i", normalized.Path}
		if !p.ToEnd {
			args = append(args, "-t", strconv.Itoa(p.Duration))
		}
		args = append(args, encodeArgs()...)
		args = append(args, out.Path)
		if err := s.runner.Run(ctx, args...); err != nil {
			return nil, fmt.Errorf("%w: segment %d: %w", ErrTranscode, p.Index, err)
		}
		var segSize int64
		if st, err := os.Stat(out.Path); err == nil {
			segSize = st.Size()
		}
		segments = append(segments, AudioSegment{
			Index:    p.Index,
			Handle:   out,
			Size:     segSize,
			Start:    float64(p.Start),
			Duration: float64(p.Duration),
		})
	}
	return segments, nil
}
