package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"podiumgo/internal/stream"
)

// ErrStreamTruncated means the connection ended before the final frame.
var ErrStreamTruncated = errors.New("analysis stream ended before completion")

// large enough for a summary frame carrying a full transcript
const maxFrameBytes = 16 << 20

// Event is one decoded analysis event.
type Event = stream.Event

// readEvents decodes server-sent frames from r until the sentinel. Multiple
// data lines in one frame are joined with newlines; other fields are ignored.
func readEvents(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxFrameBytes)

	var data []string
	flush := func() (bool, error) {
		if len(data) == 0 {
			return false, nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		if payload == stream.Sentinel {
			return true, nil
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return false, fmt.Errorf("decode event: %w", err)
		}
		return false, fn(ev)
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			done, err := flush()
			if err != nil || done {
				return err
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if done, err := flush(); err != nil || done {
		return err
	}
	return ErrStreamTruncated
}
