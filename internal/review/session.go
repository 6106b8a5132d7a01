// Package review is the client-side cache of review sessions. It uploads a
// file, consumes the analysis stream and keeps every run addressable by a
// caller key, while tracking the in-flight run separately from whatever the
// caller is currently displaying.
package review

import (
	"encoding/json"
	"maps"
	"slices"

	"podiumgo/internal/client"
	"podiumgo/internal/stream"
)

// Source is the remote blob a session was analyzed from.
type Source struct {
	URL      string
	FileName string
}

type Progress struct {
	Step      string
	Completed int
	Total     int
}

// State is the renderable part of a session. The cache keeps three copies:
// one per stored session, the live state of the running job and the view of
// the displayed session.
type State struct {
	Units      []json.RawMessage
	Summary    json.RawMessage
	Thumbnails map[int][]byte
	Progress   Progress
	Errors     []string
}

func (s State) clone() State {
	out := State{
		Units:      slices.Clone(s.Units),
		Summary:    slices.Clone(s.Summary),
		Thumbnails: maps.Clone(s.Thumbnails),
		Progress:   s.Progress,
		Errors:     slices.Clone(s.Errors),
	}
	if out.Thumbnails == nil {
		out.Thumbnails = map[int][]byte{}
	}
	return out
}

// apply folds one stream event into the state.
func (s *State) apply(ev client.Event) {
	switch ev.Type {
	case stream.TypeStatus:
		var st stream.Status
		if json.Unmarshal(ev.Data, &st) != nil {
			return
		}
		s.Progress.Step = st.Step
		if st.TotalUnits != nil {
			s.Progress.Total = *st.TotalUnits
		}
		if st.CompletedUnits != nil {
			s.Progress.Completed = *st.CompletedUnits
		}
	case stream.TypeUnit:
		s.Units = append(s.Units, slices.Clone(ev.Data))
	case stream.TypeSummary:
		s.Summary = slices.Clone(ev.Data)
	case stream.TypeError:
		var e stream.ErrorData
		if json.Unmarshal(ev.Data, &e) == nil {
			s.Errors = append(s.Errors, e.Message)
		}
	}
}

func (s *State) mergeThumbnails(thumbs map[int][]byte) {
	if s.Thumbnails == nil {
		s.Thumbnails = map[int][]byte{}
	}
	maps.Copy(s.Thumbnails, thumbs)
}

// Session is one stored review.
type Session struct {
	Key      string
	Kind     client.Kind
	Audience string
	Source   Source
	State    State
	// Done is set once the stream delivered its final frame.
	Done bool
	// Err is the transport failure that ended the run early, if any.
	Err error
}

func (s *Session) snapshot() Session {
	out := *s
	out.State = s.State.clone()
	return out
}
