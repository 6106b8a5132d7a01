package stream

// Emitter is the job-facing side of a stream.
type Emitter struct {
	w *Writer
}

func NewEmitter(w *Writer) *Emitter {
	return &Emitter{w: w}
}

// Status announces a new step.
func (e *Emitter) Status(step string) error {
	return e.w.Send(TypeStatus, Status{Step: step})
}

// Progress announces a step together with its unit counts.
func (e *Emitter) Progress(step string, completed, total int) error {
	return e.w.Send(TypeStatus, Status{Step: step, TotalUnits: &total, CompletedUnits: &completed})
}

// Unit pushes one finished unit of work.
func (e *Emitter) Unit(payload any) error {
	return e.w.Send(TypeUnit, payload)
}

// Summary pushes the whole-job result.
func (e *Emitter) Summary(payload any) error {
	return e.w.Send(TypeSummary, payload)
}

// Token pushes one chunk of a chat reply.
func (e *Emitter) Token(content string) error {
	return e.w.Send(TypeToken, map[string]string{"content": content})
}

// Error pushes an error event. It does not end the stream.
func (e *Emitter) Error(message string) error {
	return e.w.Send(TypeError, ErrorData{Message: message})
}
