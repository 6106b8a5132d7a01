package stream

import (
	"context"
	"fmt"
)

// Job does the work behind one stream.
type Job func(ctx context.Context, emit *Emitter) error

// Run executes job against w. Whatever the job does, including panicking,
// the stream ends the same way: an error event if the job failed, then
// cleanup, then the sentinel. The job error is returned for logging only;
// it has already been reported in-band.
func Run(ctx context.Context, w *Writer, cleanup func(), job Job) (err error) {
	emit := NewEmitter(w)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panic: %v", r)
		}
		if err != nil {
			_ = emit.Error(UserMessage(err))
		}
		if cleanup != nil {
			cleanup()
		}
		_ = w.Close()
	}()

	if err = job(ctx, emit); err != nil {
		return err
	}
	_ = emit.Status(StepDone)
	return nil
}
