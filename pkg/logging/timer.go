package logging

import (
	"sync"
	"time"
)

// Timer logs the start and end of a scoped operation with its elapsed time.
//
//	t := logging.StartTimer(log, "segment analysis", logging.F("segment", 3))
//	defer func() { t.Stop(err) }()
type Timer struct {
	log   Logger
	op    string
	start time.Time
	once  sync.Once
	now   func() time.Time
}

// StartTimer logs "starting <op>" at debug level and returns the running timer.
func StartTimer(log Logger, op string, fields ...Field) *Timer {
	return startTimer(log, op, time.Now, fields...)
}

func startTimer(log Logger, op string, now func() time.Time, fields ...Field) *Timer {
	if log == nil {
		log = NewNopLogger()
	}
	t := &Timer{
		log:   log.With(append([]Field{F("operation", op)}, fields...)...),
		op:    op,
		start: now(),
		now:   now,
	}
	t.log.Debug("starting " + op)
	return t
}

// Stop logs completion, or failure when err is non-nil, and returns the elapsed
// time. Only the first call logs; later calls just report the elapsed time.
func (t *Timer) Stop(err error) time.Duration {
	elapsed := t.now().Sub(t.start)
	t.once.Do(func() {
		if err != nil {
			t.log.Warn("failed "+t.op, F("elapsed", elapsed), Err(err))
			return
		}
		t.log.Info("completed "+t.op, F("elapsed", elapsed))
	})
	return elapsed
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}
