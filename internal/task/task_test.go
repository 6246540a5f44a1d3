package task

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRunner_RunsAndDrains(t *testing.T) {
	r := NewRunner(quietLogger())

	var n atomic.Int32
	for i := 0; i < 5; i++ {
		if err := r.Go("inc", func(context.Context) {
			time.Sleep(10 * time.Millisecond)
			n.Add(1)
		}); err != nil {
			t.Fatalf("Go: %v", err)
		}
	}

	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := n.Load(); got != 5 {
		t.Fatalf("ran=%d, want=5", got)
	}

	if err := r.Go("late", func(context.Context) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want=%v", err, ErrClosed)
	}
}

func TestRunner_DrainDeadlineCancelsTasks(t *testing.T) {
	r := NewRunner(quietLogger())
	_ = r.Go("block", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want=%v", err, context.DeadlineExceeded)
	}
}

func TestRunner_RecoversPanic(t *testing.T) {
	r := NewRunner(quietLogger())
	_ = r.Go("boom", func(context.Context) { panic("boom") })
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}
