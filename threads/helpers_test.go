package threads

import (
	"fmt"
	"testing"
	"time"
)

// recorder junta los mensajes que escriben los hilos. Sólo lo toca el hilo
// en ejecución; se lee después de que Run vuelve.
type recorder struct {
	msgs []string
}

func (r *recorder) msg(format string, args ...any) {
	r.msgs = append(r.msgs, fmt.Sprintf(format, args...))
}

func (r *recorder) check(t *testing.T, want []string) {
	t.Helper()
	if len(r.msgs) != len(want) {
		t.Fatalf("mensajes:\n got %q\nwant %q", r.msgs, want)
	}
	for i := range want {
		if r.msgs[i] != want[i] {
			t.Fatalf("mensaje %d:\n got %q\nwant %q\ntodos: %q", i, r.msgs[i], want[i], r.msgs)
		}
	}
}

func runKernel(t *testing.T, cfg Config, fn func(s *Scheduler)) {
	t.Helper()
	s := NewScheduler(cfg)
	if err := s.Run("main", func() { fn(s) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// startTicks simula el timer entregando un tick por interrupción.
func startTicks(s *Scheduler) {
	s.AttachSource()
	var now int64
	go func() {
		tk := time.NewTicker(200 * time.Microsecond)
		defer tk.Stop()
		for {
			select {
			case <-s.Done():
				return
			case <-tk.C:
				s.Interrupt(func() {
					now++
					s.Tick(now)
				})
			}
		}
	}()
}

func spinTicks(s *Scheduler, n int64) {
	until := s.Now() + n
	for s.Now() < until {
		s.Preempt()
	}
}
