package devices

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/LosCuervosXeneizes/kernelvm/threads"
)

// Timer es el reloj del sistema: cada interrupción suma un tick y llama a
// Scheduler.Tick.
type Timer struct {
	s     *threads.Scheduler
	ticks atomic.Int64
}

// NewTimer registra el timer como fuente de interrupciones de s.
func NewTimer(s *threads.Scheduler) *Timer {
	s.AttachSource()
	return &Timer{s: s}
}

// Interrupt entrega un tick. Se puede llamar desde cualquier goroutine.
func (t *Timer) Interrupt() {
	t.s.Interrupt(t.handler)
}

func (t *Timer) handler() {
	t.s.Tick(t.ticks.Add(1))
}

// Start genera un tick cada period hasta que se cancele ctx o se detenga el
// kernel.
func (t *Timer) Start(ctx context.Context, period time.Duration) {
	go func() {
		tk := time.NewTicker(period)
		defer tk.Stop()
		defer t.s.DetachSource()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.s.Done():
				return
			case <-tk.C:
				t.Interrupt()
			}
		}
	}()
}

// Ticks devuelve los ticks entregados desde el arranque.
func (t *Timer) Ticks() int64 { return t.ticks.Load() }

// Elapsed devuelve los ticks transcurridos desde then.
func (t *Timer) Elapsed(then int64) int64 { return t.Ticks() - then }

// Sleep duerme al hilo actual n ticks.
func (t *Timer) Sleep(n int64) { t.s.Sleep(n) }
