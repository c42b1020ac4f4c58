package threads

import "fmt"

// Now devuelve el último tick informado por el timer.
func (s *Scheduler) Now() int64 { return s.now }

// Sleep duerme al hilo actual durante ticks ticks del timer.
func (s *Scheduler) Sleep(ticks int64) {
	if ticks <= 0 {
		return
	}
	s.SleepUntil(s.now + ticks)
}

// SleepUntil duerme al hilo actual hasta el tick wake.
func (s *Scheduler) SleepUntil(wake int64) {
	if s.inIntr {
		s.Panicf("Sleep en contexto de interrupción")
	}
	old := s.DisableIntr()
	cur := s.current
	if cur == s.idle {
		s.Panicf("el hilo idle no puede dormir")
	}
	if wake <= s.now {
		s.SetIntrLevel(old)
		return
	}
	cur.wakeTick = wake
	i := len(s.sleeping)
	for j, t := range s.sleeping {
		if t.wakeTick > wake {
			i = j
			break
		}
	}
	s.sleeping = append(s.sleeping, nil)
	copy(s.sleeping[i+1:], s.sleeping[i:])
	s.sleeping[i] = cur
	s.log.Debug(fmt.Sprintf("## (%d) - Duerme hasta el tick %d", cur.tid, wake))
	s.Block()
	s.SetIntrLevel(old)
}

// wake despierta a los hilos cuyo tick ya pasó.
func (s *Scheduler) wake(now int64) {
	n := 0
	for _, t := range s.sleeping {
		if t.wakeTick > now {
			break
		}
		n++
		t.wakeTick = 0
		s.Unblock(t)
		s.preemptIfOutranked(t)
	}
	if n > 0 {
		s.sleeping = append(s.sleeping[:0:0], s.sleeping[n:]...)
	}
}

// Tick es el handler del timer. Corre en contexto de interrupción.
func (s *Scheduler) Tick(now int64) {
	if !s.inIntr {
		s.Panicf("Tick fuera de un handler de interrupción")
	}
	s.now = now
	cur := s.current
	switch {
	case cur == s.idle:
		s.stats.IdleTicks++
	case cur.Space != nil:
		s.stats.UserTicks++
	default:
		s.stats.KernelTicks++
	}

	if s.cfg.MLFQS {
		s.mlfqsTick(now)
	}
	s.wake(now)

	s.threadTicks++
	if s.threadTicks >= s.cfg.TimeSlice {
		s.yieldOnReturn = true
	}
}
