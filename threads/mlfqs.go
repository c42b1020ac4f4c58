package threads

// MLFQSPriority calcula PRI_MAX - recent_cpu/4 - nice*2 en punto fijo, sin
// truncar ni acotar.
func MLFQSPriority(recentCPU Fixed, nice int) Fixed {
	return IntToFixed(PriMax).Sub(recentCPU.DivInt(4)).SubInt(nice * 2)
}

func mlfqsPriority(recentCPU Fixed, nice int) int {
	p := MLFQSPriority(recentCPU, nice).Trunc()
	if p < PriMin {
		return PriMin
	}
	if p > PriMax {
		return PriMax
	}
	return p
}

// SetNice fija el nice del hilo actual, recalcula su prioridad y cede el CPU
// si ya no es el de mayor prioridad.
func (s *Scheduler) SetNice(nice int) {
	if nice < NiceMin {
		nice = NiceMin
	}
	if nice > NiceMax {
		nice = NiceMax
	}
	old := s.DisableIntr()
	cur := s.current
	cur.nice = nice
	if s.cfg.MLFQS {
		s.recomputeMLFQS(cur)
		if s.ready.maxPriority() > cur.priority {
			s.yieldLocked()
		}
	}
	s.SetIntrLevel(old)
}

// Nice devuelve el nice del hilo actual.
func (s *Scheduler) Nice() int { return s.current.nice }

// RecentCPU devuelve 100 veces el recent_cpu del hilo actual, redondeado.
func (s *Scheduler) RecentCPU() int {
	old := s.DisableIntr()
	v := s.current.recentCPU.Times100()
	s.SetIntrLevel(old)
	return v
}

// LoadAvg devuelve 100 veces el load_avg del sistema, redondeado.
func (s *Scheduler) LoadAvg() int {
	old := s.DisableIntr()
	v := s.loadAvg.Times100()
	s.SetIntrLevel(old)
	return v
}

func (s *Scheduler) recomputeMLFQS(t *Thread) {
	if t == s.idle {
		return
	}
	p := mlfqsPriority(t.recentCPU, t.nice)
	t.basePriority = p
	if p != t.priority {
		s.setEffectivePriority(t, p)
	}
}

func (s *Scheduler) readyThreads() int {
	n := s.ready.len()
	if s.current != s.idle {
		n++
	}
	return n
}

// mlfqsTick corre dentro de Tick.
func (s *Scheduler) mlfqsTick(now int64) {
	cur := s.current
	if cur != s.idle {
		cur.recentCPU = cur.recentCPU.AddInt(1)
	}

	if now%int64(s.cfg.TimerFreq) == 0 {
		s.loadAvg = IntToFixed(59).DivInt(60).Mul(s.loadAvg).
			Add(IntToFixed(1).DivInt(60).MulInt(s.readyThreads()))
		twice := s.loadAvg.MulInt(2)
		coef := twice.Div(twice.AddInt(1))
		for _, t := range s.all {
			if t == s.idle {
				continue
			}
			t.recentCPU = coef.Mul(t.recentCPU).AddInt(t.nice)
		}
		for _, t := range s.all {
			s.recomputeMLFQS(t)
		}
	} else if now%4 == 0 {
		s.recomputeMLFQS(cur)
	}

	if s.ready.maxPriority() > cur.priority {
		s.yieldOnReturn = true
	}
}
