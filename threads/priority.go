package threads

import "fmt"

// SetPriority fija la prioridad base del hilo actual. En MLFQS se ignora.
// Si el hilo deja de ser el de mayor prioridad, cede el CPU.
func (s *Scheduler) SetPriority(priority int) {
	if s.cfg.MLFQS {
		return
	}
	if priority < PriMin || priority > PriMax {
		s.Panicf("prioridad fuera de rango: %d", priority)
	}
	old := s.DisableIntr()
	cur := s.current
	cur.basePriority = priority
	s.refreshPriority(cur)
	if s.ready.maxPriority() > cur.priority {
		s.yieldLocked()
	}
	s.SetIntrLevel(old)
}

// Priority devuelve la prioridad efectiva del hilo actual.
func (s *Scheduler) Priority() int {
	return s.current.priority
}

// donatedPriority es la mayor prioridad donada a t por los locks que tiene.
func donatedPriority(t *Thread) int {
	best := -1
	for _, l := range t.held {
		if p := l.maxDonation(); p > best {
			best = p
		}
	}
	return best
}

// refreshPriority recalcula la prioridad efectiva de t y propaga el cambio
// por la cadena de locks que espera. Requiere interrupciones deshabilitadas.
func (s *Scheduler) refreshPriority(t *Thread) {
	for depth := 0; t != nil; depth++ {
		if depth > len(s.all) {
			s.Panicf("ciclo en la cadena de donación")
		}
		p := t.basePriority
		if !s.cfg.MLFQS {
			if d := donatedPriority(t); d > p {
				p = d
			}
		}
		if p == t.priority {
			return
		}
		s.setEffectivePriority(t, p)

		l := t.waitOnLock
		if l == nil || s.cfg.MLFQS {
			return
		}
		t = l.holder
	}
}

// setEffectivePriority cambia la prioridad efectiva de t manteniendo
// consistentes la cola de listos y los multiconjuntos de donación.
func (s *Scheduler) setEffectivePriority(t *Thread, p int) {
	old := t.priority
	if t.status == StatusReady && t != s.idle {
		if !s.ready.remove(t, old) {
			s.Panicf("hilo %d READY fuera de la cola de listos", t.tid)
		}
		t.priority = p
		s.ready.push(t)
	} else {
		t.priority = p
	}
	if l := t.waitOnLock; l != nil && !s.cfg.MLFQS {
		l.donations[old]--
		l.donations[p]++
	}
	s.log.Debug(fmt.Sprintf("## (%d) - Cambia de prioridad %d a %d", t.tid, old, p))
}
