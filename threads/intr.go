package threads

// IntrLevel es el estado de las interrupciones del CPU simulado.
type IntrLevel int

const (
	IntrOff IntrLevel = iota
	IntrOn
)

func (l IntrLevel) String() string {
	if l == IntrOn {
		return "ON"
	}
	return "OFF"
}

// Con interrupciones deshabilitadas el hilo en ejecución tiene tomado s.mu,
// el lock de los registros del planificador. El mutex viaja con el cambio de
// contexto: lo toma un hilo y lo suelta el siguiente.

// IntrLevel devuelve el nivel actual.
func (s *Scheduler) IntrLevel() IntrLevel {
	if s.intrOff {
		return IntrOff
	}
	return IntrOn
}

// DisableIntr deshabilita las interrupciones y devuelve el nivel previo.
func (s *Scheduler) DisableIntr() IntrLevel {
	if s.intrOff {
		return IntrOff
	}
	s.mu.Lock()
	s.intrOff = true
	return IntrOn
}

// EnableIntr habilita las interrupciones. Es un punto de expropiación: se
// atienden las interrupciones pendientes y, si alguna lo pidió, se cede el CPU.
func (s *Scheduler) EnableIntr() {
	if s.inIntr {
		s.Panicf("no se pueden habilitar interrupciones dentro de un handler")
	}
	if !s.intrOff {
		s.mu.Lock()
		s.intrOff = true
	}
	s.serviceInterrupts()
	s.intrOff = false
	s.mu.Unlock()
}

// SetIntrLevel fija el nivel y devuelve el anterior.
func (s *Scheduler) SetIntrLevel(level IntrLevel) IntrLevel {
	old := s.IntrLevel()
	if level == IntrOn {
		s.EnableIntr()
	} else {
		s.DisableIntr()
	}
	return old
}

// Guard deshabilita las interrupciones hasta que se llame a la función
// devuelta, que restaura el nivel previo:
//
//	defer s.Guard()()
func (s *Scheduler) Guard() func() {
	old := s.DisableIntr()
	return func() { s.SetIntrLevel(old) }
}

// IntrContext indica si se está ejecutando un handler de interrupción.
func (s *Scheduler) IntrContext() bool { return s.inIntr }

// YieldOnReturn pide ceder el CPU al volver del handler en curso.
func (s *Scheduler) YieldOnReturn() {
	if !s.inIntr {
		s.Panicf("YieldOnReturn fuera de un handler de interrupción")
	}
	s.yieldOnReturn = true
}

// Interrupt encola una interrupción externa. Se puede llamar desde cualquier
// goroutine; el handler corre más tarde en el hilo que tenga el CPU, con
// interrupciones deshabilitadas y en contexto de interrupción.
func (s *Scheduler) Interrupt(handler func()) {
	s.irqMu.Lock()
	s.irqQueue = append(s.irqQueue, handler)
	s.irqMu.Unlock()
	s.irqPending.Store(true)
	s.irq.Signal()
}

// AttachSource registra una fuente de interrupciones (un timer). Sin fuentes,
// un kernel con todos sus hilos bloqueados nunca despertaría.
func (s *Scheduler) AttachSource() { s.sources.Add(1) }

// DetachSource revierte AttachSource.
func (s *Scheduler) DetachSource() { s.sources.Add(-1) }

// Preempt es un punto de expropiación explícito para hilos que corren mucho
// tiempo sin bloquearse. Con interrupciones deshabilitadas no hace nada.
func (s *Scheduler) Preempt() {
	if s.intrOff || s.inIntr {
		return
	}
	s.EnableIntr()
}

// serviceInterrupts corre con interrupciones deshabilitadas.
func (s *Scheduler) serviceInterrupts() {
	for {
		if s.irqPending.Load() {
			s.irqMu.Lock()
			queue := s.irqQueue
			s.irqQueue = nil
			s.irqPending.Store(false)
			s.irqMu.Unlock()

			s.inIntr = true
			for _, h := range queue {
				h()
			}
			s.inIntr = false
		}
		if !s.yieldOnReturn {
			return
		}
		s.yieldOnReturn = false
		s.yieldLocked()
	}
}

// hlt espera una interrupción. Lo usa el hilo idle con interrupciones
// habilitadas.
func (s *Scheduler) hlt() {
	if !s.irqPending.Load() && s.sources.Load() == 0 {
		s.DisableIntr()
		s.Panicf("todos los hilos están bloqueados y no hay fuentes de interrupción")
	}
	select {
	case <-s.irq.Canal():
	case <-s.halt:
		park()
	}
}
