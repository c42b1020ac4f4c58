package threads

import "fmt"

// Semaphore es un semáforo contador. Los hilos en espera se despiertan en
// orden de prioridad efectiva, FIFO entre iguales.
type Semaphore struct {
	s       *Scheduler
	value   int
	waiters []*Thread
}

func (s *Scheduler) NewSemaphore(value int) *Semaphore {
	if value < 0 {
		s.Panicf("semáforo con valor inicial negativo: %d", value)
	}
	return &Semaphore{s: s, value: value}
}

// Down espera a que el valor sea positivo y lo decrementa.
func (m *Semaphore) Down() {
	s := m.s
	if s.inIntr {
		s.Panicf("Down en contexto de interrupción")
	}
	old := s.DisableIntr()
	for m.value == 0 {
		m.waiters = append(m.waiters, s.current)
		s.Block()
	}
	m.value--
	s.SetIntrLevel(old)
}

// TryDown decrementa sólo si el valor es positivo. Se puede llamar desde un
// handler.
func (m *Semaphore) TryDown() bool {
	old := m.s.DisableIntr()
	ok := m.value > 0
	if ok {
		m.value--
	}
	m.s.SetIntrLevel(old)
	return ok
}

// Up incrementa el valor y despierta al hilo en espera de mayor prioridad.
// Si ese hilo supera al actual, cede el CPU (al volver, si es un handler).
func (m *Semaphore) Up() {
	s := m.s
	old := s.DisableIntr()
	var woken *Thread
	if len(m.waiters) > 0 {
		woken = m.popMax()
		s.Unblock(woken)
	}
	m.value++
	if woken != nil {
		s.preemptIfOutranked(woken)
	}
	s.SetIntrLevel(old)
}

// Value devuelve el valor actual.
func (m *Semaphore) Value() int {
	old := m.s.DisableIntr()
	v := m.value
	m.s.SetIntrLevel(old)
	return v
}

func (m *Semaphore) popMax() *Thread {
	best := 0
	for i, t := range m.waiters {
		if t.priority > m.waiters[best].priority {
			best = i
		}
	}
	t := m.waiters[best]
	m.waiters = append(m.waiters[:best:best], m.waiters[best+1:]...)
	return t
}

// Lock es un semáforo binario con dueño. Un hilo bloqueado en Acquire dona
// su prioridad al dueño, y a los dueños de los locks que éste espere.
type Lock struct {
	s      *Scheduler
	name   string
	holder *Thread
	sema   *Semaphore
	// donations[p] cuenta los hilos de prioridad efectiva p esperando el lock.
	donations [PriMax + 1]int
}

func (s *Scheduler) NewLock(name string) *Lock {
	return &Lock{s: s, name: name, sema: s.NewSemaphore(1)}
}

func (l *Lock) Name() string { return l.name }

// Acquire toma el lock, durmiendo hasta que esté libre.
func (l *Lock) Acquire() {
	s := l.s
	if s.inIntr {
		s.Panicf("Acquire del lock %q en contexto de interrupción", l.name)
	}
	old := s.DisableIntr()
	cur := s.Current()
	if l.holder == cur {
		s.Panicf("el hilo %d ya tiene el lock %q", cur.tid, l.name)
	}
	if l.holder != nil && !s.cfg.MLFQS {
		cur.waitOnLock = l
		l.donations[cur.priority]++
		s.refreshPriority(l.holder)
	}
	l.sema.Down()
	if cur.waitOnLock == l {
		l.donations[cur.priority]--
		cur.waitOnLock = nil
	}
	l.holder = cur
	cur.held = append(cur.held, l)
	if !s.cfg.MLFQS {
		s.refreshPriority(cur)
	}
	s.SetIntrLevel(old)
}

// TryAcquire toma el lock sólo si está libre.
func (l *Lock) TryAcquire() bool {
	s := l.s
	old := s.DisableIntr()
	cur := s.Current()
	if l.holder == cur {
		s.Panicf("el hilo %d ya tiene el lock %q", cur.tid, l.name)
	}
	ok := l.sema.TryDown()
	if ok {
		l.holder = cur
		cur.held = append(cur.held, l)
		if !s.cfg.MLFQS {
			s.refreshPriority(cur)
		}
	}
	s.SetIntrLevel(old)
	return ok
}

// Release suelta el lock. El hilo pierde sólo las donaciones recibidas por
// este lock.
func (l *Lock) Release() {
	s := l.s
	old := s.DisableIntr()
	cur := s.Current()
	if l.holder != cur {
		s.Panicf("el hilo %d suelta el lock %q sin tenerlo", cur.tid, l.name)
	}
	l.holder = nil
	for i, h := range cur.held {
		if h == l {
			cur.held = append(cur.held[:i:i], cur.held[i+1:]...)
			break
		}
	}
	if !s.cfg.MLFQS {
		s.refreshPriority(cur)
	}
	l.sema.Up()
	s.SetIntrLevel(old)
}

// HeldByCurrent indica si el hilo actual tiene el lock.
func (l *Lock) HeldByCurrent() bool {
	return l.holder != nil && l.holder == l.s.current
}

// Holder devuelve el dueño del lock, o nil.
func (l *Lock) Holder() *Thread { return l.holder }

// Lock y Unlock hacen de *Lock un sync.Locker.
func (l *Lock) Lock()   { l.Acquire() }
func (l *Lock) Unlock() { l.Release() }

func (l *Lock) maxDonation() int {
	for p := PriMax; p >= PriMin; p-- {
		if l.donations[p] > 0 {
			return p
		}
	}
	return -1
}

func (l *Lock) String() string {
	if l.holder == nil {
		return fmt.Sprintf("lock %q libre", l.name)
	}
	return fmt.Sprintf("lock %q de %d", l.name, l.holder.tid)
}

// Cond es una variable de condición con semántica Mesa.
type Cond struct {
	s       *Scheduler
	waiters []*condWaiter
}

type condWaiter struct {
	t    *Thread
	sema *Semaphore
}

func (s *Scheduler) NewCond() *Cond { return &Cond{s: s} }

// Wait suelta l, espera una señal y vuelve a tomar l. Quien llama debe
// volver a verificar la condición.
func (c *Cond) Wait(l *Lock) {
	s := c.s
	if s.inIntr {
		s.Panicf("Wait en contexto de interrupción")
	}
	if !l.HeldByCurrent() {
		s.Panicf("Wait sin tener el lock %q", l.name)
	}
	w := &condWaiter{t: s.current, sema: s.NewSemaphore(0)}
	c.waiters = append(c.waiters, w)
	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal despierta al hilo en espera de mayor prioridad.
func (c *Cond) Signal(l *Lock) {
	s := c.s
	if !l.HeldByCurrent() {
		s.Panicf("Signal sin tener el lock %q", l.name)
	}
	if len(c.waiters) == 0 {
		return
	}
	best := 0
	for i, w := range c.waiters {
		if w.t.priority > c.waiters[best].t.priority {
			best = i
		}
	}
	w := c.waiters[best]
	c.waiters = append(c.waiters[:best:best], c.waiters[best+1:]...)
	w.sema.Up()
}

// Broadcast despierta a todos los hilos en espera.
func (c *Cond) Broadcast(l *Lock) {
	for len(c.waiters) > 0 {
		c.Signal(l)
	}
}
