package threads

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// Config son las opciones del planificador.
type Config struct {
	// MLFQS reemplaza las prioridades fijas con donación por la cola
	// multinivel con realimentación.
	MLFQS bool
	// TimeSlice es la cantidad de ticks que un hilo corre antes de ceder.
	TimeSlice int
	// TimerFreq es la cantidad de ticks por segundo.
	TimerFreq int
	// MaxThreads limita los hilos vivos (0 = sin límite).
	MaxThreads int
	// Switcher es la primitiva de cambio de contexto (nil = goroutines).
	Switcher Switcher
}

func DefaultConfig() Config {
	return Config{TimeSlice: 4, TimerFreq: 100}
}

// Stats son las estadísticas de ticks del planificador.
type Stats struct {
	IdleTicks   int64 `json:"idle_ticks"`
	KernelTicks int64 `json:"kernel_ticks"`
	UserTicks   int64 `json:"user_ticks"`
	Switches    int64 `json:"cambios_contexto"`
	Created     int64 `json:"hilos_creados"`
	Destroyed   int64 `json:"hilos_destruidos"`
}

// Scheduler es el planificador de un CPU. Todo su estado lo modifica el hilo
// en ejecución con interrupciones deshabilitadas.
type Scheduler struct {
	cfg Config
	sw  Switcher
	log *slog.Logger

	mu            sync.Mutex
	intrOff       bool
	inIntr        bool
	yieldOnReturn bool

	irqMu      sync.Mutex
	irqQueue   []func()
	irqPending atomic.Bool
	irq        *utils.Semaforo
	sources    atomic.Int32

	current *Thread
	initial *Thread
	idle    *Thread

	ready       readyQueues
	sleeping    []*Thread
	all         []*Thread
	destruction []*Thread

	nextTid     Tid
	live        int
	threadTicks int
	now         int64
	loadAvg     Fixed
	stats       Stats

	started  bool
	halt     chan struct{}
	haltOnce sync.Once
	err      error
}

func NewScheduler(cfg Config) *Scheduler {
	if cfg.TimeSlice <= 0 {
		cfg.TimeSlice = 4
	}
	if cfg.TimerFreq <= 0 {
		cfg.TimerFreq = 100
	}
	sw := cfg.Switcher
	if sw == nil {
		sw = NewGoroutineSwitcher()
	}
	return &Scheduler{
		cfg:     cfg,
		sw:      sw,
		log:     utils.Logger(),
		irq:     utils.NewSemaforo(1),
		nextTid: 1,
		halt:    make(chan struct{}),
	}
}

func (s *Scheduler) MLFQS() bool { return s.cfg.MLFQS }

// Run arranca el kernel con un hilo inicial que ejecuta fn. Vuelve cuando fn
// termina (apagado) o cuando un pánico del kernel lo detiene.
func (s *Scheduler) Run(name string, fn func()) error {
	if s.started {
		return ErrAlreadyRunning
	}
	s.started = true

	s.mu.Lock()
	s.intrOff = true
	t := s.newThread(name, PriDefault, nil)
	t.setStatus(StatusRunning)
	s.initial = t
	s.current = t
	s.sw.Launch(t, func() {
		defer s.recoverThread()
		s.start(fn)
	})
	s.log.Info(fmt.Sprintf("## (%d) - Arranca el kernel", t.tid), "algoritmo", s.algoritmo())
	s.sw.Start(t)

	<-s.halt
	return s.err
}

func (s *Scheduler) algoritmo() string {
	if s.cfg.MLFQS {
		return "MLFQS"
	}
	return "PRIORIDADES"
}

// start corre en el hilo inicial: crea el idle, habilita interrupciones y
// ejecuta fn.
func (s *Scheduler) start(fn func()) {
	started := s.NewSemaphore(0)
	if _, err := s.Create("idle", PriMin, func() { s.idleLoop(started) }); err != nil {
		s.Panicf("no se pudo crear el hilo idle: %v", err)
	}
	s.EnableIntr()
	started.Down()

	fn()

	s.DisableIntr()
	s.log.Info(fmt.Sprintf("## (%d) - Apagando el kernel", s.current.tid),
		"idle_ticks", s.stats.IdleTicks, "kernel_ticks", s.stats.KernelTicks, "user_ticks", s.stats.UserTicks)
	s.stop(nil)
	park()
}

func (s *Scheduler) idleLoop(started *Semaphore) {
	s.idle = s.current
	started.Up()
	for {
		s.DisableIntr()
		s.Block()
		// sti; hlt
		s.intrOff = false
		s.mu.Unlock()
		s.hlt()
		s.EnableIntr()
	}
}

// recoverThread convierte un panic de Go en un hilo en un pánico del kernel.
func (s *Scheduler) recoverThread() {
	if r := recover(); r != nil {
		if !s.intrOff {
			s.mu.Lock()
			s.intrOff = true
		}
		s.Panicf("panic en el hilo: %v", r)
	}
}

// Panicf detiene el kernel con un *KernelPanic. No vuelve.
func (s *Scheduler) Panicf(format string, args ...any) {
	p := &KernelPanic{Tid: TidError, Message: fmt.Sprintf(format, args...)}
	if s.current != nil {
		p.Tid = s.current.tid
		p.Thread = s.current.name
	}
	utils.LoggerError().Error(p.Error())
	s.stop(p)
	park()
}

func (s *Scheduler) stop(err error) {
	s.haltOnce.Do(func() {
		s.err = err
		if s.intrOff {
			s.intrOff = false
			s.mu.Unlock()
		}
		close(s.halt)
	})
}

// PowerOff apaga el kernel desde cualquier hilo sin esperar al resto. Run
// vuelve sin error. No vuelve.
func (s *Scheduler) PowerOff() {
	s.DisableIntr()
	s.log.Info(fmt.Sprintf("## (%d) - Apagado pedido por %s", s.current.tid, s.current.name))
	s.stop(nil)
	park()
}

// Halted indica si el kernel se detuvo.
func (s *Scheduler) Halted() bool {
	select {
	case <-s.halt:
		return true
	default:
		return false
	}
}

// Done se cierra cuando el kernel se detiene.
func (s *Scheduler) Done() <-chan struct{} { return s.halt }

func (s *Scheduler) newThread(name string, priority int, parent *Thread) *Thread {
	t := &Thread{
		tid:          s.nextTid,
		name:         name,
		status:       StatusBlocked,
		priority:     priority,
		basePriority: priority,
		magic:        threadMagic,
	}
	s.nextTid++
	if parent != nil {
		t.nice = parent.nice
		t.recentCPU = parent.recentCPU
	}
	if s.cfg.MLFQS {
		t.basePriority = mlfqsPriority(t.recentCPU, t.nice)
		t.priority = t.basePriority
	}
	s.all = append(s.all, t)
	s.live++
	s.stats.Created++
	return t
}

// Create crea un hilo que ejecuta fn y lo pone en READY. Si tiene más
// prioridad que el hilo actual, el actual cede el CPU.
func (s *Scheduler) Create(name string, priority int, fn func()) (Tid, error) {
	if fn == nil {
		return TidError, ErrNilFunction
	}
	if priority < PriMin || priority > PriMax {
		return TidError, fmt.Errorf("%w: %d", ErrBadPriority, priority)
	}
	old := s.DisableIntr()
	if s.cfg.MaxThreads > 0 && s.live >= s.cfg.MaxThreads {
		s.SetIntrLevel(old)
		return TidError, ErrNoMemory
	}
	t := s.newThread(name, priority, s.current)
	s.sw.Launch(t, func() {
		defer s.recoverThread()
		s.EnableIntr()
		fn()
		s.Exit()
	})
	s.log.Debug(fmt.Sprintf("## (%d) - Se crea el hilo %s", t.tid, name), "prioridad", t.priority)
	s.Unblock(t)
	if !s.inIntr && t.priority > s.current.priority {
		s.yieldLocked()
	}
	s.SetIntrLevel(old)
	return t.tid, nil
}

// Current devuelve el hilo en ejecución.
func (s *Scheduler) Current() *Thread {
	t := s.current
	if !t.isThread() {
		s.Panicf("magic corrupto en el hilo actual")
	}
	if t.status != StatusRunning {
		s.Panicf("el hilo actual %d está en estado %s", t.tid, t.status)
	}
	return t
}

// Block duerme al hilo actual hasta que alguien lo despierte con Unblock.
// Requiere interrupciones deshabilitadas.
func (s *Scheduler) Block() {
	if s.inIntr {
		s.Panicf("Block en contexto de interrupción")
	}
	if !s.intrOff {
		s.Panicf("Block con interrupciones habilitadas")
	}
	s.current.setStatus(StatusBlocked)
	s.schedule()
}

// Unblock pasa t de BLOCKED a READY. No expropia al hilo actual: decide quien
// llama.
func (s *Scheduler) Unblock(t *Thread) {
	if !t.isThread() {
		s.Panicf("Unblock de un hilo inválido")
	}
	old := s.DisableIntr()
	if t.status != StatusBlocked {
		s.Panicf("Unblock del hilo %d en estado %s", t.tid, t.status)
	}
	t.setStatus(StatusReady)
	s.ready.push(t)
	s.SetIntrLevel(old)
}

// preemptIfOutranked cede el CPU (o lo pide al volver de la interrupción) si
// t tiene más prioridad que el hilo actual.
func (s *Scheduler) preemptIfOutranked(t *Thread) {
	if t.priority <= s.current.priority {
		return
	}
	if s.inIntr {
		s.yieldOnReturn = true
		return
	}
	s.yieldLocked()
}

// Yield cede el CPU. El hilo actual queda READY.
func (s *Scheduler) Yield() {
	if s.inIntr {
		s.Panicf("Yield en contexto de interrupción")
	}
	old := s.DisableIntr()
	s.yieldLocked()
	s.SetIntrLevel(old)
}

func (s *Scheduler) yieldLocked() {
	cur := s.current
	if cur != s.idle {
		s.ready.push(cur)
	}
	s.doSchedule(StatusReady)
}

// Exit termina el hilo actual. No vuelve.
func (s *Scheduler) Exit() {
	if s.inIntr {
		s.Panicf("Exit en contexto de interrupción")
	}
	s.DisableIntr()
	cur := s.current
	for i, t := range s.all {
		if t == cur {
			s.all = append(s.all[:i:i], s.all[i+1:]...)
			break
		}
	}
	s.log.Debug(fmt.Sprintf("## (%d) - Finaliza el hilo", cur.tid))
	s.doSchedule(StatusDying)
	s.Panicf("un hilo muerto volvió a ejecutarse")
}

// doSchedule destruye los hilos pendientes, cambia el estado del actual y
// planifica.
func (s *Scheduler) doSchedule(status Status) {
	if !s.intrOff {
		s.Panicf("planificando con interrupciones habilitadas")
	}
	if s.current.status != StatusRunning {
		s.Panicf("planificando desde un hilo en estado %s", s.current.status)
	}
	for _, t := range s.destruction {
		s.destroy(t)
	}
	s.destruction = s.destruction[:0]
	s.current.setStatus(status)
	s.schedule()
}

func (s *Scheduler) nextThreadToRun() *Thread {
	if t := s.ready.pop(); t != nil {
		return t
	}
	if s.idle == nil {
		s.Panicf("no hay hilos para ejecutar")
	}
	return s.idle
}

func (s *Scheduler) schedule() {
	cur := s.current
	next := s.nextThreadToRun()

	if !s.intrOff {
		s.Panicf("schedule con interrupciones habilitadas")
	}
	if cur.status == StatusRunning {
		s.Panicf("schedule con el hilo actual en RUNNING")
	}
	if !next.isThread() {
		s.Panicf("magic corrupto en el próximo hilo")
	}

	next.setStatus(StatusRunning)
	s.current = next
	s.threadTicks = 0
	s.yieldOnReturn = false
	if next.Space != nil {
		next.Space.Activate()
	}
	if cur == next {
		return
	}
	s.stats.Switches++

	if cur.status == StatusDying {
		if cur != s.initial {
			s.destruction = append(s.destruction, cur)
		}
		s.sw.Exit(cur, next)
		return
	}
	s.sw.Switch(cur, next)
}

// destroy libera un hilo muerto. Sólo se llama después de haber cambiado de
// contexto fuera de él.
func (s *Scheduler) destroy(t *Thread) {
	if t.freed || t == s.current {
		s.Panicf("destrucción inválida del hilo %d", t.tid)
	}
	t.freed = true
	t.magic = 0
	s.sw.Release(t)
	s.live--
	s.stats.Destroyed++
	s.log.Debug(fmt.Sprintf("## (%d) - Se liberan los recursos del hilo", t.tid))
}

// AllThreads devuelve una foto de los hilos vivos, en orden de creación.
func (s *Scheduler) AllThreads() []ThreadInfo {
	old := s.DisableIntr()
	out := s.snapshot()
	s.SetIntrLevel(old)
	return out
}

func (s *Scheduler) snapshot() []ThreadInfo {
	out := make([]ThreadInfo, 0, len(s.all))
	for _, t := range s.all {
		out = append(out, t.info())
	}
	return out
}

// Stats devuelve las estadísticas acumuladas.
func (s *Scheduler) Stats() Stats {
	old := s.DisableIntr()
	st := s.stats
	s.SetIntrLevel(old)
	return st
}

// Observe ejecuta fn desde fuera del kernel (otra goroutine) con los
// registros del planificador congelados. fn recibe la foto de los hilos y
// las estadísticas.
func (s *Scheduler) Observe(fn func(threads []ThreadInfo, st Stats, loadAvg int)) {
	if !s.Halted() {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn(s.snapshot(), s.stats, s.loadAvg.Times100())
}
