package utils

// Semaforo es una señal acotada implementada con canales: Signal deja un
// permiso (si ya hay "capacidad" pendientes no hace nada) y Wait consume uno.
// El kernel la usa como línea de interrupción: los avisos que llegan mientras
// nadie espera se acumulan hasta la capacidad y no se pierden.
type Semaforo struct {
	c chan struct{}
}

// NewSemaforo crea un semáforo sin permisos y con la capacidad indicada
func NewSemaforo(capacidad int) *Semaforo {
	if capacidad <= 0 {
		capacidad = 1
	}
	return &Semaforo{
		c: make(chan struct{}, capacidad),
	}
}

// Wait (P) consume un permiso, bloquea si no hay
func (s *Semaforo) Wait() {
	<-s.c
}

// Signal (V) agrega un permiso
func (s *Semaforo) Signal() {
	select {
	case s.c <- struct{}{}:
	default:
		// Capacidad completa, el aviso queda coalescido con los pendientes
	}
}

// TryWait intenta consumir un permiso sin bloquear
func (s *Semaforo) TryWait() bool {
	select {
	case <-s.c:
		return true
	default:
		return false
	}
}

// Canal expone el canal para poder esperar dentro de un select
func (s *Semaforo) Canal() <-chan struct{} {
	return s.c
}
