package threads

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMemory indica que no hay lugar para otro hilo (MaxThreads).
	ErrNoMemory = errors.New("sin memoria para crear el hilo")
	// ErrBadPriority se devuelve ante prioridades fuera de [PriMin, PriMax].
	ErrBadPriority = errors.New("prioridad fuera de rango")
	// ErrNilFunction se devuelve al crear un hilo sin función.
	ErrNilFunction = errors.New("hilo sin función")
	// ErrAlreadyRunning se devuelve si Run se llama dos veces.
	ErrAlreadyRunning = errors.New("el planificador ya está corriendo")
	// ErrHalted se devuelve al inspeccionar un kernel detenido por pánico.
	ErrHalted = errors.New("kernel detenido")
)

// KernelPanic es una violación de invariante del kernel. Detiene el kernel y
// Run la devuelve; nunca se recupera.
type KernelPanic struct {
	Tid     Tid
	Thread  string
	Message string
}

func (p *KernelPanic) Error() string {
	return fmt.Sprintf("Kernel PANIC en hilo %d (%s): %s", p.Tid, p.Thread, p.Message)
}
