// Package vm implementa la memoria virtual de los procesos de usuario:
// tabla de páginas suplementaria, carga diferida, tabla de marcos con
// reemplazo, swap y fork con copy-on-write.
package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/LosCuervosXeneizes/kernelvm/devices"
	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift

	// SectorsPerPage es la cantidad de sectores de disco de un slot de swap.
	SectorsPerPage = PageSize / devices.SectorSize

	// KernBase es la primera dirección del kernel.
	KernBase uintptr = 0x8004000000
	// UserStack es el tope de la pila de usuario.
	UserStack uintptr = 0x47480000

	DefaultStackLimit uintptr = 1 << 30
)

var (
	// Recursos agotados.
	ErrNoFrame  = errors.New("no hay marcos libres ni víctimas para desalojar")
	ErrSwapFull = errors.New("swap lleno")

	// Fallos del proceso de usuario.
	ErrSegfault     = errors.New("segmentation fault")
	ErrWriteProtect = errors.New("escritura sobre página de sólo lectura")
	ErrBadAddress   = errors.New("dirección inválida")

	// ErrKernelFault es un fallo de página sin resolver en modo kernel.
	ErrKernelFault = errors.New("fallo de página en el kernel")

	ErrBadMapping = errors.New("mapeo inválido")
)

func PgRoundDown(va uintptr) uintptr { return va &^ (PageSize - 1) }
func PgRoundUp(va uintptr) uintptr   { return (va + PageSize - 1) &^ (PageSize - 1) }
func PgOfs(va uintptr) uintptr       { return va & (PageSize - 1) }

// IsUserVaddr indica si va está en el espacio de usuario.
func IsUserVaddr(va uintptr) bool { return va < KernBase }

// Policy es el algoritmo de reemplazo de marcos.
type Policy int

const (
	PolicyFIFO Policy = iota
	PolicyClock
)

func (p Policy) String() string {
	if p == PolicyClock {
		return "CLOCK"
	}
	return "FIFO"
}

// ParsePolicy traduce el ALGORITMO_REEMPLAZO de la configuración.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(s) {
	case "", "FIFO":
		return PolicyFIFO, nil
	case "CLOCK":
		return PolicyClock, nil
	}
	return PolicyFIFO, fmt.Errorf("algoritmo de reemplazo desconocido: %q", s)
}

type Config struct {
	// Frames es la cantidad de marcos del pool de usuario.
	Frames int
	Policy Policy
	// StackLimit es el tamaño máximo de la pila debajo de UserStack.
	StackLimit uintptr
}

func DefaultConfig() Config {
	return Config{Frames: 64, Policy: PolicyFIFO, StackLimit: DefaultStackLimit}
}

// VM es el estado global de memoria: marcos, swap y espacios de direcciones.
// Todo lo compartido se protege con un único lock.
type VM struct {
	cfg    Config
	lock   sync.Locker
	mem    *PhysMem
	frames *FrameTable
	swap   *Swap
	active atomic.Pointer[Space]
	spaces map[int]*Space
}

// New crea la VM sobre el disco de swap. lock protege marcos, swap y tablas;
// dentro del kernel debe ser un lock del planificador (nil = sync.Mutex).
func New(cfg Config, swapDisk devices.Disk, lock sync.Locker) (*VM, error) {
	if cfg.Frames <= 0 {
		return nil, fmt.Errorf("cantidad de marcos inválida: %d", cfg.Frames)
	}
	if swapDisk == nil {
		return nil, errors.New("falta el disco de swap")
	}
	if cfg.StackLimit == 0 || cfg.StackLimit > UserStack {
		cfg.StackLimit = DefaultStackLimit
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}
	v := &VM{
		cfg:    cfg,
		lock:   lock,
		mem:    NewPhysMem(cfg.Frames),
		swap:   NewSwap(swapDisk),
		spaces: make(map[int]*Space),
	}
	v.frames = newFrameTable(v.mem, v.swap, cfg.Policy, lock)
	utils.Logger().Info("Memoria virtual inicializada",
		"marcos", cfg.Frames, "slots_swap", v.swap.Slots(), "algoritmo", cfg.Policy.String())
	return v, nil
}

func (v *VM) Config() Config      { return v.cfg }
func (v *VM) Frames() *FrameTable { return v.frames }
func (v *VM) Swap() *Swap         { return v.swap }
func (v *VM) PhysMem() *PhysMem   { return v.mem }

// Active devuelve el espacio activado en el último cambio de contexto.
func (v *VM) Active() *Space { return v.active.Load() }

// NewSpace crea el espacio de direcciones vacío del proceso pid.
func (v *VM) NewSpace(pid int) *Space {
	s := &Space{
		vm:      v,
		pid:     pid,
		pt:      NewPageTable(),
		regions: make(map[uintptr]*mmapRegion),
	}
	s.spt = &SPT{space: s, pages: make(map[uintptr]*Page)}
	v.lock.Lock()
	v.spaces[pid] = s
	v.lock.Unlock()
	return s
}

// Space busca el espacio del proceso pid.
func (v *VM) Space(pid int) *Space {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.spaces[pid]
}

// Spaces devuelve los pids con espacio de direcciones, ordenados.
func (v *VM) Spaces() []int {
	v.lock.Lock()
	defer v.lock.Unlock()
	out := make([]int, 0, len(v.spaces))
	for pid := range v.spaces {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// Space es el espacio de direcciones de un proceso: su tabla de páginas
// suplementaria y su tabla de páginas de hardware.
type Space struct {
	vm      *VM
	pid     int
	spt     *SPT
	pt      *PageTable
	regions map[uintptr]*mmapRegion
	metrics metricas
}

func (s *Space) PID() int              { return s.pid }
func (s *Space) VM() *VM               { return s.vm }
func (s *Space) SPT() *SPT             { return s.spt }
func (s *Space) PageTable() *PageTable { return s.pt }

// Activate instala el espacio en el CPU simulado.
func (s *Space) Activate() { s.vm.active.Store(s) }

// Destroy libera todas las páginas del espacio y lo da de baja.
func (s *Space) Destroy() {
	s.spt.Kill()
	s.vm.lock.Lock()
	delete(s.vm.spaces, s.pid)
	s.vm.lock.Unlock()
	s.vm.active.CompareAndSwap(s, nil)
}
