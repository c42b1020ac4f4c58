package threads

import (
	"fmt"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63

	NiceMin     = -20
	NiceDefault = 0
	NiceMax     = 20

	threadMagic = 0xcd6abf4b
)

// Tid identifica un hilo.
type Tid int

const TidError Tid = -1

type Status int

const (
	StatusRunning Status = iota
	StatusReady
	StatusBlocked
	StatusDying
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusReady:
		return "READY"
	case StatusBlocked:
		return "BLOCKED"
	case StatusDying:
		return "DYING"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// AddressSpace es el espacio de direcciones de un hilo de usuario. El
// planificador lo activa en cada cambio de contexto.
type AddressSpace interface {
	Activate()
}

// Thread es el bloque de control de un hilo del kernel.
type Thread struct {
	tid    Tid
	name   string
	status Status

	priority     int // efectiva, incluye donaciones
	basePriority int
	waitOnLock   *Lock
	held         []*Lock

	nice      int
	recentCPU Fixed

	wakeTick int64
	magic    uint32

	// Space es nil para hilos puramente del kernel.
	Space AddressSpace
	// Owner es de quien usa el hilo (por ejemplo, el proceso de usuario que
	// corre en él). El planificador no lo toca.
	Owner any

	ctx   any
	freed bool
}

func (t *Thread) Tid() Tid          { return t.tid }
func (t *Thread) Name() string      { return t.name }
func (t *Thread) Status() Status    { return t.status }
func (t *Thread) Priority() int     { return t.priority }
func (t *Thread) BasePriority() int { return t.basePriority }

// Context y SetContext son el almacenamiento opaco de un Switcher.
func (t *Thread) Context() any     { return t.ctx }
func (t *Thread) SetContext(c any) { t.ctx = c }

func (t *Thread) isThread() bool { return t != nil && t.magic == threadMagic }

func (t *Thread) setStatus(st Status) {
	if t.status != st {
		utils.Logger().Debug(fmt.Sprintf("## (%d) - Pasa del estado %s al estado %s", t.tid, t.status, st))
	}
	t.status = st
}

// ThreadInfo es una foto de un hilo para inspección.
type ThreadInfo struct {
	Tid          Tid    `json:"tid"`
	Name         string `json:"nombre"`
	Status       string `json:"estado"`
	Priority     int    `json:"prioridad"`
	BasePriority int    `json:"prioridad_base"`
	Nice         int    `json:"nice"`
	RecentCPU    int    `json:"recent_cpu"`
	WaitingOn    string `json:"esperando_lock,omitempty"`
	HeldLocks    int    `json:"locks_tomados"`
}

func (t *Thread) info() ThreadInfo {
	ti := ThreadInfo{
		Tid:          t.tid,
		Name:         t.name,
		Status:       t.status.String(),
		Priority:     t.priority,
		BasePriority: t.basePriority,
		Nice:         t.nice,
		RecentCPU:    t.recentCPU.Times100(),
		HeldLocks:    len(t.held),
	}
	if t.waitOnLock != nil {
		ti.WaitingOn = t.waitOnLock.name
	}
	return ti
}
