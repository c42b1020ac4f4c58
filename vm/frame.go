package vm

import (
	"fmt"
	"sync"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// Frame es un marco físico en uso. Con copy-on-write lo comparten varias
// páginas; la cantidad de dueños es su contador de referencias.
type Frame struct {
	index  int
	kva    []byte
	owners []*Page
	pinned bool
}

func (f *Frame) Index() int { return f.index }

// Data devuelve la memoria del marco.
func (f *Frame) Data() []byte { return f.kva }

// Refs devuelve la cantidad de páginas que usan el marco.
func (f *Frame) Refs() int { return len(f.owners) }

func (f *Frame) Pinned() bool { return f.pinned }

// FrameTable es la lista global de marcos en uso, en orden de llegada, con
// el algoritmo de reemplazo.
type FrameTable struct {
	lock      sync.Locker
	mem       *PhysMem
	swap      *Swap
	policy    Policy
	frames    []*Frame
	hand      int
	evictions int64
}

func newFrameTable(mem *PhysMem, swap *Swap, policy Policy, lock sync.Locker) *FrameTable {
	return &FrameTable{lock: lock, mem: mem, swap: swap, policy: policy}
}

// Get devuelve un marco en cero, desalojando otro si hace falta. El marco
// queda fijado hasta que se libere con Free.
func (ft *FrameTable) Get() (*Frame, error) {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	return ft.getLocked()
}

// Free suelta un marco obtenido con Get que nunca se asignó a una página.
func (ft *FrameTable) Free(f *Frame) {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	ft.releaseLocked(f)
}

func (ft *FrameTable) getLocked() (*Frame, error) {
	if idx, ok := ft.mem.Alloc(); ok {
		f := &Frame{index: idx, kva: ft.mem.Page(idx), pinned: true}
		ft.frames = append(ft.frames, f)
		return f, nil
	}

	victim := ft.selectVictim()
	if victim == nil {
		utils.LoggerError().Error("No hay marcos para desalojar", "marcos", len(ft.frames))
		return nil, ErrNoFrame
	}
	if err := ft.evictLocked(victim); err != nil {
		return nil, err
	}
	clear(victim.kva)
	victim.pinned = true
	ft.moveToBack(victim)
	return victim, nil
}

// evictable indica si el marco se puede desalojar. Un marco compartido sólo
// si todas sus páginas son anónimas: van juntas a un mismo slot.
func (ft *FrameTable) evictable(f *Frame) bool {
	if f.pinned || len(f.owners) == 0 {
		return false
	}
	if len(f.owners) == 1 {
		return true
	}
	for _, p := range f.owners {
		if _, ok := p.ops.(*anonPage); !ok {
			return false
		}
	}
	return true
}

func (ft *FrameTable) accessed(f *Frame) bool {
	for _, p := range f.owners {
		if p.space.pt.IsAccessed(p.VA) {
			return true
		}
	}
	return false
}

func (ft *FrameTable) clearAccessed(f *Frame) {
	for _, p := range f.owners {
		p.space.pt.SetAccessed(p.VA, false)
	}
}

// selectVictim elige el marco a desalojar, o nil si no hay ninguno posible.
func (ft *FrameTable) selectVictim() *Frame {
	n := len(ft.frames)
	if ft.policy == PolicyClock {
		// Dos vueltas: en la primera se limpian los bits de acceso.
		for i := 0; i < 2*n; i++ {
			if ft.hand >= n {
				ft.hand = 0
			}
			f := ft.frames[ft.hand]
			ft.hand++
			if !ft.evictable(f) {
				continue
			}
			if ft.accessed(f) {
				ft.clearAccessed(f)
				continue
			}
			return f
		}
		return nil
	}
	for _, f := range ft.frames {
		if ft.evictable(f) {
			return f
		}
	}
	return nil
}

// evictLocked guarda el contenido del marco según el tipo de sus páginas y
// las desvincula.
func (ft *FrameTable) evictLocked(f *Frame) error {
	owners := f.owners
	if len(owners) == 1 {
		p := owners[0]
		if err := p.ops.swapOut(p); err != nil {
			utils.LoggerError().Error("Error desalojando página", "pagina", p.String(), "error", err)
			return err
		}
	} else {
		slot, err := ft.swap.Out(f.kva, len(owners))
		if err != nil {
			return err
		}
		for _, p := range owners {
			p.ops.(*anonPage).slot = slot
			p.unmap()
			p.space.metrics.add(&p.space.metrics.swapOuts, "Bajada a SWAP")
			utils.Logger().Info(fmt.Sprintf("## PID: %d - Página %#x enviada a SWAP - Slot: %d", p.space.pid, p.VA, slot))
		}
	}
	for _, p := range owners {
		p.frame = nil
	}
	f.owners = nil
	ft.evictions++
	return nil
}

func (ft *FrameTable) indexOf(f *Frame) int {
	for i, x := range ft.frames {
		if x == f {
			return i
		}
	}
	return -1
}

func (ft *FrameTable) removeAt(i int) {
	ft.frames = append(ft.frames[:i:i], ft.frames[i+1:]...)
	if i < ft.hand {
		ft.hand--
	}
}

func (ft *FrameTable) moveToBack(f *Frame) {
	if i := ft.indexOf(f); i >= 0 {
		ft.removeAt(i)
	}
	ft.frames = append(ft.frames, f)
}

func (ft *FrameTable) bindLocked(f *Frame, p *Page) {
	f.owners = append(f.owners, p)
	p.frame = f
}

// unbindLocked desvincula p de f. Sin dueños ni fijación, el marco vuelve al
// pool.
func (ft *FrameTable) unbindLocked(f *Frame, p *Page) {
	for i, o := range f.owners {
		if o == p {
			f.owners = append(f.owners[:i:i], f.owners[i+1:]...)
			break
		}
	}
	p.frame = nil
	if len(f.owners) == 0 && !f.pinned {
		ft.freeLocked(f)
	}
}

func (ft *FrameTable) releaseLocked(f *Frame) {
	f.pinned = false
	if len(f.owners) == 0 {
		ft.freeLocked(f)
	}
}

func (ft *FrameTable) freeLocked(f *Frame) {
	if i := ft.indexOf(f); i >= 0 {
		ft.removeAt(i)
	}
	ft.mem.Free(f.index)
}

// FrameInfo es una foto de un marco para inspección.
type FrameInfo struct {
	Index  int       `json:"marco"`
	Refs   int       `json:"referencias"`
	Pinned bool      `json:"fijado"`
	Owners []OwnerVA `json:"duenos"`
}

type OwnerVA struct {
	PID int     `json:"pid"`
	VA  uintptr `json:"va"`
}

// FrameTableStats resume la tabla de marcos.
type FrameTableStats struct {
	Total     int    `json:"total"`
	Used      int    `json:"usados"`
	Free      int    `json:"libres"`
	Evictions int64  `json:"desalojos"`
	Policy    string `json:"algoritmo"`
}

// Snapshot devuelve los marcos en uso, en orden de la lista de reemplazo.
func (ft *FrameTable) Snapshot() ([]FrameInfo, FrameTableStats) {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	infos := make([]FrameInfo, 0, len(ft.frames))
	for _, f := range ft.frames {
		fi := FrameInfo{Index: f.index, Refs: len(f.owners), Pinned: f.pinned}
		for _, p := range f.owners {
			fi.Owners = append(fi.Owners, OwnerVA{PID: p.space.pid, VA: p.VA})
		}
		infos = append(infos, fi)
	}
	st := FrameTableStats{
		Total:     ft.mem.Frames(),
		Used:      len(ft.frames),
		Free:      ft.mem.FreeFrames(),
		Evictions: ft.evictions,
		Policy:    ft.policy.String(),
	}
	return infos, st
}
