package vm

import (
	"fmt"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// TrapFrame es lo que el fallo necesita del estado del CPU al momento de la
// excepción.
type TrapFrame struct {
	RSP uintptr
}

// Fault describe un fallo de página. Trap nil indica una reparación de
// copy-on-write pedida por el kernel, no una excepción real.
type Fault struct {
	Addr       uintptr
	Write      bool
	NotPresent bool
	User       bool
	Trap       *TrapFrame
}

// HandleFault resuelve un fallo de página: crecimiento de pila, copy-on-write
// o carga de la página. Los fallos que no se pueden resolver devuelven
// ErrSegfault, ErrWriteProtect o ErrBadAddress; en modo kernel, además,
// ErrKernelFault.
func (s *Space) HandleFault(f Fault) error {
	s.metrics.add(&s.metrics.faults, "Fallo de página")
	err := s.handleFault(f)
	if err != nil {
		utils.Logger().Debug("Fallo de página sin resolver", "pid", s.pid, "va", fmt.Sprintf("%#x", f.Addr),
			"escritura", f.Write, "usuario", f.User, "error", err)
		if !f.User {
			return fmt.Errorf("%w: %w", ErrKernelFault, err)
		}
	}
	return err
}

func (s *Space) handleFault(f Fault) error {
	addr := f.Addr
	va := PgRoundDown(addr)

	if s.isStackGrowth(f) {
		if err := s.AllocPage(TypeAnon|MarkerStack, va, true); err != nil {
			return err
		}
		if err := s.ClaimPage(va); err != nil {
			return err
		}
		s.metrics.add(&s.metrics.stackGrowths, "Crecimiento de pila")
		utils.Logger().Info(fmt.Sprintf("## PID: %d - Crece la pila - Página: %#x", s.pid, va))
		return nil
	}

	if !IsUserVaddr(addr) {
		return fmt.Errorf("%w: %#x", ErrBadAddress, addr)
	}

	lock := s.vm.lock
	lock.Lock()
	p := s.spt.find(addr)
	if p == nil {
		lock.Unlock()
		return fmt.Errorf("%w: %#x sin página", ErrSegfault, addr)
	}
	if p.Writable && f.Write && p.frame != nil && p.ops.kind() != TypeUninit {
		err := s.cowLocked(p)
		lock.Unlock()
		return err
	}
	if !p.Writable && f.Write {
		lock.Unlock()
		return fmt.Errorf("%w: %#x", ErrWriteProtect, addr)
	}
	lock.Unlock()
	return s.claim(p)
}

// isStackGrowth: una página nueva a menos de StackLimit del tope de la pila,
// justo en el puntero de pila del trap.
func (s *Space) isStackGrowth(f Fault) bool {
	if f.Trap == nil || f.Trap.RSP != f.Addr {
		return false
	}
	if f.Addr >= UserStack || f.Addr < UserStack-s.vm.cfg.StackLimit {
		return false
	}
	return s.spt.Find(f.Addr) == nil
}

// cowLocked resuelve una escritura sobre un marco compartido. Si la página es
// la única dueña alcanza con habilitar la escritura; si no, se copia.
func (s *Space) cowLocked(p *Page) error {
	old := p.frame
	if old.Refs() == 1 {
		s.pt.SetWritable(p.VA, true)
		if _, ok := s.pt.Lookup(p.VA); !ok {
			s.pt.Map(p.VA, old, true)
		}
		s.metrics.add(&s.metrics.cowReuses, "COW sin copia")
		return nil
	}

	ft := s.vm.frames
	old.pinned = true
	nf, err := ft.getLocked()
	old.pinned = false
	if err != nil {
		return err
	}
	copy(nf.kva, old.kva)
	ft.unbindLocked(old, p)
	ft.bindLocked(nf, p)
	s.pt.Map(p.VA, nf, true)
	nf.pinned = false
	s.metrics.add(&s.metrics.cowCopies, "Copia COW")
	utils.Logger().Info(fmt.Sprintf("## PID: %d - Copia COW - Página: %#x - Marco: %d", s.pid, p.VA, nf.index))
	return nil
}
