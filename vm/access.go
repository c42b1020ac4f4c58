package vm

import "fmt"

// maxFaultRetries acota los fallos seguidos sobre una misma página: otro
// hilo puede desalojarla entre el fallo y el reintento.
const maxFaultRetries = 8

// Read copia len(buf) bytes desde va como lo haría una lectura del proceso en
// modo usuario con el puntero de pila rsp. Los fallos de página se resuelven
// en el camino.
func (s *Space) Read(va uintptr, buf []byte, rsp uintptr) error {
	return s.access(va, len(buf), false, &TrapFrame{RSP: rsp}, func(off int, mem []byte) {
		copy(buf[off:], mem)
	})
}

// Write copia data en va como una escritura del proceso en modo usuario.
func (s *Space) Write(va uintptr, data []byte, rsp uintptr) error {
	return s.access(va, len(data), true, &TrapFrame{RSP: rsp}, func(off int, mem []byte) {
		copy(mem, data[off:off+len(mem)])
	})
}

// CopyIn copia memoria de usuario a buf desde el kernel, por ejemplo el
// buffer de una escritura a archivo. Los fallos llegan sin trap frame: no
// hacen crecer la pila.
func (s *Space) CopyIn(buf []byte, va uintptr) error {
	return s.access(va, len(buf), false, nil, func(off int, mem []byte) {
		copy(buf[off:], mem)
	})
}

// CopyOut copia data a memoria de usuario desde el kernel. Una página
// copy-on-write se copia antes de escribirla.
func (s *Space) CopyOut(va uintptr, data []byte) error {
	return s.access(va, len(data), true, nil, func(off int, mem []byte) {
		copy(mem, data[off:off+len(mem)])
	})
}

func (s *Space) access(va uintptr, n int, write bool, trap *TrapFrame, fn func(off int, mem []byte)) error {
	if trap == nil && n > 0 {
		if end := va + uintptr(n); end < va || !IsUserVaddr(end-1) {
			return fmt.Errorf("%w: [%#x, %#x) fuera del espacio de usuario", ErrBadAddress, va, end)
		}
	}
	done := 0
	for done < n {
		addr := va + uintptr(done)
		ofs := int(PgOfs(addr))
		chunk := PageSize - ofs
		if chunk > n-done {
			chunk = n - done
		}
		if err := s.accessPage(addr, write, trap, func(kva []byte) {
			fn(done, kva[ofs:ofs+chunk])
		}); err != nil {
			return err
		}
		done += chunk
	}
	if write {
		s.metrics.writes.Add(1)
	} else {
		s.metrics.reads.Add(1)
	}
	return nil
}

// accessPage traduce addr y llama a fn con la memoria del marco. Si la
// traducción falla, levanta un fallo de página y reintenta. Con trap nil el
// acceso es del kernel.
func (s *Space) accessPage(addr uintptr, write bool, trap *TrapFrame, fn func(kva []byte)) error {
	lock := s.vm.lock
	for try := 0; try < maxFaultRetries; try++ {
		lock.Lock()
		f, present := s.pt.Lookup(addr)
		if present && (!write || s.pt.IsWritable(addr)) {
			s.pt.SetAccessed(addr, true)
			if write {
				s.pt.SetDirty(addr, true)
			}
			fn(f.kva)
			lock.Unlock()
			return nil
		}
		lock.Unlock()

		err := s.HandleFault(Fault{
			Addr:       addr,
			Write:      write,
			NotPresent: !present,
			User:       trap != nil,
			Trap:       trap,
		})
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %#x no quedó mapeada tras %d fallos", ErrNoFrame, addr, maxFaultRetries)
}
