package vm

import (
	"errors"
	"fmt"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// Fork copia el espacio de s en child (vacío) con copy-on-write.
func (s *Space) Fork(child *Space) error {
	return CopySPT(child, s)
}

// CopySPT copia las páginas de src en dst. Los marcos residentes se
// comparten de sólo lectura en ambos espacios; las páginas desalojadas
// comparten el slot de swap; las páginas sin cargar copian su aux.
func CopySPT(dst, src *Space) error {
	if dst.vm != src.vm {
		return errors.New("los espacios son de máquinas virtuales distintas")
	}
	v := src.vm
	v.lock.Lock()
	defer v.lock.Unlock()

	regions := make(map[*mmapRegion]*mmapRegion)
	childRegion := func(r *mmapRegion) (*mmapRegion, error) {
		if nr, ok := regions[r]; ok {
			return nr, nil
		}
		f, err := r.file.Duplicate()
		if err != nil {
			return nil, fmt.Errorf("duplicando el archivo del mapeo %#x: %w", r.start, err)
		}
		nr := &mmapRegion{file: f, start: r.start, pages: r.pages}
		regions[r] = nr
		dst.regions[r.start] = nr
		return nr, nil
	}

	shared := 0
	for _, p := range src.spt.sorted() {
		if !IsUserVaddr(p.VA) {
			continue
		}
		np := &Page{VA: p.VA, Writable: p.Writable, marker: p.marker, space: dst}
		switch ops := p.ops.(type) {
		case *uninitPage:
			var aux Aux
			if ops.aux != nil {
				aux = ops.aux.Clone()
			}
			if fa, ok := aux.(*fileAux); ok {
				nr, err := childRegion(fa.region)
				if err != nil {
					return err
				}
				fa.region = nr
			}
			np.ops = &uninitPage{target: ops.target, init: ops.init, aux: aux}
		case *anonPage:
			na := &anonPage{slot: -1}
			if ops.slot >= 0 {
				if err := v.swap.Share(ops.slot); err != nil {
					return err
				}
				na.slot = ops.slot
			}
			np.ops = na
		case *filePage:
			nr, err := childRegion(ops.region)
			if err != nil {
				return err
			}
			nf := *ops
			nf.region = nr
			np.ops = &nf
		default:
			return fmt.Errorf("%s: variante desconocida", p)
		}

		if f := p.frame; f != nil {
			v.frames.bindLocked(f, np)
			src.pt.SetWritable(p.VA, false)
			dst.pt.Map(p.VA, f, false)
			shared++
		}
		if !dst.spt.insert(np) {
			return fmt.Errorf("%w: %#x ya existe en el hijo", ErrBadAddress, p.VA)
		}
	}
	utils.Logger().Info(fmt.Sprintf("## PID: %d - Fork de PID %d - Páginas: %d - Marcos compartidos: %d",
		dst.pid, src.pid, len(dst.spt.pages), shared))
	return nil
}
