package vm

import (
	"fmt"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// anonPage es una página sin archivo de respaldo. Al desalojarla va a swap.
type anonPage struct {
	// slot es el slot de swap con el contenido, o -1 si la página está en
	// memoria (o nunca se escribió).
	slot int
}

func (a *anonPage) kind() Type { return TypeAnon }

func (a *anonPage) swapIn(p *Page, kva []byte) error {
	if a.slot < 0 {
		clear(kva)
		return nil
	}
	slot := a.slot
	if err := p.space.vm.swap.In(slot, kva); err != nil {
		return err
	}
	a.slot = -1
	p.space.metrics.add(&p.space.metrics.swapIns, "Subida desde SWAP")
	utils.Logger().Info(fmt.Sprintf("## PID: %d - Página %#x recuperada de SWAP - Slot: %d", p.space.pid, p.VA, slot))
	return nil
}

func (a *anonPage) swapOut(p *Page) error {
	slot, err := p.space.vm.swap.Out(p.frame.kva, 1)
	if err != nil {
		return err
	}
	a.slot = slot
	p.unmap()
	p.space.metrics.add(&p.space.metrics.swapOuts, "Bajada a SWAP")
	utils.Logger().Info(fmt.Sprintf("## PID: %d - Página %#x enviada a SWAP - Slot: %d", p.space.pid, p.VA, slot))
	return nil
}

func (a *anonPage) destroy(p *Page) {
	if a.slot >= 0 {
		p.space.vm.swap.Free(a.slot)
		a.slot = -1
	}
}

// Slot devuelve el slot de swap de una página anónima desalojada, o -1.
func Slot(p *Page) int {
	if a, ok := p.ops.(*anonPage); ok {
		return a.slot
	}
	return -1
}
