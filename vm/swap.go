package vm

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/LosCuervosXeneizes/kernelvm/devices"
	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// Swap reparte un disco en slots de una página (SectorsPerPage sectores).
// Un slot lo pueden compartir varias páginas anónimas de procesos
// emparentados; se libera cuando su contador llega a cero.
type Swap struct {
	mu    sync.Mutex
	disk  devices.Disk
	used  *bitset.BitSet
	refs  []int
	slots uint
}

func NewSwap(disk devices.Disk) *Swap {
	slots := uint(disk.Size()) / SectorsPerPage
	return &Swap{
		disk:  disk,
		used:  bitset.New(slots),
		refs:  make([]int, slots),
		slots: slots,
	}
}

// Out guarda una página en un slot libre con refs referencias.
func (sw *Swap) Out(data []byte, refs int) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	idx, ok := sw.used.NextClear(0)
	if !ok || idx >= sw.slots {
		utils.LoggerError().Error("Swap lleno", "slots", sw.slots)
		return -1, ErrSwapFull
	}
	base := uint32(idx) * SectorsPerPage
	for i := uint32(0); i < SectorsPerPage; i++ {
		sector := data[i*devices.SectorSize : (i+1)*devices.SectorSize]
		if err := sw.disk.Write(base+i, sector); err != nil {
			return -1, fmt.Errorf("error escribiendo slot %d: %w", idx, err)
		}
	}
	sw.used.Set(idx)
	sw.refs[idx] = refs
	return int(idx), nil
}

// In lee el slot en buf y suelta una referencia.
func (sw *Swap) In(slot int, buf []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if err := sw.checkLocked(slot); err != nil {
		return err
	}
	base := uint32(slot) * SectorsPerPage
	for i := uint32(0); i < SectorsPerPage; i++ {
		if err := sw.disk.Read(base+i, buf[i*devices.SectorSize:(i+1)*devices.SectorSize]); err != nil {
			return fmt.Errorf("error leyendo slot %d: %w", slot, err)
		}
	}
	sw.dropLocked(slot)
	return nil
}

// Free suelta una referencia sin leer el slot.
func (sw *Swap) Free(slot int) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.checkLocked(slot) != nil {
		return
	}
	sw.dropLocked(slot)
}

// Share suma una referencia al slot (fork de una página desalojada).
func (sw *Swap) Share(slot int) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if err := sw.checkLocked(slot); err != nil {
		return err
	}
	sw.refs[slot]++
	return nil
}

func (sw *Swap) checkLocked(slot int) error {
	if slot < 0 || uint(slot) >= sw.slots || !sw.used.Test(uint(slot)) {
		return fmt.Errorf("slot de swap %d inválido", slot)
	}
	return nil
}

func (sw *Swap) dropLocked(slot int) {
	sw.refs[slot]--
	if sw.refs[slot] <= 0 {
		sw.refs[slot] = 0
		sw.used.Clear(uint(slot))
	}
}

// Refs devuelve las referencias del slot (0 si está libre).
func (sw *Swap) Refs(slot int) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if slot < 0 || uint(slot) >= sw.slots {
		return 0
	}
	return sw.refs[slot]
}

// Used devuelve la cantidad de slots ocupados.
func (sw *Swap) Used() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return int(sw.used.Count())
}

// Slots devuelve la cantidad total de slots.
func (sw *Swap) Slots() int { return int(sw.slots) }
