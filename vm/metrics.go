package vm

import (
	"sync/atomic"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
)

// Metricas son los contadores de memoria de un proceso.
type Metricas struct {
	Fallos            int64 `json:"fallos"`
	CrecimientoPila   int64 `json:"crecimientos_pila"`
	CopiasCOW         int64 `json:"copias_cow"`
	ReusosCOW         int64 `json:"reusos_cow"`
	BajadasSwap       int64 `json:"bajadas_swap"`
	SubidasSwap       int64 `json:"subidas_swap"`
	CargasDiferidas   int64 `json:"cargas_diferidas"`
	EscriturasArchivo int64 `json:"escrituras_archivo"`
	Lecturas          int64 `json:"lecturas"`
	Escrituras        int64 `json:"escrituras"`
}

type metricas struct {
	faults, stackGrowths, cowCopies, cowReuses atomic.Int64
	swapOuts, swapIns, lazyLoads, writeBacks   atomic.Int64
	reads, writes                              atomic.Int64
}

func (m *metricas) add(c *atomic.Int64, evento string) {
	total := c.Add(1)
	utils.Logger().Debug(evento, "total", total)
}

// Metricas devuelve una copia de los contadores del espacio.
func (s *Space) Metricas() Metricas {
	m := &s.metrics
	return Metricas{
		Fallos:            m.faults.Load(),
		CrecimientoPila:   m.stackGrowths.Load(),
		CopiasCOW:         m.cowCopies.Load(),
		ReusosCOW:         m.cowReuses.Load(),
		BajadasSwap:       m.swapOuts.Load(),
		SubidasSwap:       m.swapIns.Load(),
		CargasDiferidas:   m.lazyLoads.Load(),
		EscriturasArchivo: m.writeBacks.Load(),
		Lecturas:          m.reads.Load(),
		Escrituras:        m.writes.Load(),
	}
}
