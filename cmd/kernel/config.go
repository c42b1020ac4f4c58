package main

import (
	"fmt"
	"strings"

	"github.com/LosCuervosXeneizes/kernelvm/devices"
	"github.com/LosCuervosXeneizes/kernelvm/threads"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

// KernelConfig define la configuración del Kernel
type KernelConfig struct {
	IPKernel               string `json:"IP_KERNEL"`
	PuertoKernel           int    `json:"PUERTO_KERNEL"`
	MaxConexiones          int    `json:"MAX_CONEXIONES"`
	LogLevel               string `json:"LOG_LEVEL"`
	AlgoritmoPlanificacion string `json:"ALGORITMO_PLANIFICACION"`
	TimeSlice              int    `json:"TIME_SLICE"`
	TimerFreq              int    `json:"TIMER_FREQ"`
	PeriodoTimerMs         int    `json:"PERIODO_TIMER_MS"`
	MaxHilos               int    `json:"MAX_HILOS"`
	TamMemoria             int    `json:"TAM_MEMORIA"`
	AlgoritmoReemplazo     string `json:"ALGORITMO_REEMPLAZO"`
	SwapfilePath           string `json:"SWAPFILE_PATH"`
	SectoresSwap           int    `json:"SECTORES_SWAP"`
	RetardoSwap            int    `json:"RETARDO_SWAP"`
	DumpPath               string `json:"DUMP_PATH"`
	LimitePila             int    `json:"LIMITE_PILA"`
	Workload               string `json:"WORKLOAD,omitempty"`
}

// validar revisa los valores que el resto del kernel asume correctos.
func (c *KernelConfig) validar() error {
	switch strings.ToUpper(c.AlgoritmoPlanificacion) {
	case "", "PRIORIDADES", "MLFQS":
	default:
		return fmt.Errorf("algoritmo de planificación desconocido: %s", c.AlgoritmoPlanificacion)
	}
	if _, err := vm.ParsePolicy(c.AlgoritmoReemplazo); err != nil {
		return err
	}
	if c.TamMemoria <= 0 || c.TamMemoria%vm.PageSize != 0 {
		return fmt.Errorf("TAM_MEMORIA debe ser múltiplo de %d: %d", vm.PageSize, c.TamMemoria)
	}
	if c.SectoresSwap <= 0 || c.SectoresSwap%vm.SectorsPerPage != 0 {
		return fmt.Errorf("SECTORES_SWAP debe ser múltiplo de %d: %d", vm.SectorsPerPage, c.SectoresSwap)
	}
	if c.SwapfilePath == "" {
		return fmt.Errorf("falta SWAPFILE_PATH")
	}
	if c.LimitePila < 0 || c.LimitePila%vm.PageSize != 0 {
		return fmt.Errorf("LIMITE_PILA inválido: %d", c.LimitePila)
	}
	if _, err := seleccionarWorkload(c.Workload); err != nil {
		return err
	}
	return nil
}

func (c *KernelConfig) mlfqs() bool {
	return strings.EqualFold(c.AlgoritmoPlanificacion, "MLFQS")
}

func (c *KernelConfig) threadsConfig() threads.Config {
	return threads.Config{
		MLFQS:      c.mlfqs(),
		TimeSlice:  c.TimeSlice,
		TimerFreq:  c.TimerFreq,
		MaxThreads: c.MaxHilos,
	}
}

func (c *KernelConfig) vmConfig() vm.Config {
	policy, _ := vm.ParsePolicy(c.AlgoritmoReemplazo)
	return vm.Config{
		Frames:     c.TamMemoria / vm.PageSize,
		Policy:     policy,
		StackLimit: uintptr(c.LimitePila),
	}
}

func (c *KernelConfig) sectoresSwap() uint32 {
	return uint32(c.SectoresSwap)
}

// slotsSwap es la cantidad de páginas que entran en el swapfile.
func (c *KernelConfig) slotsSwap() int {
	return c.SectoresSwap * devices.SectorSize / vm.PageSize
}
