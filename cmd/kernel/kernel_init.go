package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/LosCuervosXeneizes/kernelvm/devices"
	"github.com/LosCuervosXeneizes/kernelvm/filesys"
	"github.com/LosCuervosXeneizes/kernelvm/threads"
	"github.com/LosCuervosXeneizes/kernelvm/userprog"
	"github.com/LosCuervosXeneizes/kernelvm/utils"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

// timeoutServicio acota la espera de un pedido de inspección.
const timeoutServicio = 5 * time.Second

var errServicioNoListo = errors.New("el servicio de inspección todavía no arrancó")

// Kernel junta los subsistemas que arma el binario.
type Kernel struct {
	cfg    *KernelConfig
	modulo *utils.Modulo

	s     *threads.Scheduler
	timer *devices.Timer
	swap  *devices.FileDisk
	fs    *filesys.FS
	vm    *vm.VM
	procs *userprog.Manager

	mu       sync.Mutex
	servicio *threads.Service
	listo    chan struct{}
}

// inicializarKernel arma el planificador, el swapfile, la memoria virtual y
// el administrador de procesos. No arranca nada todavía.
func inicializarKernel(cfg *KernelConfig, out io.Writer) (*Kernel, error) {
	if err := cfg.validar(); err != nil {
		return nil, fmt.Errorf("configuración inválida: %w", err)
	}
	utils.Logger().Info("Inicializando Kernel",
		"planificacion", cfg.AlgoritmoPlanificacion,
		"reemplazo", cfg.AlgoritmoReemplazo,
		"marcos", cfg.TamMemoria/vm.PageSize,
		"slots_swap", cfg.slotsSwap())

	s := threads.NewScheduler(cfg.threadsConfig())
	swap, err := devices.AbrirFileDisk(cfg.SwapfilePath, cfg.sectoresSwap(), cfg.RetardoSwap)
	if err != nil {
		return nil, err
	}
	fs := filesys.New(func(nombre string) sync.Locker { return s.NewLock(nombre) })
	v, err := vm.New(cfg.vmConfig(), swap, s.NewLock("vm"))
	if err != nil {
		swap.Close()
		return nil, err
	}

	k := &Kernel{
		cfg:    cfg,
		modulo: utils.NuevoModulo("Kernel"),
		s:      s,
		timer:  devices.NewTimer(s),
		swap:   swap,
		fs:     fs,
		vm:     v,
		procs:  userprog.NewManager(s, v, fs, out),
		listo:  make(chan struct{}),
	}
	k.modulo.MaxConexiones = cfg.MaxConexiones
	k.registrarHandlers()

	utils.Logger().Info("Kernel inicializado correctamente")
	return k, nil
}

// Run arranca el kernel y corre workload en el hilo principal. Vuelve cuando
// se cancela ctx o un pánico detiene el kernel.
func (k *Kernel) Run(ctx context.Context, workload func(k *Kernel) error) error {
	defer k.swap.Close()
	return k.s.Run("main", func() { k.arrancar(ctx, workload) })
}

// arrancar corre en el hilo principal del kernel.
func (k *Kernel) arrancar(ctx context.Context, workload func(k *Kernel) error) {
	k.timer.Start(ctx, time.Duration(max(k.cfg.PeriodoTimerMs, 1))*time.Millisecond)

	servicio, err := k.s.StartService("inspeccion", threads.PriDefault)
	if err != nil {
		k.s.Panicf("no se pudo crear el servicio de inspección: %v", err)
	}
	k.mu.Lock()
	k.servicio = servicio
	k.mu.Unlock()
	close(k.listo)

	// La cancelación llega como una interrupción más.
	apagar := k.s.NewSemaphore(0)
	k.s.AttachSource()
	go func() {
		defer k.s.DetachSource()
		select {
		case <-ctx.Done():
			k.s.Interrupt(func() { apagar.Up() })
		case <-k.s.Done():
		}
	}()

	if workload != nil {
		if err := workload(k); err != nil {
			utils.LoggerError().Error("Error en el workload", "workload", k.cfg.Workload, "error", err)
		}
	}

	apagar.Down()
	utils.Logger().Info("Kernel finalizando", "procesos_vivos", len(k.procs.Processes()))
}

// enKernel ejecuta fn en el hilo de inspección. Se llama desde goroutines
// fuera del kernel, como los handlers HTTP.
func (k *Kernel) enKernel(fn func()) error {
	k.mu.Lock()
	servicio := k.servicio
	k.mu.Unlock()
	if servicio == nil {
		return errServicioNoListo
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeoutServicio)
	defer cancel()
	return servicio.Do(ctx, fn)
}
