package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/LosCuervosXeneizes/kernelvm/dump"
	"github.com/LosCuervosXeneizes/kernelvm/threads"
	"github.com/LosCuervosXeneizes/kernelvm/userprog"
	"github.com/LosCuervosXeneizes/kernelvm/utils"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

// Direcciones del programa de la demo de memoria.
const (
	demoCodeVA uintptr = 0x400000
	demoDataVA uintptr = 0x600000
	demoMmapVA uintptr = 0x1000000
)

var errRequiereMLFQS = errors.New("el workload mlfqs requiere ALGORITMO_PLANIFICACION MLFQS")

// seleccionarWorkload traduce el WORKLOAD de la configuración. Vacío o
// "NINGUNO" deja el kernel esperando pedidos de inspección.
func seleccionarWorkload(nombre string) (func(k *Kernel) error, error) {
	switch strings.ToUpper(nombre) {
	case "", "NINGUNO":
		return nil, nil
	case "DONACION":
		return demoDonacion, nil
	case "MLFQS":
		return demoMLFQS, nil
	case "MEMORIA":
		return demoMemoria, nil
	case "TODOS":
		return demoTodos, nil
	}
	return nil, fmt.Errorf("workload desconocido: %s", nombre)
}

func demoTodos(k *Kernel) error {
	if k.s.MLFQS() {
		if err := demoMLFQS(k); err != nil {
			return err
		}
	} else if err := demoDonacion(k); err != nil {
		return err
	}
	return demoMemoria(k)
}

// demoDonacion: main toma un lock y dos hilos de mayor prioridad lo esperan.
// La prioridad efectiva de main sube con cada donación y vuelve a la base al
// soltarlo.
func demoDonacion(k *Kernel) error {
	s := k.s
	if s.MLFQS() {
		return errors.New("la donación no aplica con MLFQS")
	}
	l := s.NewLock("recurso")
	hecho := s.NewSemaphore(0)

	l.Acquire()
	for i, prioridad := range []int{threads.PriDefault + 5, threads.PriDefault + 10} {
		nombre := fmt.Sprintf("donante-%d", i+1)
		if _, err := s.Create(nombre, prioridad, func() {
			l.Acquire()
			utils.Logger().Info(fmt.Sprintf("## %s obtuvo el lock", nombre), "prioridad", s.Priority())
			l.Release()
			hecho.Up()
		}); err != nil {
			l.Release()
			return err
		}
		utils.Logger().Info("## main recibió una donación", "prioridad_efectiva", s.Priority())
	}
	l.Release()
	utils.Logger().Info("## main soltó el lock", "prioridad_efectiva", s.Priority())

	hecho.Down()
	hecho.Down()
	return nil
}

// demoMLFQS corre hilos de CPU intensiva con distintos nice durante dos
// segundos de ticks y registra su recent_cpu.
func demoMLFQS(k *Kernel) error {
	s := k.s
	if !s.MLFQS() {
		return errRequiereMLFQS
	}
	duracion := int64(2 * max(k.cfg.TimerFreq, 1))
	nices := []int{0, 5, 10}
	hecho := s.NewSemaphore(0)

	for _, nice := range nices {
		nombre := fmt.Sprintf("cpu-nice-%d", nice)
		if _, err := s.Create(nombre, threads.PriDefault, func() {
			s.SetNice(nice)
			inicio := k.timer.Ticks()
			for k.timer.Elapsed(inicio) < duracion {
				s.Preempt()
			}
			utils.Logger().Info(fmt.Sprintf("## %s terminó", nombre),
				"nice", s.Nice(), "recent_cpu", s.RecentCPU(), "prioridad", s.Priority())
			hecho.Up()
		}); err != nil {
			return err
		}
	}
	for range nices {
		hecho.Down()
	}
	utils.Logger().Info("## Demo MLFQS terminada", "load_avg", s.LoadAvg())
	return nil
}

// demoMemoria ejecuta un proceso que usa más páginas que marcos, hace fork
// con copy-on-write, copia un archivo a la consola, lo mapea y pide un dump
// de su memoria.
func demoMemoria(k *Kernel) error {
	paginas := k.vm.Config().Frames + 4
	prog := programaDemo(k, paginas)
	datos := []byte("contenido del archivo mapeado\n")
	k.fs.Create("datos.txt", datos)

	pid, err := k.procs.Spawn("demo", prog, func(p *userprog.Process) {
		for i := 0; i < paginas; i++ {
			p.Write(demoDataVA+uintptr(i)*vm.PageSize, []byte{byte(i + 1)})
		}

		hijo := p.Syscall(userprog.SysFork, "demo-hijo", func(c *userprog.Process) {
			c.Write(demoDataVA, []byte("hijo"))
			c.Syscall(userprog.SysExit, 3)
		})
		estado := p.Syscall(userprog.SysWait, int(hijo))
		utils.Logger().Info("## Terminó el hijo", "pid", hijo, "estado", estado)

		ruta := p.Push([]byte("datos.txt\x00"))
		fd := p.Syscall(userprog.SysOpen, ruta)
		largo := p.Syscall(userprog.SysFilesize, int(fd))
		leidos := p.Syscall(userprog.SysRead, int(fd), demoDataVA, int(largo))
		p.Syscall(userprog.SysWrite, userprog.StdoutFD, demoDataVA, int(leidos))
		addr := p.Syscall(userprog.SysMmap, demoMmapVA, int(largo), true, int(fd), 0)
		if addr != 0 {
			p.Write(uintptr(addr), []byte("CONTENIDO"))
			p.Syscall(userprog.SysMunmap, uintptr(addr))
		}
		p.Syscall(userprog.SysClose, int(fd))

		if _, err := dump.EscribirDump(k.cfg.DumpPath, p.Space()); err != nil {
			utils.LoggerError().Error("Error en el dump de la demo", "error", err)
		}
		p.Syscall(userprog.SysExit, 0)
	})
	if err != nil {
		return err
	}
	estado := k.procs.Wait(pid)

	marcos, st := k.vm.Frames().Snapshot()
	utils.Logger().Info("## Demo de memoria terminada", "pid", pid, "estado", estado,
		"marcos_usados", st.Used, "desalojos", st.Evictions, "slots_swap", k.vm.Swap().Used())
	return dump.RenderFrames(filepath.Join(k.cfg.DumpPath, "marcos-demo.png"), marcos, st)
}

// programaDemo crea el ejecutable de la demo: dos páginas de código de sólo
// lectura y un segmento de datos de paginas páginas, casi todo bss.
func programaDemo(k *Kernel, paginas int) userprog.Program {
	data := make([]byte, 3*vm.PageSize)
	for i := range data {
		data[i] = byte(i % 251)
	}
	k.fs.Create("demo", data)
	return userprog.Program{
		File: "demo",
		Segments: []userprog.Segment{
			{Offset: 0, VA: demoCodeVA, FileSize: 2 * vm.PageSize, MemSize: 2 * vm.PageSize},
			{Offset: 2 * vm.PageSize, VA: demoDataVA, FileSize: 64, MemSize: paginas * vm.PageSize, Writable: true},
		},
	}
}
