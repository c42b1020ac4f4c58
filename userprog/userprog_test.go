package userprog

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/LosCuervosXeneizes/kernelvm/devices"
	"github.com/LosCuervosXeneizes/kernelvm/filesys"
	"github.com/LosCuervosXeneizes/kernelvm/threads"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

const (
	codeVA uintptr = 0x400000
	dataVA uintptr = 0x600000
)

type kernel struct {
	s    *threads.Scheduler
	m    *Manager
	fs   *filesys.FS
	out  *bytes.Buffer
	msgs []string
}

func (k *kernel) msg(format string, args ...any) {
	k.msgs = append(k.msgs, fmt.Sprintf(format, args...))
}

func boot(frames int, fn func(k *kernel)) (*kernel, error) {
	s := threads.NewScheduler(threads.DefaultConfig())
	fs := filesys.New(func(nombre string) sync.Locker { return s.NewLock(nombre) })
	v, err := vm.New(vm.Config{Frames: frames, Policy: vm.PolicyClock, StackLimit: vm.DefaultStackLimit},
		devices.NewMemDisk(64*vm.SectorsPerPage), s.NewLock("vm"))
	if err != nil {
		return nil, err
	}
	k := &kernel{s: s, fs: fs, out: &bytes.Buffer{}}
	k.m = NewManager(s, v, fs, k.out)
	return k, s.Run("main", func() { fn(k) })
}

func runKernel(t *testing.T, frames int, fn func(k *kernel)) *kernel {
	t.Helper()
	k, err := boot(frames, fn)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return k
}

func program(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%200) + 1
	}
	return data
}

// testProgram es un ejecutable con código de sólo lectura y datos escribibles.
func testProgram(k *kernel) ([]byte, Program) {
	data := program(3 * vm.PageSize)
	k.fs.Create("prog", data)
	return data, Program{
		File: "prog",
		Segments: []Segment{
			{Offset: 0, VA: codeVA, FileSize: 5000, MemSize: 3 * vm.PageSize},
			{Offset: 2 * vm.PageSize, VA: dataVA, FileSize: 100, MemSize: vm.PageSize, Writable: true},
		},
	}
}

func TestSpawnLoadsLazily(t *testing.T) {
	var status int
	var st filesys.InodeStats
	var opened int
	k := runKernel(t, 8, func(k *kernel) {
		data, prog := testProgram(k)
		in := k.fs.Lookup("prog")
		pid, err := k.m.Spawn("prog", prog, func(p *Process) {
			buf := make([]byte, 1)
			p.Read(codeVA+vm.PageSize+10, buf)
			k.msg("código %v", buf[0] == data[vm.PageSize+10])
			p.Read(codeVA+2*vm.PageSize+1, buf)
			k.msg("bss %d", buf[0])
			st = in.Stats()
			other := in.Open()
			k.msg("escritura sobre el ejecutable %d", other.Write([]byte("x")))
			other.Close()
			p.Syscall(SysExit, 7)
			k.msg("no se llega")
		})
		if err != nil {
			t.Error(err)
			return
		}
		status = k.m.Wait(pid)
		opened = in.OpenCount()
	})
	if status != 7 {
		t.Fatalf("Wait = %d", status)
	}
	want := []string{"código true", "bss 0", "escritura sobre el ejecutable 0"}
	if strings.Join(k.msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("mensajes = %q", k.msgs)
	}
	if st.ReadCalls != 1 || st.BytesRead != 5000-vm.PageSize {
		t.Fatalf("el cargador leyó páginas no tocadas: %+v", st)
	}
	if opened != 0 {
		t.Fatalf("quedaron %d archivos abiertos", opened)
	}
	if k.out.String() != "prog: exit(7)\n" {
		t.Fatalf("salida = %q", k.out.String())
	}
}

func TestSpawnFailures(t *testing.T) {
	tests := []struct {
		name string
		prog Program
		want error
	}{
		{"inexistente", Program{File: "nada"}, filesys.ErrNotFound},
		{"desalineado", Program{File: "prog", Segments: []Segment{{Offset: 1, VA: codeVA, FileSize: 1, MemSize: 1}}}, ErrBadSegment},
		{"página cero", Program{File: "prog", Segments: []Segment{{VA: 0, FileSize: 1, MemSize: 1}}}, ErrBadSegment},
		{"excede el archivo", Program{File: "prog", Segments: []Segment{{VA: codeVA, FileSize: 4 * vm.PageSize, MemSize: 4 * vm.PageSize}}}, ErrBadSegment},
		{"archivo mayor que memoria", Program{File: "prog", Segments: []Segment{{VA: codeVA, FileSize: 10, MemSize: 5}}}, ErrBadSegment},
		{"en el kernel", Program{File: "prog", Segments: []Segment{{VA: vm.KernBase, FileSize: 1, MemSize: 1}}}, ErrBadSegment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			k := runKernel(t, 4, func(k *kernel) {
				testProgram(k)
				_, err = k.m.Spawn("malo", tt.prog, func(p *Process) { k.msg("corrió") })
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Spawn = %v, se esperaba %v", err, tt.want)
			}
			if len(k.msgs) != 0 || k.out.String() != "malo: exit(-1)\n" {
				t.Fatalf("mensajes=%q salida=%q", k.msgs, k.out.String())
			}
		})
	}
}

func TestForkCopyOnWrite(t *testing.T) {
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		pid, err := k.m.Spawn("padre", prog, func(p *Process) {
			p.Write(dataVA, []byte("padre"))
			child, err := p.Fork("hijo", func(c *Process) {
				buf := make([]byte, 5)
				c.Read(dataVA, buf)
				k.msg("hijo lee %s", buf)
				c.Write(dataVA, []byte("hijo!"))
				c.Read(dataVA, buf)
				k.msg("hijo escribió %s", buf)
				c.Exit(42)
			})
			if err != nil {
				k.msg("fork: %v", err)
				return
			}
			k.msg("hijo terminó con %d", k.m.Wait(child))
			k.msg("segundo wait %d", k.m.Wait(child))
			buf := make([]byte, 5)
			p.Read(dataVA, buf)
			k.msg("padre lee %s", buf)
			k.msg("wait a un extraño %d", p.Syscall(SysWait, 999))
		})
		if err != nil {
			t.Error(err)
			return
		}
		k.msg("padre terminó con %d", k.m.Wait(pid))
	})
	want := []string{
		"hijo lee padre",
		"hijo escribió hijo!",
		"hijo terminó con 42",
		"segundo wait -1",
		"padre lee padre",
		"wait a un extraño -1",
		"padre terminó con 0",
	}
	if strings.Join(k.msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("mensajes:\n got %q\nwant %q", k.msgs, want)
	}
	if k.out.String() != "hijo: exit(42)\npadre: exit(0)\n" {
		t.Fatalf("salida = %q", k.out.String())
	}
}

func TestForkSyscall(t *testing.T) {
	var metricas vm.Metricas
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		pid, _ := k.m.Spawn("padre", prog, func(p *Process) {
			p.Write(dataVA, []byte{1})
			hijo := func(c *Process) {
				buf := make([]byte, 1)
				c.Read(dataVA, buf)
				c.Write(dataVA, []byte{buf[0] + 1})
				metricas = c.Space().Metricas()
				c.Syscall(SysExit, int(buf[0])+10)
			}
			child := p.Syscall(SysFork, "hijo", hijo)
			k.msg("wait %d", p.Syscall(SysWait, int(child)))
			if p.Syscall(SysFork, 5) != 0 {
				k.msg("no se llega")
			}
		})
		k.msg("padre %d", k.m.Wait(pid))
	})
	if strings.Join(k.msgs, "|") != "wait 11|padre -1" {
		t.Fatalf("mensajes = %q", k.msgs)
	}
	if metricas.CopiasCOW != 1 {
		t.Fatalf("métricas del hijo = %+v", metricas)
	}
}

func TestStackGrowthAndUserFaults(t *testing.T) {
	tests := []struct {
		name string
		run  func(p *Process)
	}{
		{"puntero nulo", func(p *Process) { p.Read(0, make([]byte, 1)) }},
		{"escritura en código", func(p *Process) { p.Write(codeVA, []byte{1}) }},
		{"dirección del kernel", func(p *Process) { p.Write(vm.KernBase, []byte{1}) }},
		{"syscall desconocida", func(p *Process) { p.Syscall(99) }},
		{"argumento faltante", func(p *Process) { p.Syscall(SysWait) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := runKernel(t, 4, func(k *kernel) {
				_, prog := testProgram(k)
				pid, err := k.m.Spawn("victima", prog, func(p *Process) {
					tt.run(p)
					k.msg("sobrevivió")
				})
				if err != nil {
					t.Error(err)
					return
				}
				k.msg("estado %d", k.m.Wait(pid))
			})
			if strings.Join(k.msgs, "|") != "estado -1" || k.out.String() != "victima: exit(-1)\n" {
				t.Fatalf("mensajes=%q salida=%q", k.msgs, k.out.String())
			}
		})
	}

	var growths int64
	var top []byte
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		pid, _ := k.m.Spawn("pila", prog, func(p *Process) {
			frame := bytes.Repeat([]byte{0xab}, 3*vm.PageSize+16)
			rsp := p.Push(frame)
			k.msg("rsp %#x", rsp)
			top = make([]byte, 16)
			p.Read(rsp, top)
			growths = p.Space().Metricas().CrecimientoPila
		})
		k.msg("estado %d", k.m.Wait(pid))
	})
	wantRSP := fmt.Sprintf("rsp %#x", vm.UserStack-3*vm.PageSize-16)
	if strings.Join(k.msgs, "|") != wantRSP+"|estado 0" {
		t.Fatalf("mensajes = %q", k.msgs)
	}
	if growths != 3 || !bytes.Equal(top, bytes.Repeat([]byte{0xab}, 16)) {
		t.Fatalf("crecimientos=%d tope=%x", growths, top)
	}
}

func TestSyscallFilesAndMmap(t *testing.T) {
	var inode *filesys.Inode
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		inode = k.fs.Create("datos", bytes.Repeat([]byte{'.'}, 2*vm.PageSize))
		pid, _ := k.m.Spawn("mapeo", prog, func(p *Process) {
			path := p.Push([]byte("datos\x00"))
			fd := p.Syscall(SysOpen, path)
			k.msg("fd %d largo %d", fd, p.Syscall(SysFilesize, int(fd)))

			const at uintptr = 0x1000000
			addr := p.Syscall(SysMmap, at, 2*vm.PageSize, true, int(fd), 0)
			k.msg("mmap %v", uintptr(addr) == at)
			k.msg("mmap desalineado %d", p.Syscall(SysMmap, at+1, 10, true, int(fd), 0))
			p.Write(at+vm.PageSize, []byte("HOLA"))
			k.msg("munmap %d", p.Syscall(SysMunmap, at))
			k.msg("close %d", p.Syscall(SysClose, int(fd)))
			k.msg("close repetido %d", p.Syscall(SysClose, int(fd)))
			missing := p.Push([]byte("nada\x00"))
			k.msg("open inexistente %d", p.Syscall(SysOpen, missing))
		})
		k.m.Wait(pid)
	})
	want := []string{
		fmt.Sprintf("fd %d largo %d", minFD, 2*vm.PageSize),
		"mmap true",
		"mmap desalineado 0",
		"munmap 0",
		"close 0",
		"close repetido -1",
		"open inexistente -1",
	}
	if strings.Join(k.msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("mensajes:\n got %q\nwant %q", k.msgs, want)
	}
	buf := make([]byte, 4)
	f := inode.Open()
	f.ReadAt(buf, vm.PageSize)
	if string(buf) != "HOLA" || inode.OpenCount() != 1 {
		t.Fatalf("archivo = %q abiertos = %d", buf, inode.OpenCount())
	}
}

func TestProcessesAndPageFaultEntry(t *testing.T) {
	var infos []ProcessInfo
	var resident bool
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		pid, _ := k.m.Spawn("info", prog, func(p *Process) {
			p.PageFault(vm.Fault{Addr: dataVA + 8, NotPresent: true, User: true, Trap: &p.Trap})
			resident = p.Space().SPT().Find(dataVA).Frame() != nil
			infos = k.m.Processes()
			if k.m.Current() != p || k.m.Process(p.PID()) != p {
				k.msg("proceso actual incorrecto")
			}
		})
		k.m.Wait(pid)
		if k.m.Current() != nil || len(k.m.Processes()) != 0 {
			k.msg("quedaron procesos")
		}
	})
	if len(k.msgs) != 0 {
		t.Fatalf("mensajes = %q", k.msgs)
	}
	if !resident {
		t.Fatal("PageFault no cargó la página")
	}
	// 3 páginas de código, 1 de datos y la pila.
	if len(infos) != 1 || infos[0].Nombre != "info" || infos[0].Estado != EstadoExec ||
		infos[0].Paginas != 5 || infos[0].Residentes != 2 {
		t.Fatalf("procesos = %+v", infos)
	}
}

func TestKernelFaultPanics(t *testing.T) {
	_, err := boot(4, func(k *kernel) {
		_, prog := testProgram(k)
		pid, _ := k.m.Spawn("kernel", prog, func(p *Process) {
			p.PageFault(vm.Fault{Addr: vm.KernBase + 0x100, NotPresent: true})
		})
		k.m.Wait(pid)
	})
	var kp *threads.KernelPanic
	if !errors.As(err, &kp) || kp.Thread != "kernel" {
		t.Fatalf("Run = %v", err)
	}
}

func TestProcessesYieldToEachOther(t *testing.T) {
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		k.s.Create("kernel", threads.PriDefault, func() {
			k.msg("hilo del kernel")
		})
		turno := func(status int) func(p *Process) {
			return func(p *Process) {
				p.Write(dataVA, []byte{byte(status)})
				k.msg("%s cede", p.Name())
				k.s.Yield()
				buf := make([]byte, 1)
				p.Read(dataVA, buf)
				k.msg("%s vuelve: actual %v, dato %d", p.Name(), k.m.Current() == p, buf[0])
				p.Syscall(SysExit, status)
			}
		}
		a, err := k.m.Spawn("a", prog, turno(1))
		if err != nil {
			t.Error(err)
			return
		}
		b, err := k.m.Spawn("b", prog, turno(2))
		if err != nil {
			t.Error(err)
			return
		}
		k.msg("a %d b %d", k.m.Wait(a), k.m.Wait(b))
	})
	want := []string{
		"hilo del kernel",
		"a cede",
		"a vuelve: actual true, dato 1",
		"b cede",
		"b vuelve: actual true, dato 2",
		"a 1 b 2",
	}
	if strings.Join(k.msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("mensajes:\n got %q\nwant %q", k.msgs, want)
	}
	if k.out.String() != "a: exit(1)\nb: exit(2)\n" {
		t.Fatalf("salida = %q", k.out.String())
	}
}

func TestSyscallConsole(t *testing.T) {
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		k.m.SetConsoleInput(strings.NewReader("hola mundo"))
		pid, _ := k.m.Spawn("consola", prog, func(p *Process) {
			k.msg("read %d write %d", p.Syscall(SysRead, StdinFD, dataVA, 4), p.Syscall(SysWrite, StdoutFD, dataVA, 4))
			k.msg("cruzados %d %d", p.Syscall(SysRead, StdoutFD, dataVA, 4), p.Syscall(SysWrite, StdinFD, dataVA, 4))
			k.msg("resto %d eof %d", p.Syscall(SysRead, StdinFD, dataVA, 100), p.Syscall(SysRead, StdinFD, dataVA, 5))
			k.msg("inválidos %d %d", p.Syscall(SysRead, 7, dataVA, 1), p.Syscall(SysWrite, StdoutFD, dataVA, -1))
			p.Syscall(SysWrite, StdoutFD, uintptr(0), 4)
			k.msg("no se llega")
		})
		k.msg("estado %d", k.m.Wait(pid))
	})
	want := []string{
		"read 4 write 4",
		"cruzados 0 0",
		"resto 6 eof 0",
		"inválidos -1 -1",
		"estado -1",
	}
	if strings.Join(k.msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("mensajes:\n got %q\nwant %q", k.msgs, want)
	}
	if k.out.String() != "holaconsola: exit(-1)\n" {
		t.Fatalf("salida = %q", k.out.String())
	}
}

func TestSyscallReadIntoCopyOnWritePage(t *testing.T) {
	var metricas vm.Metricas
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		k.fs.Create("datos", []byte("archivo"))
		pid, _ := k.m.Spawn("padre", prog, func(p *Process) {
			p.Write(dataVA, []byte("padre!!"))
			path := p.Push([]byte("datos\x00"))
			child, err := p.Fork("hijo", func(c *Process) {
				fd := c.Syscall(SysOpen, path)
				k.msg("hijo lee %d", c.Syscall(SysRead, fd, dataVA, 7))
				buf := make([]byte, 7)
				c.Read(dataVA, buf)
				k.msg("hijo ve %s", buf)
				metricas = c.Space().Metricas()
			})
			if err != nil {
				k.msg("fork: %v", err)
				return
			}
			k.msg("hijo %d", k.m.Wait(child))
			buf := make([]byte, 7)
			p.Read(dataVA, buf)
			k.msg("padre ve %s", buf)
		})
		k.m.Wait(pid)
	})
	want := []string{"hijo lee 7", "hijo ve archivo", "hijo 0", "padre ve padre!!"}
	if strings.Join(k.msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("mensajes:\n got %q\nwant %q", k.msgs, want)
	}
	if metricas.CopiasCOW != 1 || metricas.CrecimientoPila != 0 {
		t.Fatalf("métricas del hijo = %+v", metricas)
	}
}

func TestSyscallFileDescriptors(t *testing.T) {
	var inode *filesys.Inode
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		pid, _ := k.m.Spawn("archivos", prog, func(p *Process) {
			name := p.Push([]byte("nuevo\x00"))
			k.msg("create %d repetido %d", p.Syscall(SysCreate, name, 10), p.Syscall(SysCreate, name, 10))
			inode = k.fs.Lookup("nuevo")

			a := p.Syscall(SysOpen, name)
			b := p.Syscall(SysOpen, name)
			p.Syscall(SysClose, a)
			c := p.Syscall(SysOpen, name)
			k.msg("fds %d %d %d", a, b, c)

			p.Write(dataVA, []byte("abcdef"))
			w := p.Syscall(SysWrite, c, dataVA, 6)
			tell := p.Syscall(SysTell, c)
			p.Syscall(SysSeek, c, 1)
			k.msg("write %d tell %d seek %d", w, tell, p.Syscall(SysTell, c))

			d := p.Syscall(SysDup2, c, 5)
			tell = p.Syscall(SysTell, d)
			p.Syscall(SysSeek, d, 3)
			k.msg("dup2 %d tell %d compartido %d", d, tell, p.Syscall(SysTell, c))

			p.Syscall(SysClose, c)
			k.msg("tras close %d %d", p.Syscall(SysTell, d), p.Syscall(SysTell, c))

			k.msg("stdout %d", p.Syscall(SysDup2, d, StdoutFD))
			k.msg("write redirigido %d", p.Syscall(SysWrite, StdoutFD, dataVA, 2))
			k.msg("dup2 inválidos %d %d", p.Syscall(SysDup2, 9, 4), p.Syscall(SysDup2, d, maxFD))

			k.msg("remove %d %d open %d", p.Syscall(SysRemove, name), p.Syscall(SysRemove, name), p.Syscall(SysOpen, name))
			n := p.Syscall(SysRead, b, dataVA+100, 16)
			buf := make([]byte, n)
			p.Read(dataVA+100, buf)
			k.msg("read %d %q", n, buf)
		})
		k.m.Wait(pid)
	})
	want := []string{
		"create 1 repetido 0",
		"fds 2 3 2",
		"write 6 tell 6 seek 1",
		"dup2 5 tell 1 compartido 3",
		"tras close 3 -1",
		"stdout 1",
		"write redirigido 2",
		"dup2 inválidos -1 -1",
		"remove 1 0 open -1",
		"read 10 \"abcabf\\x00\\x00\\x00\\x00\"",
	}
	if strings.Join(k.msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("mensajes:\n got %q\nwant %q", k.msgs, want)
	}
	if inode == nil || inode.OpenCount() != 0 || k.fs.Lookup("nuevo") != nil {
		t.Fatalf("el archivo borrado quedó abierto o visible")
	}
	if k.out.String() != "archivos: exit(0)\n" {
		t.Fatalf("salida = %q", k.out.String())
	}
}

func TestSyscallExec(t *testing.T) {
	k := runKernel(t, 8, func(k *kernel) {
		_, prog := testProgram(k)
		k.fs.Create("datos", bytes.Repeat([]byte{'x'}, 300))
		k.m.Register("eco", prog, func(p *Process) {
			k.msg("eco corre, filesize %d", p.Syscall(SysFilesize, minFD))
			buf := make([]byte, 1)
			p.Read(dataVA, buf)
			k.msg("datos del programa nuevo %d", buf[0])
			p.Syscall(SysExit, 5)
		})

		pid, _ := k.m.Spawn("shell", prog, func(p *Process) {
			p.Syscall(SysOpen, p.Push([]byte("datos\x00")))
			p.Write(dataVA, []byte{0xff})
			p.Syscall(SysExec, p.Push([]byte("eco uno dos\x00")))
			k.msg("no se llega")
		})
		k.msg("shell %d", k.m.Wait(pid))

		pid, _ = k.m.Spawn("perdido", prog, func(p *Process) {
			p.Syscall(SysExec, p.Push([]byte("nada\x00")))
			k.msg("no se llega")
		})
		k.msg("perdido %d", k.m.Wait(pid))
	})
	want := []string{
		"eco corre, filesize 300",
		fmt.Sprintf("datos del programa nuevo %d", program(3 * vm.PageSize)[2*vm.PageSize]),
		"shell 5",
		"perdido -1",
	}
	if strings.Join(k.msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("mensajes:\n got %q\nwant %q", k.msgs, want)
	}
	if k.out.String() != "shell: exit(5)\nperdido: exit(-1)\n" {
		t.Fatalf("salida = %q", k.out.String())
	}
}

func TestSyscallHaltPowersOff(t *testing.T) {
	k, err := boot(4, func(k *kernel) {
		_, prog := testProgram(k)
		pid, _ := k.m.Spawn("apagar", prog, func(p *Process) {
			p.Syscall(SysHalt)
			k.msg("no se llega")
		})
		k.m.Wait(pid)
		k.msg("main no vuelve")
	})
	if err != nil || !k.s.Halted() {
		t.Fatalf("Run = %v, detenido %v", err, k.s.Halted())
	}
	if len(k.msgs) != 0 || k.out.Len() != 0 {
		t.Fatalf("mensajes=%q salida=%q", k.msgs, k.out.String())
	}
}
