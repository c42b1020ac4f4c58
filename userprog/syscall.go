package userprog

import (
	"fmt"
	"strings"

	"github.com/LosCuervosXeneizes/kernelvm/utils"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

// Números de llamada al sistema.
const (
	SysHalt     = 0
	SysExit     = 1
	SysFork     = 2
	SysExec     = 3
	SysWait     = 4
	SysCreate   = 5
	SysRemove   = 6
	SysOpen     = 7
	SysFilesize = 8
	SysRead     = 9
	SysWrite    = 10
	SysSeek     = 11
	SysTell     = 12
	SysClose    = 13
	SysMmap     = 14
	SysMunmap   = 15
	SysDup2     = 22
)

var syscallNames = map[int]string{
	SysHalt: "HALT", SysExit: "EXIT", SysFork: "FORK", SysExec: "EXEC", SysWait: "WAIT",
	SysCreate: "CREATE", SysRemove: "REMOVE", SysOpen: "OPEN", SysFilesize: "FILESIZE",
	SysRead: "READ", SysWrite: "WRITE", SysSeek: "SEEK", SysTell: "TELL", SysClose: "CLOSE",
	SysMmap: "MMAP", SysMunmap: "MUNMAP", SysDup2: "DUP2",
}

// maxPath acota las cadenas que se leen de memoria de usuario.
const maxPath = 256

// Syscall despacha una llamada al sistema del proceso. Los argumentos llegan
// ya desarmados: punteros como uintptr, enteros como int, y para FORK el
// nombre del hijo y la función que ejecuta. Un argumento del tipo incorrecto
// termina el proceso.
//
//	HALT()
//	EXIT(status int)
//	FORK(nombre string, hijo func(*Process)) pid
//	EXEC(cmd uintptr)
//	WAIT(pid int) estado
//	CREATE(ruta uintptr, tamaño int) bool
//	REMOVE(ruta uintptr) bool
//	OPEN(ruta uintptr) fd
//	FILESIZE(fd int) bytes
//	READ(fd int, buf uintptr, tamaño int) bytes
//	WRITE(fd int, buf uintptr, tamaño int) bytes
//	SEEK(fd int, pos int)
//	TELL(fd int) pos
//	CLOSE(fd int)
//	MMAP(addr uintptr, largo int, escritura bool, fd int, offset int) addr
//	MUNMAP(addr uintptr)
//	DUP2(oldfd int, newfd int) fd
func (p *Process) Syscall(nr int, args ...any) int64 {
	a := argumentos{p: p, args: args}
	utils.Logger().Debug(fmt.Sprintf("## (%d) - Solicitó syscall: %s", p.pid, syscallName(nr)))
	switch nr {
	case SysHalt:
		p.m.s.PowerOff()
	case SysExit:
		p.Exit(a.entero(0))
	case SysFork:
		pid, err := p.Fork(a.cadena(0), a.funcion(1))
		if err != nil {
			return -1
		}
		return int64(pid)
	case SysExec:
		p.Exec(p.ReadString(a.puntero(0)))
	case SysWait:
		return int64(p.m.Wait(a.entero(0)))
	case SysCreate:
		ruta := p.ReadString(a.puntero(0))
		return boolean(p.m.fs.CreateFile(ruta, a.entero(1)) == nil)
	case SysRemove:
		return boolean(p.m.fs.Remove(p.ReadString(a.puntero(0))) == nil)
	case SysOpen:
		fd, err := p.Open(p.ReadString(a.puntero(0)))
		if err != nil {
			return -1
		}
		return int64(fd)
	case SysFilesize:
		f, err := p.File(a.entero(0))
		if err != nil {
			return -1
		}
		return f.Length()
	case SysRead:
		return int64(p.ReadFD(a.entero(0), a.puntero(1), a.entero(2)))
	case SysWrite:
		return int64(p.WriteFD(a.entero(0), a.puntero(1), a.entero(2)))
	case SysSeek:
		if f, err := p.File(a.entero(0)); err == nil {
			f.Seek(int64(a.entero(1)))
		}
	case SysTell:
		f, err := p.File(a.entero(0))
		if err != nil {
			return -1
		}
		return f.Tell()
	case SysClose:
		if err := p.Close(a.entero(0)); err != nil {
			return -1
		}
	case SysMmap:
		f, err := p.File(a.entero(3))
		if err != nil {
			return 0
		}
		addr, err := p.space.Mmap(a.puntero(0), a.entero(1), a.booleano(2), f, int64(a.entero(4)))
		if err != nil {
			return 0
		}
		return int64(addr)
	case SysMunmap:
		if err := p.space.Munmap(a.puntero(0)); err != nil {
			return -1
		}
	case SysDup2:
		fd, err := p.Dup2(a.entero(0), a.entero(1))
		if err != nil {
			return -1
		}
		return int64(fd)
	default:
		p.Kill(fmt.Errorf("llamada al sistema desconocida: %d", nr))
	}
	return 0
}

func syscallName(nr int) string {
	if n, ok := syscallNames[nr]; ok {
		return n
	}
	return fmt.Sprintf("SYS_%d", nr)
}

func boolean(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

type argumentos struct {
	p    *Process
	args []any
}

func (a argumentos) arg(i int) any {
	if i >= len(a.args) {
		a.p.Kill(fmt.Errorf("falta el argumento %d", i))
	}
	return a.args[i]
}

func (a argumentos) bad(i int, want string) {
	a.p.Kill(fmt.Errorf("argumento %d: se esperaba %s y llegó %T", i, want, a.args[i]))
}

func (a argumentos) entero(i int) int {
	switch v := a.arg(i).(type) {
	case int:
		return v
	case int64:
		return int(v)
	}
	a.bad(i, "int")
	return 0
}

func (a argumentos) puntero(i int) uintptr {
	v, ok := a.arg(i).(uintptr)
	if !ok {
		a.bad(i, "uintptr")
	}
	return v
}

func (a argumentos) booleano(i int) bool {
	v, ok := a.arg(i).(bool)
	if !ok {
		a.bad(i, "bool")
	}
	return v
}

func (a argumentos) cadena(i int) string {
	v, ok := a.arg(i).(string)
	if !ok {
		a.bad(i, "string")
	}
	return v
}

func (a argumentos) funcion(i int) func(*Process) {
	v, ok := a.arg(i).(func(*Process))
	if !ok || v == nil {
		a.bad(i, "func(*Process)")
	}
	return v
}

// ReadFD lee hasta size bytes de fd al buffer de usuario en va y devuelve
// cuántos leyó, o -1 si fd no es válido. El kernel escribe el buffer con
// CopyOut: una página copy-on-write se copia antes de recibir los datos. Un
// buffer inválido termina el proceso.
func (p *Process) ReadFD(fd int, va uintptr, size int) int {
	d, ok := p.fds[fd]
	if !ok || size < 0 {
		return -1
	}
	if d.consola == salida {
		return 0
	}
	buf := make([]byte, min(size, vm.PageSize))
	total := 0
	for total < size {
		n := min(size-total, len(buf))
		var leidos int
		if d.consola == entrada {
			leidos = p.m.leerConsola(buf[:n])
		} else {
			leidos = d.file.Read(buf[:n])
		}
		if leidos == 0 {
			break
		}
		if err := p.space.CopyOut(va+uintptr(total), buf[:leidos]); err != nil {
			p.Kill(err)
		}
		total += leidos
		if leidos < n {
			break
		}
	}
	return total
}

// WriteFD escribe size bytes del buffer de usuario en va a fd. Devuelve los
// bytes escritos: 0 sobre un ejecutable en uso, -1 si fd no es válido.
func (p *Process) WriteFD(fd int, va uintptr, size int) int {
	d, ok := p.fds[fd]
	if !ok || size < 0 {
		return -1
	}
	if d.consola == entrada {
		return 0
	}
	buf := make([]byte, min(size, vm.PageSize))
	total := 0
	for total < size {
		n := min(size-total, len(buf))
		if err := p.space.CopyIn(buf[:n], va+uintptr(total)); err != nil {
			p.Kill(err)
		}
		var escritos int
		if d.consola == salida {
			escritos, _ = p.m.out.Write(buf[:n])
		} else {
			escritos = d.file.Write(buf[:n])
		}
		total += escritos
		if escritos < n {
			break
		}
	}
	return total
}

// Read lee memoria de usuario. Un fallo que no se puede resolver termina el
// proceso.
func (p *Process) Read(va uintptr, buf []byte) {
	if err := p.space.Read(va, buf, p.Trap.RSP); err != nil {
		p.Kill(err)
	}
}

// Write escribe memoria de usuario.
func (p *Process) Write(va uintptr, data []byte) {
	if err := p.space.Write(va, data, p.Trap.RSP); err != nil {
		p.Kill(err)
	}
}

// Push apila data y devuelve el nuevo RSP. Escribe de a una página, bajando
// RSP antes de cada escritura, así la pila crece sola si hace falta.
func (p *Process) Push(data []byte) uintptr {
	for len(data) > 0 {
		n := int(vm.PgOfs(p.Trap.RSP))
		if n == 0 {
			n = vm.PageSize
		}
		n = min(n, len(data))
		p.Trap.RSP -= uintptr(n)
		p.Write(p.Trap.RSP, data[len(data)-n:])
		data = data[:len(data)-n]
	}
	return p.Trap.RSP
}

// ReadString lee una cadena terminada en cero de memoria de usuario.
func (p *Process) ReadString(va uintptr) string {
	buf := make([]byte, 0, 32)
	b := make([]byte, 1)
	for len(buf) < maxPath {
		p.Read(va+uintptr(len(buf)), b)
		if b[0] == 0 {
			return string(buf)
		}
		buf = append(buf, b[0])
	}
	p.Kill(fmt.Errorf("cadena en %#x sin terminar", va))
	return ""
}

// programaDe separa el nombre del programa de una línea de comandos de EXEC.
func programaDe(cmd string) string {
	if campos := strings.Fields(cmd); len(campos) > 0 {
		return campos[0]
	}
	return ""
}

// PageFault es la entrada de una excepción de fallo de página del proceso.
// En contexto de interrupción el fallo es fatal para el kernel; si no, un
// fallo sin resolver termina el proceso.
func (p *Process) PageFault(f vm.Fault) {
	s := p.m.s
	if s.IntrContext() {
		s.Panicf("fallo de página en %#x en contexto de interrupción", f.Addr)
	}
	err := p.space.HandleFault(f)
	if err == nil {
		return
	}
	if !f.User && !vm.IsUserVaddr(f.Addr) {
		s.Panicf("fallo de página del kernel en %#x: %v", f.Addr, err)
	}
	p.Kill(err)
}
