// Package userprog maneja los procesos de usuario sobre los hilos del kernel:
// carga diferida de programas, pila inicial, fork, wait, exit y las llamadas
// al sistema.
package userprog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/LosCuervosXeneizes/kernelvm/filesys"
	"github.com/LosCuervosXeneizes/kernelvm/threads"
	"github.com/LosCuervosXeneizes/kernelvm/utils"
	"github.com/LosCuervosXeneizes/kernelvm/vm"
)

const (
	EstadoNew  = "NEW"
	EstadoExec = "EXEC"
	EstadoExit = "EXIT"
)

var (
	// ErrNoProcess se devuelve cuando el hilo actual no es un proceso de usuario.
	ErrNoProcess = errors.New("el hilo actual no es un proceso de usuario")
	ErrNoImage   = errors.New("programa no registrado")
)

// Manager es la tabla de procesos. Se usa sólo desde hilos del kernel.
type Manager struct {
	s    *threads.Scheduler
	vm   *vm.VM
	fs   *filesys.FS
	out  io.Writer
	in   io.Reader
	lock *threads.Lock

	imgMu    sync.Mutex
	imagenes map[string]imagen

	procs map[int]*Process
	// children guarda los hijos de cada hilo (proceso o no) hasta que los
	// espera.
	children map[int]map[int]*Process
}

// NewManager crea la tabla de procesos. out recibe los mensajes
// "nombre: exit(n)"; con nil se usa os.Stdout.
func NewManager(s *threads.Scheduler, v *vm.VM, fs *filesys.FS, out io.Writer) *Manager {
	if out == nil {
		out = os.Stdout
	}
	return &Manager{
		s:        s,
		vm:       v,
		fs:       fs,
		out:      out,
		lock:     s.NewLock("procesos"),
		imagenes: make(map[string]imagen),
		procs:    make(map[int]*Process),
		children: make(map[int]map[int]*Process),
	}
}

// SetConsoleInput fija lo que leen los procesos de StdinFD. Sin entrada,
// leer de la consola devuelve 0 bytes.
func (m *Manager) SetConsoleInput(in io.Reader) { m.in = in }

func (m *Manager) leerConsola(buf []byte) int {
	if m.in == nil {
		return 0
	}
	n, _ := m.in.Read(buf)
	return n
}

func (m *Manager) VM() *vm.VM                    { return m.vm }
func (m *Manager) FS() *filesys.FS               { return m.fs }
func (m *Manager) Scheduler() *threads.Scheduler { return m.s }

// Process es el bloque de control de un proceso de usuario. Su pid es el tid
// de su hilo.
type Process struct {
	m      *Manager
	pid    int
	name   string
	parent int
	estado string

	space  *vm.Space
	exe    *filesys.File
	fds    map[int]*descriptor

	// Trap es el estado del CPU que ven los fallos de página.
	Trap vm.TrapFrame

	exitCode int
	started  *threads.Semaphore
	done     *threads.Semaphore
	startErr error

	HoraCreacion     time.Time
	HoraFinalizacion time.Time
}

func (p *Process) PID() int          { return p.pid }
func (p *Process) Name() string      { return p.name }
func (p *Process) Parent() int       { return p.parent }
func (p *Process) Space() *vm.Space  { return p.space }
func (p *Process) Manager() *Manager { return p.m }

func (p *Process) setEstado(estado string) {
	utils.Logger().Info(fmt.Sprintf("## (%d) - Pasa del estado %s al estado %s", p.pid, p.estado, estado))
	p.estado = estado
}

// Current devuelve el proceso del hilo actual, o nil si es un hilo del kernel.
func (m *Manager) Current() *Process {
	p, _ := m.s.Current().Owner.(*Process)
	return p
}

// Process busca un proceso vivo por pid.
func (m *Manager) Process(pid int) *Process {
	m.lock.Acquire()
	defer m.lock.Release()
	return m.procs[pid]
}

func (m *Manager) newProcess(name string) *Process {
	return &Process{
		m:            m,
		name:         name,
		parent:       int(m.s.Current().Tid()),
		estado:       EstadoNew,
		fds:          newFDTable(),
		exitCode:     -1,
		started:      m.s.NewSemaphore(0),
		done:         m.s.NewSemaphore(0),
		HoraCreacion: time.Now(),
	}
}

// Spawn crea un proceso que carga prog y ejecuta main. Vuelve cuando la carga
// terminó; si falló, el hijo ya salió con -1 y se devuelve el error.
func (m *Manager) Spawn(name string, prog Program, main func(p *Process)) (int, error) {
	return m.spawn(name, func(p *Process) error { return p.Load(prog) }, main)
}

func (m *Manager) spawn(name string, setup func(p *Process) error, main func(p *Process)) (int, error) {
	if main == nil {
		return -1, threads.ErrNilFunction
	}
	p := m.newProcess(name)
	tid, err := m.s.Create(name, threads.PriDefault, func() { m.run(p, setup, main) })
	if err != nil {
		return -1, err
	}
	p.started.Down()
	if p.startErr != nil {
		m.Wait(int(tid))
		return -1, p.startErr
	}
	return int(tid), nil
}

// run es el cuerpo del hilo de un proceso nuevo.
func (m *Manager) run(p *Process, setup func(p *Process) error, main func(p *Process)) {
	cur := m.s.Current()
	p.pid = int(cur.Tid())
	cur.Owner = p
	p.space = m.vm.NewSpace(p.pid)
	cur.Space = p.space
	p.space.Activate()

	m.lock.Acquire()
	m.procs[p.pid] = p
	hijos := m.children[p.parent]
	if hijos == nil {
		hijos = make(map[int]*Process)
		m.children[p.parent] = hijos
	}
	hijos[p.pid] = p
	m.lock.Release()
	utils.Logger().Info(fmt.Sprintf("## (%d) - Se crea el proceso - Estado: %s", p.pid, p.estado))

	if err := setup(p); err != nil {
		utils.LoggerError().Error("No se pudo iniciar el proceso", "pid", p.pid, "nombre", p.name, "error", err)
		p.startErr = err
		p.started.Up()
		p.Exit(-1)
	}
	p.setEstado(EstadoExec)
	p.started.Up()
	main(p)
	p.Exit(0)
}

// Fork crea un hijo con una copia copy-on-write del espacio de p, sus
// archivos y su trap frame. El hijo ejecuta child. Sólo lo puede llamar el
// propio proceso.
func (p *Process) Fork(name string, child func(c *Process)) (int, error) {
	if p.m.Current() != p {
		return -1, ErrNoProcess
	}
	return p.m.spawn(name, func(c *Process) error {
		c.Trap = p.Trap
		if p.exe != nil {
			exe, err := p.exe.Duplicate()
			if err != nil {
				return err
			}
			c.exe = exe
		}
		if err := p.forkFDs(c); err != nil {
			return err
		}
		return p.space.Fork(c.space)
	}, child)
}

// Wait espera a que termine el hijo pid del hilo actual y devuelve su estado
// de salida. Devuelve -1 sin esperar si pid no es un hijo o ya se esperó.
func (m *Manager) Wait(pid int) int {
	parent := int(m.s.Current().Tid())
	m.lock.Acquire()
	c, ok := m.children[parent][pid]
	if ok {
		delete(m.children[parent], pid)
	}
	m.lock.Release()
	if !ok {
		return -1
	}
	c.done.Down()
	return c.exitCode
}

// Exec reemplaza el programa del proceso por la imagen registrada con el
// nombre del primer campo de cmd: descarta el espacio de direcciones, carga
// el ejecutable nuevo y corre su main. No vuelve; si la imagen no existe o no
// carga, el proceso termina con -1. Los descriptores abiertos se conservan.
func (p *Process) Exec(cmd string) {
	nombre := programaDe(cmd)
	img, ok := p.m.buscarImagen(nombre)
	if !ok {
		p.Kill(fmt.Errorf("%w: %q", ErrNoImage, nombre))
	}
	if p.exe != nil {
		p.exe.Close()
		p.exe = nil
	}
	p.space.SPT().Kill()
	p.Trap = vm.TrapFrame{}
	if err := p.Load(img.prog); err != nil {
		p.Kill(err)
	}
	utils.Logger().Info(fmt.Sprintf("## (%d) - Exec %s", p.pid, nombre))
	img.main(p)
	p.Exit(0)
}

// Exit termina el proceso con status. No vuelve.
func (p *Process) Exit(status int) {
	m := p.m
	cur := m.s.Current()
	if cur.Owner != p {
		m.s.Panicf("Exit del proceso %d desde el hilo %d", p.pid, cur.Tid())
	}
	p.exitCode = status
	fmt.Fprintf(m.out, "%s: exit(%d)\n", p.name, status)

	p.closeAll()
	if p.exe != nil {
		p.exe.Close()
		p.exe = nil
	}
	cur.Space = nil
	if p.space != nil {
		p.space.Destroy()
	}

	m.lock.Acquire()
	delete(m.procs, p.pid)
	delete(m.children, p.pid)
	m.lock.Release()

	p.HoraFinalizacion = time.Now()
	p.setEstado(EstadoExit)
	utils.Logger().Info(fmt.Sprintf("## (%d) - Finaliza el proceso - Estado de salida: %d", p.pid, status),
		"duracion", p.HoraFinalizacion.Sub(p.HoraCreacion))
	p.done.Up()
	m.s.Exit()
}

// Kill termina el proceso por un fallo que no se pudo resolver.
func (p *Process) Kill(err error) {
	utils.LoggerError().Error(fmt.Sprintf("## (%d) - Proceso terminado por el kernel", p.pid), "error", err)
	p.Exit(-1)
}

// ProcessInfo es la foto de un proceso para inspección.
type ProcessInfo struct {
	PID        int         `json:"pid"`
	Nombre     string      `json:"nombre"`
	Padre      int         `json:"padre"`
	Estado     string      `json:"estado"`
	Paginas    int         `json:"paginas"`
	Residentes int         `json:"residentes"`
	Mapeos     int         `json:"mapeos"`
	Metricas   vm.Metricas `json:"metricas"`
}

// Processes devuelve los procesos vivos ordenados por pid.
func (m *Manager) Processes() []ProcessInfo {
	m.lock.Acquire()
	procs := make([]*Process, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.lock.Release()
	sort.Slice(procs, func(i, j int) bool { return procs[i].pid < procs[j].pid })

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info := ProcessInfo{PID: p.pid, Nombre: p.name, Padre: p.parent, Estado: p.estado}
		if p.space != nil {
			p.space.SPT().Range(func(pg *vm.Page) bool {
				info.Paginas++
				if pg.Frame() != nil {
					info.Residentes++
				}
				return true
			})
			info.Mapeos = len(p.space.Mappings())
			info.Metricas = p.space.Metricas()
		}
		out = append(out, info)
	}
	return out
}
