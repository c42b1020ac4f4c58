package threads

// Switcher es la primitiva de cambio de contexto. Guarda y restaura el
// contexto de ejecución de un hilo; el planificador no sabe cómo.
type Switcher interface {
	// Launch prepara el contexto de t para que, al reanudarse por primera
	// vez, ejecute entry.
	Launch(t *Thread, entry func())
	// Start reanuda t desde fuera del kernel. Se usa una sola vez, al
	// arrancar el hilo inicial.
	Start(t *Thread)
	// Switch guarda el contexto de cur y reanuda next. Vuelve cuando
	// alguien reanude cur.
	Switch(cur, next *Thread)
	// Exit reanuda next sin guardar cur. No vuelve.
	Exit(cur, next *Thread)
	// Release libera el contexto de un hilo ya destruido.
	Release(t *Thread)
}

// goroutineSwitcher corre cada hilo en su propia goroutine. El hilo en
// ejecución es el único que no está bloqueado en su canal de reanudación.
type goroutineSwitcher struct{}

type goroutineContext struct {
	resume chan struct{}
}

// NewGoroutineSwitcher devuelve el Switcher hosteado por defecto.
func NewGoroutineSwitcher() Switcher { return goroutineSwitcher{} }

func (goroutineSwitcher) Launch(t *Thread, entry func()) {
	c := &goroutineContext{resume: make(chan struct{}, 1)}
	t.SetContext(c)
	go func() {
		<-c.resume
		entry()
	}()
}

func (goroutineSwitcher) Start(t *Thread) {
	t.Context().(*goroutineContext).resume <- struct{}{}
}

func (goroutineSwitcher) Switch(cur, next *Thread) {
	c := cur.Context().(*goroutineContext)
	next.Context().(*goroutineContext).resume <- struct{}{}
	<-c.resume
}

func (goroutineSwitcher) Exit(cur, next *Thread) {
	next.Context().(*goroutineContext).resume <- struct{}{}
	park()
}

func (goroutineSwitcher) Release(t *Thread) {
	t.SetContext(nil)
}

// park bloquea la goroutine actual para siempre. Un hilo muerto no vuelve a
// ejecutar nada, ni siquiera sus defers.
func park() {
	select {}
}
