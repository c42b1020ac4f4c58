package threads

import (
	"context"
	"sync"
)

// Service es un hilo del kernel que ejecuta pedidos hechos desde fuera del
// kernel (por ejemplo, handlers HTTP). Los pedidos corren como código del
// kernel: pueden tomar locks y dormir.
type Service struct {
	s     *Scheduler
	name  string
	sema  *Semaphore
	mu    sync.Mutex
	queue []serviceRequest
}

type serviceRequest struct {
	fn   func()
	done chan struct{}
}

// StartService crea el hilo de servicio. Se llama desde un hilo del kernel.
func (s *Scheduler) StartService(name string, priority int) (*Service, error) {
	sv := &Service{s: s, name: name, sema: s.NewSemaphore(0)}
	if _, err := s.Create(name, priority, sv.loop); err != nil {
		return nil, err
	}
	return sv, nil
}

func (sv *Service) loop() {
	for {
		sv.sema.Down()
		sv.mu.Lock()
		queue := sv.queue
		sv.queue = nil
		sv.mu.Unlock()
		for _, r := range queue {
			r.fn()
			close(r.done)
		}
	}
}

// Do ejecuta fn en el hilo de servicio y espera a que termine. Se llama desde
// cualquier goroutine que no sea un hilo del kernel.
func (sv *Service) Do(ctx context.Context, fn func()) error {
	r := serviceRequest{fn: fn, done: make(chan struct{})}
	sv.mu.Lock()
	sv.queue = append(sv.queue, r)
	sv.mu.Unlock()
	sv.s.Interrupt(func() { sv.sema.Up() })

	select {
	case <-r.done:
		return nil
	case <-sv.s.Done():
		return ErrHalted
	case <-ctx.Done():
		return ctx.Err()
	}
}
