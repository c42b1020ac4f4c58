package threads

import (
	"errors"
	"testing"
)

func TestCreateHigherPriorityRunsFirst(t *testing.T) {
	var r recorder
	runKernel(t, DefaultConfig(), func(s *Scheduler) {
		r.msg("main antes")
		if _, err := s.Create("alta", PriDefault+1, func() { r.msg("alta") }); err != nil {
			r.msg("error %v", err)
		}
		if _, err := s.Create("baja", PriDefault-1, func() { r.msg("baja") }); err != nil {
			r.msg("error %v", err)
		}
		r.msg("main despues")
		s.SetPriority(PriMin)
		r.msg("main fin")
	})
	r.check(t, []string{"main antes", "alta", "main despues", "baja", "main fin"})
}

func TestCreateRejectsBadArguments(t *testing.T) {
	runKernel(t, DefaultConfig(), func(s *Scheduler) {
		if _, err := s.Create("x", PriMax+1, func() {}); !errors.Is(err, ErrBadPriority) {
			t.Errorf("prioridad inválida: err = %v", err)
		}
		if _, err := s.Create("x", PriDefault, nil); !errors.Is(err, ErrNilFunction) {
			t.Errorf("sin función: err = %v", err)
		}
	})
}

func TestMaxThreads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxThreads = 3
	var err error
	runKernel(t, cfg, func(s *Scheduler) {
		if _, e := s.Create("uno", PriMin, func() {}); e != nil {
			err = e
			return
		}
		_, err = s.Create("dos", PriMin, func() {})
	})
	if !errors.Is(err, ErrNoMemory) {
		t.Fatalf("err = %v, want ErrNoMemory", err)
	}
}

func TestDeadThreadsAreDestroyedOnce(t *testing.T) {
	var st Stats
	var alive []ThreadInfo
	runKernel(t, DefaultConfig(), func(s *Scheduler) {
		for i := 0; i < 5; i++ {
			s.Create("efimero", PriDefault+1, func() {})
		}
		s.Yield()
		st = s.Stats()
		alive = s.AllThreads()
	})
	if st.Destroyed != 5 {
		t.Errorf("destruidos = %d, want 5", st.Destroyed)
	}
	if st.Created != 7 {
		t.Errorf("creados = %d, want 7", st.Created)
	}
	if len(alive) != 2 || alive[0].Name != "main" || alive[1].Name != "idle" {
		t.Errorf("hilos vivos = %+v", alive)
	}
}

func TestYieldRoundRobinSamePriority(t *testing.T) {
	var r recorder
	runKernel(t, DefaultConfig(), func(s *Scheduler) {
		done := s.NewSemaphore(0)
		for _, name := range []string{"a", "b"} {
			name := name
			s.Create(name, PriDefault, func() {
				for i := 0; i < 3; i++ {
					r.msg("%s%d", name, i)
					s.Yield()
				}
				done.Up()
			})
		}
		done.Down()
		done.Down()
	})
	r.check(t, []string{"a0", "b0", "a1", "b1", "a2", "b2"})
}

func TestTimeSliceExpiryPreempts(t *testing.T) {
	var r recorder
	runKernel(t, DefaultConfig(), func(s *Scheduler) {
		startTicks(s)
		done := s.NewSemaphore(0)
		for _, name := range []string{"a", "b"} {
			name := name
			s.Create(name, PriDefault, func() {
				r.msg("%s empieza", name)
				spinTicks(s, 20)
				r.msg("%s termina", name)
				done.Up()
			})
		}
		done.Down()
		done.Down()
		if st := s.Stats(); st.KernelTicks == 0 {
			r.msg("sin ticks de kernel")
		}
	})
	r.check(t, []string{"a empieza", "b empieza", "a termina", "b termina"})
}

func TestSleepWakesInTickOrder(t *testing.T) {
	var r recorder
	runKernel(t, DefaultConfig(), func(s *Scheduler) {
		startTicks(s)
		done := s.NewSemaphore(0)
		for _, d := range []int64{30, 10, 20} {
			d := d
			s.Create("dormilon", PriDefault, func() {
				s.Sleep(d)
				r.msg("desperto %d", d)
				done.Up()
			})
		}
		for i := 0; i < 3; i++ {
			done.Down()
		}
	})
	r.check(t, []string{"desperto 10", "desperto 20", "desperto 30"})
}

func TestGuardRestoresLevel(t *testing.T) {
	runKernel(t, DefaultConfig(), func(s *Scheduler) {
		if s.IntrLevel() != IntrOn {
			t.Errorf("nivel inicial %v", s.IntrLevel())
		}
		func() {
			defer s.Guard()()
			if s.IntrLevel() != IntrOff {
				t.Errorf("dentro del guard %v", s.IntrLevel())
			}
			func() {
				defer s.Guard()()
			}()
			if s.IntrLevel() != IntrOff {
				t.Errorf("guard anidado habilitó interrupciones")
			}
		}()
		if old := s.SetIntrLevel(IntrOff); old != IntrOn {
			t.Errorf("SetIntrLevel devolvió %v", old)
		}
		s.EnableIntr()
		if s.IntrLevel() != IntrOn {
			t.Errorf("nivel final %v", s.IntrLevel())
		}
	})
}

func TestBlockWithInterruptsOnPanics(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	err := s.Run("main", func() { s.Block() })
	var kp *KernelPanic
	if !errors.As(err, &kp) {
		t.Fatalf("err = %v, want *KernelPanic", err)
	}
	if kp.Thread != "main" {
		t.Errorf("hilo del pánico = %q", kp.Thread)
	}
}

func TestDeadlockWithoutInterruptSourcesPanics(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	err := s.Run("main", func() {
		s.NewSemaphore(0).Down()
	})
	var kp *KernelPanic
	if !errors.As(err, &kp) {
		t.Fatalf("err = %v, want *KernelPanic", err)
	}
}

func TestGoPanicInThreadHaltsKernel(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	err := s.Run("main", func() {
		s.Create("roto", PriMax, func() {
			var m map[string]int
			m["x"] = 1
		})
	})
	var kp *KernelPanic
	if !errors.As(err, &kp) || kp.Thread != "roto" {
		t.Fatalf("err = %v, want pánico en el hilo roto", err)
	}
}

func TestRunTwice(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	if err := s.Run("main", func() {}); err != nil {
		t.Fatal(err)
	}
	if err := s.Run("main", func() {}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v", err)
	}
}

func TestObserveFromOutside(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	if err := s.Run("main", func() {
		s.Create("b", PriMin, func() {})
	}); err != nil {
		t.Fatal(err)
	}
	s.Observe(func(ts []ThreadInfo, st Stats, _ int) {
		if len(ts) != 3 {
			t.Errorf("hilos = %+v", ts)
		}
		if st.Created != 3 {
			t.Errorf("creados = %d", st.Created)
		}
	})
}

func TestPowerOffFromAnyThread(t *testing.T) {
	var r recorder
	s := NewScheduler(DefaultConfig())
	err := s.Run("main", func() {
		s.Create("apagador", PriMin, func() {
			r.msg("apagando")
			s.PowerOff()
			r.msg("no se llega")
		})
		s.NewSemaphore(0).Down()
		r.msg("main siguió")
	})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if !s.Halted() {
		t.Fatal("el kernel no quedó detenido")
	}
	r.check(t, []string{"apagando"})
}
