package autocall

import "testing"

func tick(s *Scheduler, n int) {
	for i := 0; i < n; i++ {
		s.Tick()
	}
}

func TestArmAndFire(t *testing.T) {
	var fired []string
	s := New(func(label string) { fired = append(fired, label) }, nil)

	s.Arm(3, "Lead Pérez")
	if !s.Armed() || s.Remaining() != 3 {
		t.Fatalf("estado tras Arm: armed=%v remaining=%d", s.Armed(), s.Remaining())
	}

	tick(s, 2)
	if len(fired) != 0 {
		t.Fatal("no debe disparar antes de llegar a cero")
	}
	s.Tick()
	if len(fired) != 1 || fired[0] != "Lead Pérez" {
		t.Fatalf("disparos: %v", fired)
	}
	if s.Armed() {
		t.Fatal("debe quedar desarmado tras disparar")
	}

	// Ticks sobre un scheduler desarmado no hacen nada
	tick(s, 5)
	if len(fired) != 1 {
		t.Fatalf("ticks en reposo dispararon: %v", fired)
	}
}

func TestCancelEscalation(t *testing.T) {
	abandoned := 0
	s := New(func(string) {}, func() { abandoned++ })

	s.Arm(10, "lead")
	if !s.Cancel() {
		t.Fatal("primera cancelación debe rearmar")
	}
	if s.Remaining() != ReArmPrimeraSegundos {
		t.Fatalf("primera cancelación: esperaba %d, obtuve %d", ReArmPrimeraSegundos, s.Remaining())
	}

	if !s.Cancel() {
		t.Fatal("segunda cancelación debe rearmar")
	}
	if s.Remaining() != ReArmSegundaSegundos {
		t.Fatalf("segunda cancelación: esperaba %d, obtuve %d", ReArmSegundaSegundos, s.Remaining())
	}

	if s.Cancel() {
		t.Fatal("tercera cancelación debe abandonar")
	}
	if s.Armed() {
		t.Fatal("debe quedar desarmado tras abandonar")
	}
	if abandoned != 1 {
		t.Fatalf("onAbandon: esperaba 1, obtuve %d", abandoned)
	}
}

func TestCancelWithoutActiveCountdown(t *testing.T) {
	s := New(nil, nil)
	if s.Cancel() {
		t.Fatal("cancelar sin cuenta activa debe devolver false")
	}
	if s.Cancels() != 0 {
		t.Fatal("cancelar sin cuenta activa no debe escalar")
	}
}

func TestResetCancelsOnNewLead(t *testing.T) {
	s := New(func(string) {}, nil)

	s.Arm(10, "lead A")
	s.Cancel()
	s.Cancel()
	if s.Cancels() != 2 {
		t.Fatalf("cancelaciones: esperaba 2, obtuve %d", s.Cancels())
	}

	s.Disarm()
	s.ResetCancels()
	s.Arm(10, "lead B")
	if !s.Cancel() {
		t.Fatal("tras ResetCancels la primera cancelación debe rearmar de nuevo")
	}
	if s.Remaining() != ReArmPrimeraSegundos {
		t.Fatalf("escalamiento no reiniciado: remaining=%d", s.Remaining())
	}
}

func TestArmReplacesActiveCountdown(t *testing.T) {
	s := New(func(string) {}, nil)
	s.Arm(10, "lead A")
	tick(s, 4)
	s.Arm(8, "lead B")
	if s.Remaining() != 8 || s.Label() != "lead B" {
		t.Fatalf("Arm no reemplazó la cuenta: remaining=%d label=%q", s.Remaining(), s.Label())
	}
}

func TestOnChangeReportsCountdown(t *testing.T) {
	s := New(func(string) {}, nil)
	var seen []int
	s.OnChange(func(remaining int, _ string) { seen = append(seen, remaining) })

	s.Arm(3, "lead")
	tick(s, 3)
	want := []int{3, 2, 1}
	if len(seen) != len(want) {
		t.Fatalf("notificaciones: esperaba %v, obtuve %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("notificaciones: esperaba %v, obtuve %v", want, seen)
		}
	}
}
