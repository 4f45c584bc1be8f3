package leadqueue

import (
	"errors"
	"testing"

	"discador/internal/database"
)

// fakeBackend entrega resultados pre-cargados en orden y cuenta las llamadas
type fakeBackend struct {
	results []*database.AssignResult
	err     error
	calls   int
}

func (b *fakeBackend) AssignNextLead(campaignKey, ejecutivo string) (*database.AssignResult, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	if len(b.results) == 0 {
		return &database.AssignResult{Completed: true}, nil
	}
	res := b.results[0]
	b.results = b.results[1:]
	return res, nil
}

func leadResult(id int64, nombre string) *database.AssignResult {
	return &database.AssignResult{
		Lead:      &database.Lead{ID: id, Nombre: nombre, Telefono: "+573001112233"},
		Available: true,
	}
}

func TestJoinRequiresCampaign(t *testing.T) {
	c := New(&fakeBackend{}, "ana")
	if err := c.Join(""); !errors.Is(err, ErrNoCampaign) {
		t.Fatalf("err = %v, esperado ErrNoCampaign", err)
	}
}

func TestJoinFetchesFirstLead(t *testing.T) {
	backend := &fakeBackend{results: []*database.AssignResult{leadResult(1, "Lead A")}}
	c := New(backend, "ana")

	var loaded []int64
	c.SetOnLead(func(l *database.Lead) { loaded = append(loaded, l.ID) })

	if err := c.Join("ventas-co"); err != nil {
		t.Fatal(err)
	}
	if c.Current() == nil || c.Current().ID != 1 {
		t.Fatalf("current = %+v", c.Current())
	}
	if len(loaded) != 1 || loaded[0] != 1 {
		t.Fatalf("onLead = %v", loaded)
	}
	if backend.calls != 1 {
		t.Fatalf("llamadas al backend = %d", backend.calls)
	}
}

func TestAdvanceWithPrefetchUsesNoNetwork(t *testing.T) {
	backend := &fakeBackend{results: []*database.AssignResult{
		leadResult(1, "Lead A"),
		leadResult(2, "Lead B"),
	}}
	c := New(backend, "ana")
	if err := c.Join("ventas-co"); err != nil {
		t.Fatal(err)
	}
	if err := c.Prefetch(); err != nil {
		t.Fatal(err)
	}
	if c.Next() == nil || c.Next().ID != 2 {
		t.Fatalf("prefetch = %+v", c.Next())
	}

	callsBefore := backend.calls
	if err := c.Advance(); err != nil {
		t.Fatal(err)
	}
	if backend.calls != callsBefore {
		t.Fatalf("Advance con prefetch hizo %d llamadas de red", backend.calls-callsBefore)
	}
	if c.Current().ID != 2 {
		t.Fatalf("current = %d, esperado 2", c.Current().ID)
	}
	if c.PrevCount() != 1 {
		t.Fatalf("pila de anteriores = %d", c.PrevCount())
	}
}

func TestAdvanceWithoutPrefetchFetchesOnce(t *testing.T) {
	backend := &fakeBackend{results: []*database.AssignResult{
		leadResult(1, "Lead A"),
		leadResult(2, "Lead B"),
	}}
	c := New(backend, "ana")
	if err := c.Join("ventas-co"); err != nil {
		t.Fatal(err)
	}

	callsBefore := backend.calls
	if err := c.Advance(); err != nil {
		t.Fatal(err)
	}
	if got := backend.calls - callsBefore; got != 1 {
		t.Fatalf("Advance sin prefetch hizo %d llamadas, esperado 1", got)
	}
	if c.Current().ID != 2 {
		t.Fatalf("current = %d", c.Current().ID)
	}
}

func TestPrefetchSkipsDuplicateOfCurrent(t *testing.T) {
	backend := &fakeBackend{results: []*database.AssignResult{
		leadResult(1, "Lead A"),
		leadResult(1, "Lead A"), // el backend reasigna el mismo registro
	}}
	c := New(backend, "ana")
	if err := c.Join("ventas-co"); err != nil {
		t.Fatal(err)
	}
	if err := c.Prefetch(); err != nil {
		t.Fatal(err)
	}
	if c.Next() != nil {
		t.Fatalf("prefetch duplicado no debe guardarse: %+v", c.Next())
	}
}

func TestPrefetchSkipsWhenAlreadyHeld(t *testing.T) {
	backend := &fakeBackend{results: []*database.AssignResult{
		leadResult(1, "Lead A"),
		leadResult(2, "Lead B"),
	}}
	c := New(backend, "ana")
	if err := c.Join("ventas-co"); err != nil {
		t.Fatal(err)
	}
	if err := c.Prefetch(); err != nil {
		t.Fatal(err)
	}

	callsBefore := backend.calls
	if err := c.Prefetch(); err != nil {
		t.Fatal(err)
	}
	if backend.calls != callsBefore {
		t.Fatal("segundo prefetch no debe tocar la red")
	}
}

func TestGoBack(t *testing.T) {
	backend := &fakeBackend{results: []*database.AssignResult{
		leadResult(1, "Lead A"),
		leadResult(2, "Lead B"),
	}}
	c := New(backend, "ana")
	if err := c.Join("ventas-co"); err != nil {
		t.Fatal(err)
	}
	if err := c.Advance(); err != nil {
		t.Fatal(err)
	}

	if !c.GoBack() {
		t.Fatal("GoBack con pila no vacía debe regresar")
	}
	if c.Current().ID != 1 {
		t.Fatalf("current tras GoBack = %d", c.Current().ID)
	}
	// El lead que se dejó queda como prefetch
	if c.Next() == nil || c.Next().ID != 2 {
		t.Fatalf("next tras GoBack = %+v", c.Next())
	}

	if c.GoBack() {
		t.Fatal("GoBack con pila vacía debe ser no-op")
	}
}

func TestEmptyReasonSurfacedVerbatim(t *testing.T) {
	backend := &fakeBackend{results: []*database.AssignResult{
		{Reason: database.ReasonCooldown, Stats: database.QueueStats{Total: 10, Pendientes: 3}},
	}}
	c := New(backend, "ana")
	if err := c.Join("ventas-co"); err != nil {
		t.Fatal(err)
	}
	if c.EmptyReason() != database.ReasonCooldown {
		t.Fatalf("reason = %q", c.EmptyReason())
	}
	if c.Stats().Pendientes != 3 {
		t.Fatalf("stats = %+v", c.Stats())
	}
	if c.Completed() {
		t.Fatal("cooldown no es completitud")
	}
}

func TestCompletedSignal(t *testing.T) {
	backend := &fakeBackend{results: []*database.AssignResult{
		{Completed: true},
	}}
	c := New(backend, "ana")
	if err := c.Join("ventas-co"); err != nil {
		t.Fatal(err)
	}
	if !c.Completed() {
		t.Fatal("debe reportar campaña completada")
	}
	if c.Current() != nil {
		t.Fatal("sin lead en mano tras completitud")
	}
}

func TestFetchErrorLeavesStateUnchanged(t *testing.T) {
	backend := &fakeBackend{results: []*database.AssignResult{leadResult(1, "Lead A")}}
	c := New(backend, "ana")
	if err := c.Join("ventas-co"); err != nil {
		t.Fatal(err)
	}

	backend.err = errors.New("backend caído")
	if err := c.Advance(); err == nil {
		t.Fatal("se esperaba error de red")
	}
	// El lead actual ya se movió a la pila, pero nada más cambió y el
	// ejecutivo puede reintentar con Fetch
	if c.Completed() || c.EmptyReason() != "" {
		t.Fatal("el error de red no debe alterar completitud ni razón")
	}

	backend.err = nil
	backend.results = []*database.AssignResult{leadResult(2, "Lead B")}
	if err := c.Fetch(); err != nil {
		t.Fatalf("reintento falló: %v", err)
	}
	if c.Current().ID != 2 {
		t.Fatalf("current tras reintento = %d", c.Current().ID)
	}
}
