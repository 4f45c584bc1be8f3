package outcome

import (
	"errors"
	"testing"
	"time"

	"discador/internal/database"
)

func newTestResolver(maxGestiones int) *Resolver {
	r := NewResolver(DefaultCatalog(), maxGestiones)
	r.now = func() time.Time {
		return time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	}
	return r
}

func TestValidateRequiresTipificacion(t *testing.T) {
	r := newTestResolver(10)
	lead := &database.Lead{Etapa: "prospecto"}

	if _, err := r.Validate(lead, Decision{}); !errors.Is(err, ErrSinTipificacion) {
		t.Fatalf("esperaba ErrSinTipificacion, obtuve %v", err)
	}
	if _, err := r.Validate(lead, Decision{Tipificacion: "inventada"}); err == nil {
		t.Fatal("esperaba error por tipificación desconocida")
	}
}

func TestValidateNoContestaRetryHoras(t *testing.T) {
	r := newTestResolver(10)
	lead := &database.Lead{Etapa: "prospecto"}

	if _, err := r.Validate(lead, Decision{Tipificacion: "no_contesta"}); !errors.Is(err, ErrSinRetraso) {
		t.Fatalf("sin retry_horas esperaba ErrSinRetraso, obtuve %v", err)
	}
	if _, err := r.Validate(lead, Decision{Tipificacion: "no_contesta", RetryHoras: 5}); !errors.Is(err, ErrSinRetraso) {
		t.Fatalf("retry_horas fuera del conjunto esperaba ErrSinRetraso, obtuve %v", err)
	}
	if _, err := r.Validate(lead, Decision{Tipificacion: "no_contesta", RetryHoras: 6}); err != nil {
		t.Fatalf("retry_horas válido falló: %v", err)
	}
}

func TestValidateDisponibilidad(t *testing.T) {
	r := newTestResolver(10)
	lead := &database.Lead{Etapa: "prospecto"}

	cases := []struct {
		nombre  string
		d       Decision
		wantErr error
	}{
		{"sin decisión", Decision{Tipificacion: "volver_mas_adelante"}, ErrSinDisponibilidad},
		{"mantener sin días", Decision{Tipificacion: "volver_mas_adelante", Disponibilidad: DisponibilidadMantener}, ErrSinRetraso},
		{"mover sin días ni etapa", Decision{Tipificacion: "volver_mas_adelante", Disponibilidad: DisponibilidadMover}, ErrSinRetraso},
		{"mover sin etapa", Decision{Tipificacion: "volver_mas_adelante", Disponibilidad: DisponibilidadMover, FuturoDias: 7}, ErrSinEtapa},
		{"perder sin motivo", Decision{Tipificacion: "volver_mas_adelante", Disponibilidad: DisponibilidadPerder}, ErrSinMotivoPerdida},
	}
	for _, c := range cases {
		if _, err := r.Validate(lead, c.d); !errors.Is(err, c.wantErr) {
			t.Fatalf("%s: esperaba %v, obtuve %v", c.nombre, c.wantErr, err)
		}
	}

	ok := Decision{Tipificacion: "volver_mas_adelante", Disponibilidad: DisponibilidadMover, EtapaDestino: "negociación", FuturoDias: 7}
	if _, err := r.Validate(lead, ok); err != nil {
		t.Fatalf("decisión completa falló: %v", err)
	}
}

func TestValidatePositivaDesdeNoContesta(t *testing.T) {
	r := newTestResolver(10)

	lead := &database.Lead{Etapa: EtapaNoContesta}
	if _, err := r.Validate(lead, Decision{Tipificacion: "interesado"}); !errors.Is(err, ErrSinEtapa) {
		t.Fatalf("positiva desde 'no contesta' sin etapa destino esperaba ErrSinEtapa, obtuve %v", err)
	}
	if _, err := r.Validate(lead, Decision{Tipificacion: "interesado", EtapaDestino: "prospecto"}); err != nil {
		t.Fatalf("positiva con etapa destino falló: %v", err)
	}

	lead.Etapa = "prospecto"
	if _, err := r.Validate(lead, Decision{Tipificacion: "interesado"}); err != nil {
		t.Fatalf("positiva desde etapa real no debe exigir destino: %v", err)
	}
}

func TestValidateGestionesTope(t *testing.T) {
	r := newTestResolver(5)
	lead := &database.Lead{Etapa: "prospecto", Gestiones: 4}

	if _, err := r.Validate(lead, Decision{Tipificacion: "no_contesta", RetryHoras: 2}); !errors.Is(err, ErrGestionesTope) {
		t.Fatalf("diferir en el tope esperaba ErrGestionesTope, obtuve %v", err)
	}
	if _, err := r.Validate(lead, Decision{Tipificacion: "volver_mas_adelante", Disponibilidad: DisponibilidadMantener, FuturoDias: 3}); !errors.Is(err, ErrGestionesTope) {
		t.Fatalf("disponibilidad en el tope esperaba ErrGestionesTope, obtuve %v", err)
	}

	// Las salidas permitidas en el tope: cerrar positivo o cerrar perdido
	if _, err := r.Validate(lead, Decision{Tipificacion: "cierre"}); err != nil {
		t.Fatalf("cierre en el tope falló: %v", err)
	}
	if _, err := r.Validate(lead, Decision{Tipificacion: ClaveMaxIntentos}); err != nil {
		t.Fatalf("max_intentos en el tope falló: %v", err)
	}
}

func TestResolveTerminalidad(t *testing.T) {
	r := newTestResolver(10)
	lead := &database.Lead{Etapa: "prospecto", Pais: "CO"}

	res, err := r.Resolve(lead, Decision{Tipificacion: "cierre"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Terminal || res.ProximaLlamada != nil {
		t.Fatalf("positiva debe ser terminal sin próxima llamada: %+v", res)
	}

	res, err = r.Resolve(lead, Decision{Tipificacion: "datos_falsos", MotivoPerdida: "número falso"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Terminal {
		t.Fatal("pérdida debe ser terminal")
	}

	res, err = r.Resolve(lead, Decision{Tipificacion: "volver_mas_adelante", Disponibilidad: DisponibilidadPerder, MotivoPerdida: "cambió de ciudad"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Terminal {
		t.Fatal("disponibilidad perder debe ser terminal")
	}
}

func TestResolveProximaLlamadaEnZonaDelLead(t *testing.T) {
	r := newTestResolver(10)

	lead := &database.Lead{Etapa: "prospecto", Pais: "MX"}
	res, err := r.Resolve(lead, Decision{Tipificacion: "no_contesta", RetryHoras: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Terminal || res.ProximaLlamada == nil {
		t.Fatalf("no_contesta debe diferir: %+v", res)
	}
	want := time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC)
	if !res.ProximaLlamada.Equal(want) {
		t.Fatalf("próxima llamada: esperaba %v, obtuve %v", want, res.ProximaLlamada)
	}
	if res.ProximaLlamada.Location().String() != "America/Mexico_City" {
		t.Fatalf("zona: esperaba America/Mexico_City, obtuve %v", res.ProximaLlamada.Location())
	}

	// País desconocido cae a Bogotá
	lead.Pais = "XX"
	res, err = r.Resolve(lead, Decision{Tipificacion: "no_contesta", RetryHoras: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProximaLlamada.Location().String() != "America/Bogota" {
		t.Fatalf("zona por defecto: esperaba America/Bogota, obtuve %v", res.ProximaLlamada.Location())
	}
}

func TestResolveReintentoMayorDifiereMasTarde(t *testing.T) {
	r := newTestResolver(10)
	lead := &database.Lead{Etapa: "prospecto", Pais: "CO"}

	anterior := time.Time{}
	for _, horas := range []int{1, 2, 3, 4, 6, 24} {
		res, err := r.Resolve(lead, Decision{Tipificacion: "no_contesta", RetryHoras: horas})
		if err != nil {
			t.Fatalf("retry_horas=%d: %v", horas, err)
		}
		if !res.ProximaLlamada.After(anterior) {
			t.Fatalf("retry_horas=%d: %v no es posterior a %v", horas, res.ProximaLlamada, anterior)
		}
		anterior = *res.ProximaLlamada
	}
}

func TestResolveDisponibilidadEnDias(t *testing.T) {
	r := newTestResolver(10)
	lead := &database.Lead{Etapa: "prospecto", Pais: "PE"}

	res, err := r.Resolve(lead, Decision{
		Tipificacion:   "volver_mas_adelante",
		Disponibilidad: DisponibilidadMantener,
		FuturoDias:     7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Terminal || res.ProximaLlamada == nil {
		t.Fatalf("mantener debe diferir: %+v", res)
	}
	want := time.Date(2025, 3, 17, 14, 0, 0, 0, time.UTC)
	if !res.ProximaLlamada.Equal(want) {
		t.Fatalf("próxima llamada: esperaba %v, obtuve %v", want, res.ProximaLlamada)
	}
}

func TestCatalogSiempreTieneMaxIntentos(t *testing.T) {
	c := DefaultCatalog()
	tip, ok := c.Get(ClaveMaxIntentos)
	if !ok {
		t.Fatal("el catálogo embebido debe incluir max_intentos")
	}
	if tip.Clase != ClasePerdida {
		t.Fatalf("max_intentos debe ser clase perdida, obtuve %s", tip.Clase)
	}
}

func TestCatalogFromRowsPreservaOrdenYDescartaDuplicados(t *testing.T) {
	c := FromRows([]database.Tipificacion{
		{Clave: "a", Nombre: "A", Categoria: "positiva", Clase: "positiva"},
		{Clave: "b", Nombre: "B", Categoria: "negativa", Clase: "perdida"},
		{Clave: "a", Nombre: "A duplicada", Categoria: "positiva", Clase: "positiva"},
	})
	list := c.List()
	if len(list) != 2 {
		t.Fatalf("esperaba 2 entradas, obtuve %d", len(list))
	}
	if list[0].Clave != "a" || list[1].Clave != "b" {
		t.Fatalf("orden inesperado: %+v", list)
	}
	if list[0].Nombre != "A" {
		t.Fatal("el duplicado no debe reemplazar la entrada original")
	}
}
