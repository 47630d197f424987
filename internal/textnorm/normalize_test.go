package textnorm

import "testing"

func TestNormalize_Basics(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hola, Buenos Días!", "hola buenos dias"},
		{"  CONDICIÓN   insegura  ", "condicion insegura"},
		{"securito... dime el top", "securito dime el top"},
		{"¿Qué pasó?", "que paso"},
		{"", ""},
		{"   ", ""},
		{"...!!!,,,", ""},
		{"año 2024", "ano 2024"},
	}

	for _, tc := range tests {
		got := Normalize(tc.in)
		if got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Hola, Buenos Días!",
		"SEGURITO dime el top de hallazgos",
		"",
		"?!.,;:",
		"ñandú über café",
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalize_CollapsesWhitespaceRuns(t *testing.T) {
	got := Normalize("uno\t\tdos\n\ntres")
	if got != "uno dos tres" {
		t.Errorf("expected collapsed spaces, got %q", got)
	}
}
