package models

import (
	"testing"
	"time"
)

func TestSanitizeClient(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "acme", "acme"},
		{"spaces", "Acme Corp", "AcmeCorp"},
		{"dots", "acme.example.com", "acmeexamplecom"},
		{"mixed", "A. C. M. E.", "ACME"},
		{"empty", "", ""},
		{"keeps dashes", "acme-eu_1", "acme-eu_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeClient(tt.in); got != tt.want {
				t.Errorf("SanitizeClient(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQueryTemplateResolve(t *testing.T) {
	w := TimeWindow{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Stop:  time.Date(2024, 3, 1, 0, 15, 0, 0, time.UTC),
	}
	tmpl := QueryTemplate{
		Name:       "Authentication Failure",
		Expression: "SELECT * FROM events WHERE processorid=##### AND DOMAINNAME(domainid)=@@@@@ START !!!!! STOP $$$$$",
		Class:      ClassShort,
	}

	got := tmpl.Resolve("104", "Acme Corp", w)
	want := "SELECT * FROM events WHERE processorid=104 AND DOMAINNAME(domainid)='Acme Corp' START '2024-03-01 00:00:00' STOP '2024-03-01 00:15:00'"
	if got != want {
		t.Errorf("Resolve() =\n  %s\nwant\n  %s", got, want)
	}
}

func TestQueryTemplateResolveRepeatedPlaceholders(t *testing.T) {
	w := TimeWindow{
		Start: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Stop:  time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	tmpl := QueryTemplate{Expression: "##### ##### @@@@@"}

	if got := tmpl.Resolve("7", "x", w); got != "7 7 'x'" {
		t.Errorf("Resolve() = %q", got)
	}
}

func TestNewQueryTask(t *testing.T) {
	w := TimeWindow{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Stop:  time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC),
	}
	task := NewQueryTask("104", "acme.example", QueryTemplate{
		Name:       "Firewall Deny",
		Expression: "@@@@@",
		Class:      ClassLong,
	}, w)

	if task.Client != "acme.example" {
		t.Errorf("Client = %q, want original identifier", task.Client)
	}
	if task.ClientDatabase != "acmeexample" {
		t.Errorf("ClientDatabase = %q, want acmeexample", task.ClientDatabase)
	}
	if task.Collection != "raw_Firewall Deny" {
		t.Errorf("Collection = %q", task.Collection)
	}
	if task.Expression != "'acme.example'" {
		t.Errorf("Expression = %q, query must use the unsanitized client", task.Expression)
	}
	if task.Class != ClassLong || task.Window != w {
		t.Errorf("class/window not carried over: %+v", task)
	}
}

func TestSearchStateIsTerminal(t *testing.T) {
	terminal := map[SearchState]bool{
		StateNotStarted: false,
		StateTriggered:  false,
		StatePolling:    false,
		StateCompleted:  true,
		StateAbnormal:   true,
		StateExhausted:  true,
	}
	for s, want := range terminal {
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}
