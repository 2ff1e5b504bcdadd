package tick

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	data := []byte(`{"symbol":"HPG","matchPrice":"27.25","matchQtty":"100","side":"B","sendingTime":"2024-03-11T09:15:02+07:00"}`)

	tk, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if tk.Symbol != "HPG" {
		t.Errorf("Symbol = %q, want %q", tk.Symbol, "HPG")
	}
	if tk.Price != 27.25 {
		t.Errorf("Price = %v, want 27.25", tk.Price)
	}
	if tk.Quantity != 100 {
		t.Errorf("Quantity = %d, want 100", tk.Quantity)
	}
	if tk.Side != SideBuy {
		t.Errorf("Side = %q, want %q", tk.Side, SideBuy)
	}
	if tk.Time != "2024-03-11T09:15:02+07:00" {
		t.Errorf("Time = %q, want sendingTime passed through", tk.Time)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{
			name:  "missing matchPrice",
			data:  `{"symbol":"HPG","matchQtty":"100","side":"B","sendingTime":"t"}`,
			field: "matchPrice",
		},
		{
			name:  "non-numeric matchPrice",
			data:  `{"symbol":"HPG","matchPrice":"abc","matchQtty":"100","side":"B","sendingTime":"t"}`,
			field: "matchPrice",
		},
		{
			name:  "missing matchQtty",
			data:  `{"symbol":"HPG","matchPrice":"27.25","side":"B","sendingTime":"t"}`,
			field: "matchQtty",
		},
		{
			name:  "fractional matchQtty",
			data:  `{"symbol":"HPG","matchPrice":"27.25","matchQtty":"10.5","side":"B","sendingTime":"t"}`,
			field: "matchQtty",
		},
		{
			name:  "missing symbol",
			data:  `{"matchPrice":"27.25","matchQtty":"100","side":"B","sendingTime":"t"}`,
			field: "symbol",
		},
		{
			name:  "unknown side",
			data:  `{"symbol":"HPG","matchPrice":"27.25","matchQtty":"100","side":"X","sendingTime":"t"}`,
			field: "side",
		},
		{
			name:  "not json",
			data:  `tick!`,
			field: "payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error type = %T, want *ParseError", err)
			}
			if pe.Field != tt.field {
				t.Errorf("Field = %q, want %q", pe.Field, tt.field)
			}
		})
	}
}

func TestTick_JSON(t *testing.T) {
	tk := Tick{
		Symbol:   "TCB",
		Price:    45.6,
		Quantity: 500,
		Side:     SideSell,
		Time:     "10:31:07",
	}

	data, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"symbol":"TCB","price":45.6,"quantity":500,"side":"S","time":"10:31:07"}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}
