package market

import "testing"

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	if r.Count() != 5 {
		t.Fatalf("count = %d, want 5", r.Count())
	}

	p, err := r.Get("REC/USDT")
	if err != nil {
		t.Fatalf("get REC/USDT: %v", err)
	}
	if p.Base != "REC" || p.Quote != "USDT" {
		t.Errorf("pair assets = %s/%s, want REC/USDT", p.Base, p.Quote)
	}
	if p.BasePrice != 45.20 {
		t.Errorf("base price = %f, want 45.20", p.BasePrice)
	}
	if p.Status != Active {
		t.Errorf("status = %s, want active", p.Status)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		pair    *Pair
		wantErr bool
	}{
		{"valid", &Pair{Symbol: "EUA/USDT", Base: "EUA", Quote: "USDT", BasePrice: 70}, false},
		{"nil pair", nil, true},
		{"empty symbol", &Pair{Base: "EUA", Quote: "USDT", BasePrice: 70}, true},
		{"missing base", &Pair{Symbol: "EUA/USDT", Quote: "USDT", BasePrice: 70}, true},
		{"zero base price", &Pair{Symbol: "EUA/USDT", Base: "EUA", Quote: "USDT"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.pair)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&Pair{Symbol: "EUA/USDT", Base: "EUA", Quote: "USDT", BasePrice: 70}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(&Pair{Symbol: "EUA/USDT", Base: "EUA", Quote: "USDT", BasePrice: 71}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestSetStatus(t *testing.T) {
	r := NewDefaultRegistry()

	if err := r.SetStatus("VCU/USDT", Halted); err != nil {
		t.Fatalf("halt: %v", err)
	}
	p, _ := r.Get("VCU/USDT")
	if p.Status != Halted {
		t.Errorf("status = %s, want halted", p.Status)
	}

	if err := r.SetStatus("NOPE/USDT", Halted); err == nil {
		t.Error("expected unknown symbol to fail")
	}
	if err := r.SetStatus("VCU/USDT", Status("settled")); err == nil {
		t.Error("expected unknown status to fail")
	}
}

func TestListSorted(t *testing.T) {
	r := NewDefaultRegistry()

	symbols := r.Symbols()
	if len(symbols) != 5 {
		t.Fatalf("symbols = %v", symbols)
	}
	for i := 1; i < len(symbols); i++ {
		if symbols[i-1] >= symbols[i] {
			t.Errorf("symbols not sorted: %v", symbols)
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewDefaultRegistry()

	p, _ := r.Get("CER/USDT")
	p.Status = Halted

	again, _ := r.Get("CER/USDT")
	if again.Status != Active {
		t.Error("mutating a returned pair must not affect the registry")
	}
}
