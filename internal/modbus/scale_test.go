package modbus

import (
	"testing"
)

func TestDecodeMatchesDivisionForAllWords(t *testing.T) {
	for r := 0; r <= 0xFFFF; r++ {
		got := Decode(uint16(r), DefaultScale)
		if want := float64(r) / 100.0; got != want {
			t.Fatalf("Decode(%d) = %v, expected %v", r, got, want)
		}
	}
}

func TestEncodeInvertsDecode(t *testing.T) {
	for r := 0; r <= 0xFFFF; r++ {
		raw, err := Encode(Decode(uint16(r), 0), 0)
		if err != nil {
			t.Fatalf("Encode(Decode(%d)) failed: %v", r, err)
		}
		if int(raw) != r {
			t.Fatalf("Encode(Decode(%d)) = %d", r, raw)
		}
	}
}

func TestEncodeTwoDecimalValues(t *testing.T) {
	tests := []struct {
		value float64
		want  uint16
	}{
		{25.50, 2550},
		{0.01, 1},
		{0.1, 10},
		{85.07, 8507},
		{655.35, 65535},
	}
	for _, tt := range tests {
		got, err := Encode(tt.value, DefaultScale)
		if err != nil {
			t.Errorf("Encode(%v) failed: %v", tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Encode(%v) = %d, expected %d", tt.value, got, tt.want)
		}
	}
}

func TestEncodeRejects(t *testing.T) {
	for _, v := range []float64{0.001, -1, 655.36} {
		if _, err := Encode(v, DefaultScale); err == nil {
			t.Errorf("Expected error for %v", v)
		}
	}
}

func TestDecodeCustomScale(t *testing.T) {
	if got := Decode(25, 10); got != 2.5 {
		t.Errorf("Expected 2.5, got %v", got)
	}
	if got := Decode(7, 1); got != 7 {
		t.Errorf("Expected 7, got %v", got)
	}
}
