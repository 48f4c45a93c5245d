package dialog

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
)

func TestParseFloatDigitPairs(t *testing.T) {
	for whole := 0; whole < 120; whole += 7 {
		for _, frac := range []string{"0", "5", "05", "25", "9"} {
			in := fmt.Sprintf("%d и %s", whole, frac)
			got, ok, err := ParseValue(models.ValueTypeFloat, in)
			if err != nil || !ok {
				t.Fatalf("%q: expected ok, got ok=%v err=%v", in, ok, err)
			}
			want, _ := strconv.ParseFloat(fmt.Sprintf("%d.%s", whole, frac), 64)
			if got != want {
				t.Errorf("%q: expected %v, got %v", in, want, got)
			}
		}
	}
}

func TestParseFloatPlainDigitsStayInteger(t *testing.T) {
	got, ok, err := ParseValue(models.ValueTypeFloat, " 80 ")
	if err != nil || !ok {
		t.Fatalf("expected ok, got ok=%v err=%v", ok, err)
	}
	if v, isInt := got.(int); !isInt || v != 80 {
		t.Errorf("expected int 80, got %T %v", got, got)
	}
}

func TestParseFloatNumeralWords(t *testing.T) {
	tests := map[string]float64{
		"пять и пять":                5.5,
		"семьдесят два и три":        72.3,
		"Тридцать шесть и шесть":     36.6,
		"пять и ноль пять":           5.05,
		"ноль и пять":                0.5,
		"тридцать шесть и ноль ноль": 36,
	}
	for in, want := range tests {
		got, ok, _ := ParseValue(models.ValueTypeFloat, in)
		if !ok || got != want {
			t.Errorf("%q: expected %v, got %v (ok=%v)", in, want, got, ok)
		}
	}
}

func TestParseFloatRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "5,5", "и 5", "5 и", "5 и 5 и 5", "пять", "5 и x", "-5 и 5"} {
		if got, ok, err := ParseValue(models.ValueTypeFloat, in); ok || err != nil {
			t.Errorf("%q: expected re-prompt, got %v ok=%v err=%v", in, got, ok, err)
		}
	}
}

func TestParseIntegerAllDigitsOnly(t *testing.T) {
	got, ok, _ := ParseValue(models.ValueTypeInteger, "072")
	if !ok || got != 72 {
		t.Errorf("expected 72, got %v ok=%v", got, ok)
	}
	for _, in := range []string{"7a", "١٢", "12.0", "+1", "один"} {
		if _, ok, _ := ParseValue(models.ValueTypeInteger, in); ok {
			t.Errorf("%q: expected rejection", in)
		}
	}
}

func TestParseStringVerbatim(t *testing.T) {
	got, ok, _ := ParseValue(models.ValueTypeString, "Болит голова")
	if !ok || got != "Болит голова" {
		t.Errorf("expected verbatim string, got %v", got)
	}
	if _, ok, _ := ParseValue(models.ValueTypeString, "  "); ok {
		t.Error("blank string must be re-prompted")
	}
}

func TestParseUnknownType(t *testing.T) {
	if _, _, err := ParseValue("date", "1"); !errors.Is(err, ErrUnknownValueType) {
		t.Errorf("expected ErrUnknownValueType, got %v", err)
	}
}

func TestYesNoDetection(t *testing.T) {
	tests := []struct {
		in       string
		positive bool
		negative bool
	}{
		{"Да", true, false},
		{"да, готов", true, false},
		{"нет", false, true},
		{"не готов", true, true},
		{"давай позже", true, true},
		{"что?", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := IsPositive(tt.in); got != tt.positive {
			t.Errorf("IsPositive(%q) = %v, want %v", tt.in, got, tt.positive)
		}
		if got := IsNegative(tt.in); got != tt.negative {
			t.Errorf("IsNegative(%q) = %v, want %v", tt.in, got, tt.negative)
		}
	}
}
