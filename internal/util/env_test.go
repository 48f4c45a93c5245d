package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{" ON ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("SPEAKER_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("SPEAKER_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 3},
		{"5", 5},
		{"0", 0},
		{"-1", 3},
		{"many", 3},
	}
	for _, tt := range tests {
		t.Setenv("SPEAKER_TEST_INT", tt.value)
		if got := ParseIntEnv("SPEAKER_TEST_INT", 3); got != tt.want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 15 * time.Minute},
		{"15", 15 * time.Minute},
		{"0.5", 30 * time.Second},
		{"90s", 90 * time.Second},
		{"0", 15 * time.Minute},
		{"-5m", 15 * time.Minute},
		{"soon", 15 * time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("SPEAKER_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("SPEAKER_TEST_DURATION", time.Minute, 15*time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
