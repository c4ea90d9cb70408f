package config

import (
	"testing"
	"time"
)

func TestGetEnvFallsBackToDefault(t *testing.T) {
	if got := GetEnv("GPUHUB_TEST_UNSET_VAR", "fallback", nil); got != "fallback" {
		t.Fatalf("GetEnv = %q, want fallback", got)
	}
}

func TestGetEnvReadsSetValue(t *testing.T) {
	t.Setenv("GPUHUB_TEST_VAR", "custom")
	if got := GetEnv("GPUHUB_TEST_VAR", "fallback", nil); got != "custom" {
		t.Fatalf("GetEnv = %q, want custom", got)
	}
}

func TestGetEnvAsIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("GPUHUB_TEST_INT", "42")
	if got := GetEnvAsInt("GPUHUB_TEST_INT", 7, nil); got != 42 {
		t.Fatalf("GetEnvAsInt = %d, want 42", got)
	}
	t.Setenv("GPUHUB_TEST_INT_BAD", "not-a-number")
	if got := GetEnvAsInt("GPUHUB_TEST_INT_BAD", 7, nil); got != 7 {
		t.Fatalf("GetEnvAsInt with bad value = %d, want fallback 7", got)
	}
}

func TestGetEnvAsDurationAcceptsBareSecondsOrDurationString(t *testing.T) {
	t.Setenv("GPUHUB_TEST_DURATION_SECS", "30")
	if got := GetEnvAsDuration("GPUHUB_TEST_DURATION_SECS", time.Second, nil); got != 30*time.Second {
		t.Fatalf("GetEnvAsDuration(bare seconds) = %v, want 30s", got)
	}
	t.Setenv("GPUHUB_TEST_DURATION_STR", "2m")
	if got := GetEnvAsDuration("GPUHUB_TEST_DURATION_STR", time.Second, nil); got != 2*time.Minute {
		t.Fatalf("GetEnvAsDuration(duration string) = %v, want 2m", got)
	}
}

func TestGetEnvAsBool(t *testing.T) {
	cases := []struct {
		val  string
		want bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"false", false},
		{"", false},
	}
	for _, c := range cases {
		t.Setenv("GPUHUB_TEST_BOOL", c.val)
		if got := GetEnvAsBool("GPUHUB_TEST_BOOL", false, nil); got != c.want {
			t.Fatalf("GetEnvAsBool(%q) = %v, want %v", c.val, got, c.want)
		}
	}
}
