package model

import "testing"

func TestClampProgress(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{-10, 0},
		{0, 0},
		{50, 50},
		{100, 100},
		{150, 100},
	}
	for _, c := range cases {
		if got := ClampProgress(c.in); got != c.want {
			t.Fatalf("ClampProgress(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobCompleted, JobFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %q to be terminal", s)
		}
	}
	nonTerminal := []JobStatus{JobPending, JobClaimed, JobProcessing}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Fatalf("expected %q to not be terminal", s)
		}
	}
}

func TestJobStandard(t *testing.T) {
	cases := []struct {
		priority int
		want     bool
	}{
		{0, true},
		{-1, true},
		{1, false},
		{10, false},
	}
	for _, c := range cases {
		j := &Job{Priority: c.priority}
		if got := j.Standard(); got != c.want {
			t.Fatalf("Job{Priority: %d}.Standard() = %v, want %v", c.priority, got, c.want)
		}
	}
}
