package reclaim

import (
	"testing"
	"time"
)

func TestBackoffForGrowsThenCaps(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, maxBackoff},
	}
	for _, c := range cases {
		if got := backoffFor(c.failures); got != c.want {
			t.Fatalf("backoffFor(%d) = %v, want %v", c.failures, got, c.want)
		}
	}
}
