package queue

import "testing"

func TestSummarizeParamsCapsKeyCount(t *testing.T) {
	params := make(map[string]any, 20)
	for i := 0; i < 20; i++ {
		params[string(rune('a'+i))] = i
	}
	out := summarizeParams(params)
	if len(out) > 8 {
		t.Fatalf("summarizeParams returned %d keys, want at most 8", len(out))
	}
}

func TestSummarizeParamsNilForEmpty(t *testing.T) {
	if out := summarizeParams(nil); out != nil {
		t.Fatalf("summarizeParams(nil) = %v, want nil", out)
	}
	if out := summarizeParams(map[string]any{}); out != nil {
		t.Fatalf("summarizeParams(empty) = %v, want nil", out)
	}
}
