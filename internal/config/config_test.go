package config

import (
	"sync"
	"testing"
)

func TestResolveModel(t *testing.T) {
	snap := &Snapshot{
		ModelAliases: map[string]string{
			"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
			"gpt-4o*":                    "claude-sonnet-4-5",
			"*-latest":                   "claude-opus-4-5",
		},
	}

	tests := []struct {
		name  string
		model string
		want  string
	}{
		{"exact match", "claude-3-5-sonnet-20241022", "claude-sonnet-4-5"},
		{"prefix wildcard", "gpt-4o-mini", "claude-sonnet-4-5"},
		{"suffix wildcard", "claude-opus-latest", "claude-opus-4-5"},
		{"no match passes through", "gemini-2.5-pro", "gemini-2.5-pro"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snap.ResolveModel(tt.model); got != tt.want {
				t.Errorf("ResolveModel(%q) = %q, want %q", tt.model, got, tt.want)
			}
		})
	}
}

func TestResolveModelNilSnapshot(t *testing.T) {
	var snap *Snapshot
	if got := snap.ResolveModel("anything"); got != "anything" {
		t.Errorf("nil snapshot must pass models through, got %q", got)
	}
}

func TestHolderSwapIsAtomic(t *testing.T) {
	holder := NewHolder(&Snapshot{AuthKey: "old"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				snap := holder.Load()
				// 单次请求里引用同一个快照，不会读到撕裂的混合
				if snap.AuthKey != "old" && snap.AuthKey != "new" {
					t.Errorf("torn snapshot: %q", snap.AuthKey)
					return
				}
			}
		}()
	}
	for j := 0; j < 100; j++ {
		holder.Swap(&Snapshot{AuthKey: "new"})
		holder.Swap(&Snapshot{AuthKey: "old"})
	}
	wg.Wait()

	holder.Swap(&Snapshot{AuthKey: "new"})
	if holder.Load().AuthKey != "new" {
		t.Error("swap not visible")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	snap, err := LoadFile("")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Retry.MaxAttempts < 1 {
		t.Errorf("MaxAttempts = %d, want >= 1", snap.Retry.MaxAttempts)
	}
	if snap.Retry.InitialBackoff <= 0 || snap.Retry.MaxBackoff <= 0 {
		t.Errorf("backoff defaults missing: %+v", snap.Retry)
	}
}
