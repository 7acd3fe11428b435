package credential

import (
	"errors"
	"testing"
	"time"

	"github.com/awsl-project/relay/internal/domain"
)

func newCred(uuid, name string, healthy bool, lastUsed time.Time) *domain.Credential {
	return &domain.Credential{
		UUID:       uuid,
		Name:       name,
		Kind:       domain.ProviderKindKiro,
		IsHealthy:  healthy,
		LastUsedAt: lastUsed,
	}
}

func TestSelectPrefersOlderLastUsed(t *testing.T) {
	store := NewStore(nil)
	now := time.Now()
	store.Put(newCred("a", "cred-a", true, now.Add(-time.Minute)))
	store.Put(newCred("b", "cred-b", true, now.Add(-time.Hour)))

	picked, err := store.Select(domain.ProviderKindKiro, "claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	if picked.UUID != "b" {
		t.Errorf("picked %s, want b (older last_used_at)", picked.UUID)
	}
}

func TestSelectPrefersHealthyRegardlessOfLastUsed(t *testing.T) {
	store := NewStore(nil)
	now := time.Now()
	store.Put(newCred("a", "cred-a", false, now.Add(-time.Hour)))
	store.Put(newCred("b", "cred-b", true, now))

	picked, err := store.Select(domain.ProviderKindKiro, "claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	if picked.UUID != "b" {
		t.Errorf("picked %s, want healthy b", picked.UUID)
	}
}

func TestSelectFallsBackToUnhealthy(t *testing.T) {
	store := NewStore(nil)
	a := newCred("a", "cred-a", false, time.Now())
	a.LastHealthCheckAt = time.Now().Add(-time.Hour)
	b := newCred("b", "cred-b", false, time.Now())
	b.LastHealthCheckAt = time.Now()
	store.Put(a)
	store.Put(b)

	picked, err := store.Select(domain.ProviderKindKiro, "claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	// 最早失败的先得到自愈机会
	if picked.UUID != "a" {
		t.Errorf("picked %s, want a (least recently failed)", picked.UUID)
	}
}

func TestSelectSkipsDisabledAndUnsupportedModel(t *testing.T) {
	store := NewStore(nil)
	disabled := newCred("a", "cred-a", true, time.Time{})
	disabled.IsDisabled = true
	denied := newCred("b", "cred-b", true, time.Time{})
	denied.NotSupportedModels = []string{"claude-sonnet-4-5"}
	store.Put(disabled)
	store.Put(denied)

	_, err := store.Select(domain.ProviderKindKiro, "claude-sonnet-4-5")
	if !errors.Is(err, domain.ErrNoCredentialsAvailable) {
		t.Errorf("err = %v, want ErrNoCredentialsAvailable", err)
	}

	// 其他模型不受 denylist 影响
	picked, err := store.Select(domain.ProviderKindKiro, "claude-haiku-4-5")
	if err != nil {
		t.Fatal(err)
	}
	if picked.UUID != "b" {
		t.Errorf("picked %s, want b", picked.UUID)
	}
}

func TestSelectByNameIgnoresHealth(t *testing.T) {
	store := NewStore(nil)
	c := newCred("a", "cred-a", false, time.Time{})
	c.IsDisabled = true
	store.Put(c)

	picked, err := store.SelectByName("cred-a")
	if err != nil {
		t.Fatal(err)
	}
	if picked.UUID != "a" {
		t.Errorf("picked %s, want a", picked.UUID)
	}
}

func TestSelectionReturnsClone(t *testing.T) {
	store := NewStore(nil)
	store.Put(newCred("a", "cred-a", true, time.Time{}))

	picked, err := store.Select(domain.ProviderKindKiro, "m")
	if err != nil {
		t.Fatal(err)
	}
	picked.Name = "mutated"

	again, _ := store.SelectByUUID("a")
	if again.Name != "cred-a" {
		t.Errorf("store state mutated through returned pointer")
	}
}

func TestMarkUnhealthyAndHealthy(t *testing.T) {
	store := NewStore(nil)
	store.Put(newCred("a", "cred-a", true, time.Time{}))

	store.MarkUnhealthy("a", "upstream 500")
	c, _ := store.SelectByUUID("a")
	if c.IsHealthy {
		t.Error("still healthy after MarkUnhealthy")
	}
	if c.LastErrorMessage != "upstream 500" {
		t.Errorf("LastErrorMessage = %q", c.LastErrorMessage)
	}

	store.MarkHealthy("a")
	c, _ = store.SelectByUUID("a")
	if !c.IsHealthy {
		t.Error("not healthy after MarkHealthy")
	}
}

func TestRecordUsageAdvancesLastUsed(t *testing.T) {
	store := NewStore(nil)
	old := time.Now().Add(-time.Hour)
	store.Put(newCred("a", "cred-a", true, old))

	store.RecordUsage("a")
	c, _ := store.SelectByUUID("a")
	if !c.LastUsedAt.After(old) {
		t.Error("LastUsedAt not advanced")
	}
	if c.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", c.UsageCount)
	}
}
