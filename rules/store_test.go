package rules

import (
	"errors"
	"testing"
)

func storeRule(id string, active bool) *Rule {
	return &Rule{
		ID:        id,
		Severity:  SeverityLow,
		Condition: leafEq("x", 1.0),
		FlagCode:  "F",
		Active:    active,
	}
}

func TestInMemoryStoreAddGet(t *testing.T) {
	store := NewInMemoryRuleStore()

	rule := storeRule("ATT-001", true)
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if rule.CreatedAt.IsZero() || rule.UpdatedAt.IsZero() {
		t.Error("Add() should stamp timestamps")
	}

	got, err := store.Get("ATT-001")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != "ATT-001" {
		t.Errorf("Get() = %s", got.ID)
	}

	if err := store.Add(storeRule("ATT-001", true)); err == nil {
		t.Error("Add() should reject duplicate IDs")
	}

	if _, err := store.Get("NO-SUCH"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() unknown = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryStoreListOrder(t *testing.T) {
	store := NewInMemoryRuleStore()

	ids := []string{"r-3", "r-1", "r-2"}
	for i, id := range ids {
		if err := store.Add(storeRule(id, i != 1)); err != nil {
			t.Fatalf("Add(%s) error: %v", id, err)
		}
	}

	all, err := store.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() = %d rules", len(all))
	}
	for i, id := range ids {
		if all[i].ID != id {
			t.Errorf("List()[%d] = %s, want %s (insertion order)", i, all[i].ID, id)
		}
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if len(active) != 2 || active[0].ID != "r-3" || active[1].ID != "r-2" {
		t.Errorf("ListActive() = %v", activeIDs(active))
	}
}

func activeIDs(ruleSet []*Rule) []string {
	ids := make([]string, len(ruleSet))
	for i, rule := range ruleSet {
		ids[i] = rule.ID
	}
	return ids
}

func TestInMemoryStoreUpdate(t *testing.T) {
	store := NewInMemoryRuleStore()

	original := storeRule("ATT-001", true)
	if err := store.Add(original); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	createdAt := original.CreatedAt

	updated := storeRule("ATT-001", false)
	updated.FlagCode = "NEW_FLAG"
	if err := store.Update(updated); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, _ := store.Get("ATT-001")
	if got.FlagCode != "NEW_FLAG" || got.Active {
		t.Errorf("Update() did not apply: %+v", got)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Error("Update() must preserve CreatedAt")
	}

	if err := store.Update(storeRule("NO-SUCH", true)); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Update() unknown = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryStoreDelete(t *testing.T) {
	store := NewInMemoryRuleStore()
	store.Add(storeRule("r-1", true))
	store.Add(storeRule("r-2", true))

	if err := store.Delete("r-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get("r-1"); !errors.Is(err, ErrRuleNotFound) {
		t.Error("deleted rule should be gone")
	}

	all, _ := store.List()
	if len(all) != 1 || all[0].ID != "r-2" {
		t.Errorf("List() after delete = %v", activeIDs(all))
	}

	if err := store.Delete("r-1"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Delete() again = %v, want ErrRuleNotFound", err)
	}
}
