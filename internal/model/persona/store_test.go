package persona

import "testing"

func TestMemoryStoreFindsSeededTutor(t *testing.T) {
	store := NewMemoryStore(Seed())

	got, ok := store.FindByID(DefaultID)
	if !ok {
		t.Fatalf("expected persona %s to be seeded", DefaultID)
	}
	if got.OpeningLine == "" {
		t.Fatal("expected an opening line for the default persona")
	}
	if _, ok := store.FindByID("missing"); ok {
		t.Fatal("expected lookup of unknown persona to fail")
	}
}

func TestMemoryStoreListReturnsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Name = "changed"

	again, _ := store.FindByID(DefaultID)
	if again.Name == "changed" {
		t.Fatal("List must not expose internal storage")
	}
}
