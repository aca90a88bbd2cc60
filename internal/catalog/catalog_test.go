package catalog

import (
	"path/filepath"
	"testing"
)

func TestLookupKnownModels(t *testing.T) {
	cat := New("/srv/models")
	for _, key := range []string{"en", "de"} {
		m, ok := cat.Lookup(key)
		if !ok {
			t.Fatalf("expected model %q in catalog", key)
		}
		if m.RepoID == "" || m.Name == "" {
			t.Fatalf("incomplete descriptor for %q: %+v", key, m)
		}
		if filepath.Dir(m.LocalPath) != "/srv/models" {
			t.Fatalf("local path not rooted in models dir: %s", m.LocalPath)
		}
	}
	if _, ok := cat.Lookup("fr"); ok {
		t.Fatal("unexpected model fr")
	}
}

func TestDefaultSpeakers(t *testing.T) {
	cat := New(t.TempDir())
	if got := cat.DefaultSpeaker("en"); got != "jenny" {
		t.Fatalf("expected jenny, got %q", got)
	}
	if got := cat.DefaultSpeaker("de"); got != "thorsten" {
		t.Fatalf("expected thorsten, got %q", got)
	}
	if got := cat.DefaultSpeaker("fr"); got != "" {
		t.Fatalf("expected empty default for unknown model, got %q", got)
	}
}

func TestSpeakersBelongToModel(t *testing.T) {
	cat := New(t.TempDir())
	en := cat.Speakers("en")
	if len(en) == 0 {
		t.Fatal("expected english speakers")
	}
	found := false
	for _, sp := range en {
		if sp.ID == cat.DefaultSpeaker("en") {
			found = true
		}
		if sp.Gender != "male" && sp.Gender != "female" {
			t.Fatalf("unexpected gender tag %q", sp.Gender)
		}
	}
	if !found {
		t.Fatal("default speaker not in speaker table")
	}
}

func TestKeysSorted(t *testing.T) {
	cat := New(t.TempDir())
	keys := cat.Keys()
	if len(keys) != 2 || keys[0] != "de" || keys[1] != "en" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
