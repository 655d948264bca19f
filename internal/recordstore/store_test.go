package recordstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hanoibanhcuon/automaker/internal/domain"
)

func newRecord(id string) *domain.Record {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Record{
		ID:        id,
		Title:     "Test record " + id,
		Status:    domain.StatusBacklog,
		StartedAt: &now,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store := New(t.TempDir())

	rec := newRecord("feat-1")
	rec.Dependencies = []string{"feat-0"}
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("feat-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != rec.Title {
		t.Errorf("Title = %q, want %q", got.Title, rec.Title)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "feat-0" {
		t.Errorf("Dependencies = %v", got.Dependencies)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Get("nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListSkipsCorrupt(t *testing.T) {
	store := New(t.TempDir())

	for _, id := range []string{"feat-b", "feat-a"} {
		if err := store.Save(newRecord(id)); err != nil {
			t.Fatal(err)
		}
	}

	// A corrupt record directory must not break listing.
	dir := store.RecordDir("feat-c")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "feature.json"), []byte("{broken"), 0o644)

	records, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("record count = %d, want 2", len(records))
	}
	if records[0].ID != "feat-a" || records[1].ID != "feat-b" {
		t.Errorf("order = %s, %s; want feat-a, feat-b", records[0].ID, records[1].ID)
	}
}

func TestStore_BackupRotation(t *testing.T) {
	store := New(t.TempDir())

	rec := newRecord("feat-1")
	for i := 0; i < 5; i++ {
		rec.Title = "version " + string(rune('A'+i))
		if err := store.Save(rec); err != nil {
			t.Fatal(err)
		}
	}

	backups := store.Backups("feat-1")
	if len(backups) != MaxBackups {
		t.Fatalf("backup count = %d, want %d", len(backups), MaxBackups)
	}
	// backup.1 is the most recent pre-save state.
	if backups[0].Title != "version D" {
		t.Errorf("backups[0].Title = %q, want version D", backups[0].Title)
	}
}

func TestStore_BackupsSkipCorrupt(t *testing.T) {
	store := New(t.TempDir())
	rec := newRecord("feat-1")
	store.Save(rec)
	store.Save(rec) // produces backup.1

	os.WriteFile(store.recordPath("feat-1")+".backup.2", []byte("not json"), 0o644)

	backups := store.Backups("feat-1")
	if len(backups) != 1 {
		t.Errorf("backup count = %d, want 1 (corrupt backup skipped)", len(backups))
	}
}

func TestStore_Output(t *testing.T) {
	store := New(t.TempDir())

	if store.HasOutput("feat-1") {
		t.Error("HasOutput = true for missing artifact")
	}
	if got := store.ReadOutput("feat-1"); got != "" {
		t.Errorf("ReadOutput = %q, want empty", got)
	}

	if err := store.WriteOutput("feat-1", "# Output\ndone\n"); err != nil {
		t.Fatal(err)
	}
	if !store.HasOutput("feat-1") {
		t.Error("HasOutput = false after write")
	}
	if got := store.ReadOutput("feat-1"); got != "# Output\ndone\n" {
		t.Errorf("ReadOutput = %q", got)
	}
}

func TestStore_SaveIsAtomic(t *testing.T) {
	store := New(t.TempDir())
	rec := newRecord("feat-1")
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}

	// No temp droppings left behind, and the file is valid JSON.
	entries, err := os.ReadDir(store.RecordDir("feat-1"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == "" {
			continue
		}
		if matched, _ := filepath.Match("*.tmp-*", e.Name()); matched {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}

	data, err := os.ReadFile(store.recordPath("feat-1"))
	if err != nil {
		t.Fatal(err)
	}
	var parsed domain.Record
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Errorf("record file is not valid JSON: %v", err)
	}
}
