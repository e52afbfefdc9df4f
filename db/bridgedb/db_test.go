package bridgedb

import (
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/davidb137/spsp/pkg/local"
	"github.com/davidb137/spsp/pkg/spspaddr"
)

func TestLoadEmpty(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	_, found, err := db.Load()
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected no hint in an empty database")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	want := local.RetainedHint{
		Addr:    spspaddr.Addr{0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
		Channel: 6,
	}
	if err := db.Save(want); err != nil {
		t.Fatal(err)
	}

	got, found, err := db.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected a hint after Save")
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	// Save again to exercise the update path.
	want.Channel = 9
	if err := db.Save(want); err != nil {
		t.Fatal(err)
	}
	got, found, err = db.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !found || got != want {
		t.Fatalf("got %+v, found=%v; want %+v", got, found, want)
	}
}
