package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/store"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "submerge.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return s, path
}

func TestStore_GetPut(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("ok=%v err=%v, want ok=false err=nil", ok, err)
	}
	if err := s.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if string(got) != "v2" {
		t.Fatalf("value=%q, want=%q", got, "v2")
	}

	if err := s.Put(ctx, "empty", nil); err != nil {
		t.Fatal(err)
	}
	got, ok, err = s.Get(ctx, "empty")
	if err != nil || !ok || len(got) != 0 {
		t.Fatalf("value=%q ok=%v err=%v, want empty present value", got, ok, err)
	}

	if err := s.Put(ctx, "", []byte("x")); err != store.ErrEmptyKey {
		t.Fatalf("err=%v, want=%v", err, store.ErrEmptyKey)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()

	records := store.NewRecords(s)
	if err := records.PutSettings(ctx, model.Settings{Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	settings, err := store.NewRecords(s2).Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings.Token != "tok" {
		t.Fatalf("token=%q, want=%q", settings.Token, "tok")
	}
}
