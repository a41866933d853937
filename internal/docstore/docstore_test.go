package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"docqa/internal/domain"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	doc := domain.Document{ID: "a.txt", Name: "a.txt", Text: "hello world"}
	if err := s.Put(ctx, doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(ctx, "a.txt")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != doc.ID || got.Name != doc.Name || got.Text != doc.Text || got.CreatedAt.IsZero() {
		t.Errorf("unexpected document: %+v", got)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_Duplicate(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	doc := domain.Document{ID: "a.txt", Name: "a.txt", Text: "x"}
	if err := s.Put(ctx, doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, doc); !errors.Is(err, domain.ErrDocumentExists) {
		t.Fatalf("expected ErrDocumentExists, got %v", err)
	}
}

func TestDocuments_InsertionOrder(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"c", "a", "b"} {
		if err := s.Put(ctx, domain.Document{ID: id, Name: id, Text: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	docs, err := s.Documents(ctx)
	if err != nil {
		t.Fatalf("Documents failed: %v", err)
	}
	if len(docs) != 3 || docs[0].ID != "c" || docs[1].ID != "a" || docs[2].ID != "b" {
		t.Errorf("unexpected order: %+v", docs)
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Errorf("Count() = %d", n)
	}
}

func TestRemoveAndHas(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	_ = s.Put(ctx, domain.Document{ID: "a", Name: "a", Text: "x"})
	if ok, _ := s.Has(ctx, "a"); !ok {
		t.Fatal("Has() = false after Put")
	}
	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ok, _ := s.Has(ctx, "a"); ok {
		t.Fatal("Has() = true after Remove")
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = s.Put(context.Background(), domain.Document{ID: "a", Name: "a", Text: "persisted"})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	doc, err := s.Get(context.Background(), "a")
	if err != nil || doc.Text != "persisted" {
		t.Fatalf("got %+v, %v", doc, err)
	}
}
