package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

func TestSaveCreatesNestedKeysAndOpenReadsBack(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, "ab/entry-1_contract.pdf", strings.NewReader("payload")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rc, err := store.Open(ctx, "ab/entry-1_contract.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	if string(raw) != "payload" {
		t.Fatalf("unexpected content %q", raw)
	}
}

func TestOpenMissingKeyIsNotFound(t *testing.T) {
	store, _ := New(t.TempDir())
	if _, err := store.Open(context.Background(), "zz/missing"); !domain.IsKind(err, domain.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestKeysCannotEscapeRoot(t *testing.T) {
	store, _ := New(t.TempDir())
	for _, key := range []string{"../outside", "/etc/passwd", ""} {
		if err := store.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", key, err)
		}
	}
}
