package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chatrelay/internal/domain"
)

func TestUserDirectoryCreateAndGet(t *testing.T) {
	d := NewUserDirectory()
	u, err := d.Create("Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" || u.DisplayName != "Alice" {
		t.Fatalf("unexpected user: %+v", u)
	}

	got, err := d.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DisplayName != "Alice" {
		t.Fatalf("expected Alice, got %q", got.DisplayName)
	}
}

func TestUserDirectoryCreateValidation(t *testing.T) {
	d := NewUserDirectory()

	if _, err := d.Create(""); !errors.Is(err, domain.ErrDisplayNameEmpty) {
		t.Fatalf("expected ErrDisplayNameEmpty, got %v", err)
	}
	long := strings.Repeat("x", domain.MaxDisplayNameLen+1)
	if _, err := d.Create(long); !errors.Is(err, domain.ErrDisplayNameTooLong) {
		t.Fatalf("expected ErrDisplayNameTooLong, got %v", err)
	}
}

func TestUserDirectoryRename(t *testing.T) {
	d := NewUserDirectory()
	u, err := d.Create("Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.Rename(u.ID, "Alicia"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := d.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DisplayName != "Alicia" {
		t.Fatalf("expected Alicia, got %q", got.DisplayName)
	}

	if err := d.Rename(u.ID, ""); !errors.Is(err, domain.ErrDisplayNameEmpty) {
		t.Fatalf("expected ErrDisplayNameEmpty, got %v", err)
	}
	if err := d.Rename("missing", "Bob"); !errors.Is(err, domain.ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestUserDirectoryGetUnknown(t *testing.T) {
	d := NewUserDirectory()
	if _, err := d.GetUser(context.Background(), "nobody"); !errors.Is(err, domain.ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}
