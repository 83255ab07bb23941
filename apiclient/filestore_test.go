package apiclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestFileStore_LoadMissingFile(t *testing.T) {
	f := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), "https://shop.example.com")

	tok, err := f.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tok != nil {
		t.Errorf("Load() = %+v, want nil", tok)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	f := NewFileStore(path, "https://shop.example.com")

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	in := (&oauth2.Token{
		AccessToken: "stored-access-token",
		TokenType:   "Bearer",
		Expiry:      expiry,
	}).WithExtra(map[string]any{"user": map[string]any{"name": "Ana"}})

	if err := f.Save(in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out, err := f.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if out.AccessToken != in.AccessToken || !out.Expiry.Equal(expiry) {
		t.Errorf("Load() = %+v", out)
	}
	user, _ := out.Extra("user").(map[string]any)
	if user["name"] != "Ana" {
		t.Errorf("user = %#v", out.Extra("user"))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestFileStore_ClearKeepsOtherServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	shop := NewFileStore(path, "https://shop.example.com")
	admin := NewFileStore(path, "https://admin.example.com")

	if err := shop.Save(&oauth2.Token{AccessToken: "shop-token"}); err != nil {
		t.Fatalf("Save(shop) error = %v", err)
	}
	if err := admin.Save(&oauth2.Token{AccessToken: "admin-token"}); err != nil {
		t.Fatalf("Save(admin) error = %v", err)
	}
	if err := shop.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if tok, _ := shop.Load(); tok != nil {
		t.Errorf("shop token after Clear = %+v", tok)
	}
	tok, err := admin.Load()
	if err != nil || tok == nil || tok.AccessToken != "admin-token" {
		t.Errorf("admin token = %+v, %v", tok, err)
	}
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	const goroutines = 10
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := range goroutines {
		go func() {
			defer wg.Done()
			f := NewFileStore(path, fmt.Sprintf("https://server-%d.example.com", i))
			if err := f.Save(&oauth2.Token{AccessToken: fmt.Sprintf("token-%d", i)}); err != nil {
				t.Errorf("goroutine %d: Save() error = %v", i, err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read token file: %v", err)
	}
	var m storedTokenMap
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to parse token file: %v", err)
	}
	if len(m.Tokens) != goroutines {
		t.Errorf("stored sessions = %d, want %d", len(m.Tokens), goroutines)
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Error("lock file left behind")
	}
}

func TestFileStore_CorruptFileIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	f := NewFileStore(path, "https://shop.example.com")

	if _, err := f.Load(); err == nil {
		t.Error("Load() of corrupt file should fail")
	}
	if err := f.Save(&oauth2.Token{AccessToken: "fresh-token"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	tok, err := f.Load()
	if err != nil || tok.AccessToken != "fresh-token" {
		t.Errorf("Load() = %+v, %v", tok, err)
	}
}
