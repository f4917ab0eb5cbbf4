package cache

import (
	"testing"
	"time"
)

func TestPlaylists_SetGet(t *testing.T) {
	p, err := New(time.Minute, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	key := Key("https://o.example/index.m3u8", "", "https://proxy.example")
	p.Set(key, Entry{Body: []byte("#EXTM3U\n"), Kind: "media"})
	p.Wait()

	got, ok := p.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got.Body) != "#EXTM3U\n" || got.Kind != "media" {
		t.Errorf("unexpected entry %+v", got)
	}

	if _, ok := p.Get(Key("https://o.example/index.m3u8", "session=1", "https://proxy.example")); ok {
		t.Error("expected a different cookie to miss")
	}
}

func TestPlaylists_Expires(t *testing.T) {
	p, err := New(20*time.Millisecond, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	p.Set("k", Entry{Body: []byte("x")})
	p.Wait()
	time.Sleep(50 * time.Millisecond)

	if _, ok := p.Get("k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestPlaylists_DisabledIsNil(t *testing.T) {
	p, err := New(0, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil cache when ttl is zero")
	}

	p.Set("k", Entry{})
	if _, ok := p.Get("k"); ok {
		t.Error("nil cache must never hit")
	}
	p.Wait()
	p.Close()
}
