package guard

import (
	"errors"
	"testing"
)

func TestIsAllowedHost_Rejects(t *testing.T) {
	hosts := []string{
		"10.0.0.5",
		"127.0.0.1",
		"172.20.1.1",
		"192.168.1.1",
		"foo.local",
		"FOO.LOCAL.",
		"localhost",
		"169.254.169.254",
		"0.0.0.0",
		"::1",
		"[::1]",
		"fd00::1",
		"fe80::1",
		"::ffff:10.1.2.3",
		"224.0.0.1",
		"",
		"127.1",
		"2130706433",
		"0x7f.0.0.1",
		"0177.0.0.1",
		"10.1",
		"0xa000001",
		"1.2.3.4.5",
		"1.2.3.256",
		"example.0x7f",
	}
	for _, host := range hosts {
		if IsAllowedHost(host) {
			t.Errorf("expected %q to be rejected", host)
		}
	}
}

func TestIsAllowedHost_Allows(t *testing.T) {
	hosts := []string{
		"example.com",
		"8.8.8.8",
		"172.32.0.1",
		"cdn.example.org",
		"2001:4860:4860::8888",
		"localtest.example",
		"134744072",
		"8.8.2056",
		"cafe.be",
		"123.example.com",
	}
	for _, host := range hosts {
		if !IsAllowedHost(host) {
			t.Errorf("expected %q to be allowed", host)
		}
	}
}

func TestGuard_DialControl(t *testing.T) {
	g := New(true)

	if err := g.DialControl("tcp4", "93.184.216.34:443", nil); err != nil {
		t.Errorf("expected public address to pass, got %v", err)
	}

	blocked := []string{"127.0.0.1:80", "10.1.1.1:443", "[::1]:8080", "not-an-address"}
	for _, addr := range blocked {
		err := g.DialControl("tcp", addr, nil)
		if !errors.Is(err, ErrBlockedAddress) {
			t.Errorf("expected %q to be blocked, got %v", addr, err)
		}
	}
}

func TestGuard_Control(t *testing.T) {
	if New(false).Control() != nil {
		t.Error("expected no dial hook without Resolve")
	}
	hook := New(true).Control()
	if hook == nil {
		t.Fatal("expected dial hook with Resolve")
	}
	if err := hook("tcp", "127.0.0.1:80", nil); !errors.Is(err, ErrBlockedAddress) {
		t.Errorf("expected loopback to be blocked, got %v", err)
	}
}
