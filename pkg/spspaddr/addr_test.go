package spspaddr

import "testing"

func TestZeroAndBroadcast(t *testing.T) {
	var z Addr
	if !z.IsZero() {
		t.Fatal("zero value should be IsZero")
	}
	if z.IsBroadcast() {
		t.Fatal("zero value should not be broadcast")
	}
	if !Broadcast.IsBroadcast() {
		t.Fatal("Broadcast should be IsBroadcast")
	}
}

func TestStringRoundTrip(t *testing.T) {
	a := Addr{0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	if got, want := a.String(), "02:03:04:05:06:07"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	b, err := Parse(a.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b != a {
		t.Fatalf("Parse round-trip = %v, want %v", b, a)
	}
}

func TestHex(t *testing.T) {
	a := Addr{0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	if got, want := a.Hex(), "020304050607"; got != want {
		t.Fatalf("Hex() = %q, want %q", got, want)
	}
}

func TestAddrIsMapKey(t *testing.T) {
	m := map[Addr]int{}
	m[Addr{1}] = 1
	m[Addr{2}] = 2
	if len(m) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m))
	}
}
