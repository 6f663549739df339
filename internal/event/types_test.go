package event

import "testing"

func TestHashHexRoundTrip(t *testing.T) {
	var h Hash
	h[0] = 0xde
	h[31] = 0xef

	got, err := HashFromHex(h.String())
	if err != nil {
		t.Fatalf("HashFromHex: %v", err)
	}
	if got != h {
		t.Errorf("HashFromHex(h.String()) = %v, want %v", got, h)
	}
}

func TestHashFromHexRejectsWrongLength(t *testing.T) {
	if _, err := HashFromHex("deadbeef"); err == nil {
		t.Fatal("HashFromHex accepted a short hex string")
	}
}

func TestZeroHashIsZero(t *testing.T) {
	if !ZeroHash.IsZero() {
		t.Error("ZeroHash.IsZero() = false")
	}
	var h Hash
	h[5] = 1
	if h.IsZero() {
		t.Error("non-zero Hash.IsZero() = true")
	}
}

func TestNewPrimaryKeyIsNeverZero(t *testing.T) {
	for i := 0; i < 1000; i++ {
		if k := NewPrimaryKey(); k.IsZero() {
			t.Fatal("NewPrimaryKey() returned the zero key")
		}
	}
}

func TestNewPrimaryKeyIsNotConstant(t *testing.T) {
	a := NewPrimaryKey()
	b := NewPrimaryKey()
	if a == b {
		t.Fatal("two consecutive NewPrimaryKey() calls returned the same value")
	}
}

func TestFormatKindString(t *testing.T) {
	cases := []struct {
		kind FormatKind
		want string
	}{
		{FormatGob, "gob"},
		{FormatJSON, "json"},
		{FormatKind(99), "FormatKind(99)"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("FormatKind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestCollectionRefString(t *testing.T) {
	ref := CollectionRef{ParentID: PrimaryKey(1), CollectionID: 2}
	want := PrimaryKey(1).String() + "/2"
	if got := ref.String(); got != want {
		t.Errorf("CollectionRef.String() = %q, want %q", got, want)
	}
}
