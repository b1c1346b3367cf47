package octets

import "testing"

func TestUint16RoundTrip(t *testing.T) {
	b := New(4)
	if err := b.PutUint16(0, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	got, err := b.GetUint16(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xBEEF {
		t.Fatalf("got %x want %x", got, 0xBEEF)
	}
	if b.Bytes()[0] != 0xEF || b.Bytes()[1] != 0xBE {
		t.Fatalf("not little-endian: %x", b.Bytes())
	}
}

func TestBoundsChecked(t *testing.T) {
	b := New(2)
	if _, err := b.GetUint16(1); err == nil {
		t.Fatal("expected out of range error")
	}
	if err := b.PutUint8(5, 1); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestResizeWithinCapacity(t *testing.T) {
	b := New(8)
	if err := b.Resize(4); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 4 {
		t.Fatalf("len = %d", b.Len())
	}
	if err := b.Resize(9); err == nil {
		t.Fatal("expected resize beyond capacity to fail")
	}
}

func TestViewIsZeroCopy(t *testing.T) {
	b := Wrap([]byte{1, 2, 3, 4})
	v, err := b.View(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 2 || v[0] != 2 || v[1] != 3 {
		t.Fatalf("unexpected view %v", v)
	}
	if err := b.PutUint8(1, 9); err != nil {
		t.Fatal(err)
	}
	if v[0] != 9 {
		t.Fatal("view did not alias buffer storage")
	}
}
