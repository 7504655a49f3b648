package smtp

import "testing"

func TestBuffer(t *testing.T) {
	b := newBuffer(8)
	if b.len() != 8 || len(b.raw()) != 8 {
		t.Fatalf("len %d, raw %d", b.len(), len(b.raw()))
	}

	copy(b.bytes(), "abcdefgh")
	b.shrinkHead(2)
	b.shrinkTail(1)
	if have := string(b.bytes()); have != "cdefg" {
		t.Errorf("have %q", have)
	}

	b.extendHead(1)
	b.extendTail(1)
	if have := string(b.bytes()); have != "bcdefgh" {
		t.Errorf("have %q", have)
	}

	// Writes through the window end up in the backing array.
	b.bytes()[0] = 'B'
	if have := string(b.raw()); have != "aBcdefgh" {
		t.Errorf("have %q", have)
	}

	b.shrinkHead(7)
	if b.len() != 0 {
		t.Errorf("len %d", b.len())
	}
	b.reset()
	if have := string(b.bytes()); have != "aBcdefgh" {
		t.Errorf("have %q", have)
	}
}

func TestBufferOutOfBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("no panic")
		}
	}()

	b := newBuffer(4)
	b.extendTail(1)
	_ = b.bytes()
}
