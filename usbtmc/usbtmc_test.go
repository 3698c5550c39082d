package usbtmc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fixedTag byte

func (f fixedTag) nextbTag() byte { return byte(f) }

func TestBTagGenSkipsZero(t *testing.T) {
	g := newBTagGen()
	for i := 0; i < 600; i++ {
		if g.nextbTag() == 0 {
			t.Fatal("bTag of 0 is not allowed by USBTMC")
		}
	}
}

func TestEncBulkOutHeader(t *testing.T) {
	hdr := encBulkOutHeader(fixedTag(7), 11)
	expected := [12]byte{0x01, 7, 0xf8, 0, 11, 0, 0, 0, 0x01, 0, 0, 0}
	if diff := cmp.Diff(expected, hdr); diff != "" {
		t.Errorf("bulk out header mismatch (-want +got):\n%s", diff)
	}
}

func TestEncBulkInHeaderTerminator(t *testing.T) {
	term := byte('\n')
	hdr := encBulkInHeader(fixedTag(3), 1488, &term)
	expected := [12]byte{0x02, 3, 0xfc, 0, 0xd0, 0x05, 0, 0, 0x02, '\n', 0, 0}
	if diff := cmp.Diff(expected, hdr); diff != "" {
		t.Errorf("bulk in header mismatch (-want +got):\n%s", diff)
	}
}

func TestDecBulkInPayloadTrimsAlignment(t *testing.T) {
	raw := []byte{0x02, 3, 0xfc, 0, 3, 0, 0, 0, 0x01, 0, 0, 0, '6', '4', '\n', 0}
	data, err := decBulkInPayload(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "64\n" {
		t.Errorf("expected payload 64\\n, got %q", data)
	}
}

func TestDecBulkInPayloadShortHeader(t *testing.T) {
	_, err := decBulkInPayload([]byte{0x02, 1})
	if err == nil {
		t.Error("expected an error for a truncated header")
	}
}
