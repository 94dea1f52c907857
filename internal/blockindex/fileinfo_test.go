package blockindex

import "testing"

func TestFileInfo_EncodeDecodeRoundTrip(t *testing.T) {
	fi := &BlockFileInfo{
		BlockCount:  10,
		Size:        1 << 20,
		HeightFirst: 100,
		HeightLast:  109,
		TimeFirst:   1000,
		TimeLast:    2000,
	}
	got, err := decodeFileInfo(encodeFileInfo(fi))
	if err != nil {
		t.Fatalf("decodeFileInfo() error: %v", err)
	}
	if *got != *fi {
		t.Errorf("decodeFileInfo() = %+v, want %+v", got, fi)
	}
}

func TestFileInfoKey_LittleEndianFileNumber(t *testing.T) {
	key := fileInfoKey(0x01020304)
	if key[0] != fileInfoPrefix {
		t.Fatalf("key prefix = %q, want %q", key[0], fileInfoPrefix)
	}
	want := []byte{0x04, 0x03, 0x02, 0x01}
	for i, b := range want {
		if key[1+i] != b {
			t.Errorf("key[%d] = %#x, want %#x", 1+i, key[1+i], b)
		}
	}
}
