package contractstate

import "testing"

func TestComputeDelta_AppliesBackToOriginal(t *testing.T) {
	before := map[string][]byte{"a": []byte("1"), "b": []byte("2")}
	after := map[string][]byte{"a": []byte("1"), "b": []byte("9"), "c": []byte("3")}

	delta := computeDelta(before, after)

	got := map[string][]byte{}
	for k, v := range after {
		got[k] = append([]byte(nil), v...)
	}
	delta.apply(got)

	if len(got) != len(before) {
		t.Fatalf("after apply len = %d, want %d", len(got), len(before))
	}
	for k, v := range before {
		if string(got[k]) != string(v) {
			t.Errorf("got[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestComputeDelta_KeyDeletedInAfterIsRestored(t *testing.T) {
	before := map[string][]byte{"a": []byte("1")}
	after := map[string][]byte{}

	delta := computeDelta(before, after)
	got := map[string][]byte{}
	delta.apply(got)

	if string(got["a"]) != "1" {
		t.Errorf("got[a] = %q, want %q", got["a"], "1")
	}
}

func TestComputeDelta_NewKeyRollsBackToAbsent(t *testing.T) {
	before := map[string][]byte{}
	after := map[string][]byte{"a": []byte("1")}

	delta := computeDelta(before, after)
	got := map[string][]byte{"a": []byte("1")}
	delta.apply(got)

	if _, ok := got["a"]; ok {
		t.Errorf("key 'a' should have been deleted, got %v", got["a"])
	}
}

func TestDelta_EncodeDecodeRoundTrip(t *testing.T) {
	before := map[string][]byte{"a": []byte("1"), "removed": []byte("x")}
	after := map[string][]byte{"a": []byte("2"), "new": []byte("y")}
	delta := computeDelta(before, after)

	got, err := decodeDelta(encodeDelta(delta))
	if err != nil {
		t.Fatalf("decodeDelta() error: %v", err)
	}
	if len(got.Entries) != len(delta.Entries) {
		t.Fatalf("Entries len = %d, want %d", len(got.Entries), len(delta.Entries))
	}
	for k, v := range delta.Entries {
		gv, ok := got.Entries[k]
		if !ok {
			t.Fatalf("missing entry %q after round trip", k)
		}
		if gv.present != v.present || string(gv.value) != string(v.value) {
			t.Errorf("Entries[%q] = %+v, want %+v", k, gv, v)
		}
	}
}

func TestMergeDeltas_NewerWinsOnConflict(t *testing.T) {
	older := Delta{Entries: map[string]deltaValue{"k": {present: true, value: []byte("old")}}}
	newer := Delta{Entries: map[string]deltaValue{"k": {present: true, value: []byte("new")}, "only-newer": Deleted}}

	merged := mergeDeltas(older, newer)
	if string(merged.Entries["k"].value) != "new" {
		t.Errorf("merged[k] = %q, want %q", merged.Entries["k"].value, "new")
	}
	if _, ok := merged.Entries["only-newer"]; !ok {
		t.Error("merged should contain newer-only keys")
	}
}

func TestMergeDeltas_OlderFillsGaps(t *testing.T) {
	older := Delta{Entries: map[string]deltaValue{"only-older": {present: true, value: []byte("v")}}}
	newer := Delta{Entries: map[string]deltaValue{}}

	merged := mergeDeltas(older, newer)
	if string(merged.Entries["only-older"].value) != "v" {
		t.Errorf("merged should retain older-only keys")
	}
}
