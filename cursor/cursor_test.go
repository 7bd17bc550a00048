package cursor

import (
	"testing"
	"time"
)

func TestWatermark_Compare(t *testing.T) {
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	if got := AtTime(t1).Compare(AtTime(t2)); got != -1 {
		t.Errorf("earlier.Compare(later) = %d, want -1", got)
	}
	if got := AtTime(t2).Compare(AtTime(t1)); got != 1 {
		t.Errorf("later.Compare(earlier) = %d, want 1", got)
	}
	if got := AtTime(t1).Compare(AtTime(t1)); got != 0 {
		t.Errorf("equal watermarks Compare = %d, want 0", got)
	}
}

func TestWatermark_EpochIsZero(t *testing.T) {
	if !Epoch().IsZero() {
		t.Error("Epoch() should be the zero sentinel")
	}
	if AtTime(time.Now()).IsZero() {
		t.Error("a positioned watermark must not be zero")
	}
	if got := Epoch().String(); got != "epoch" {
		t.Errorf("Epoch().String() = %q, want %q", got, "epoch")
	}
}

func TestWatermark_AdvanceNeverMovesBackwards(t *testing.T) {
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	w := AtTime(t2)
	if got := w.Advance(t1); got.Compare(w) != 0 {
		t.Errorf("Advance with an older time moved the watermark to %v", got)
	}
	if got := w.Advance(t2.Add(time.Second)); got.Compare(w) != 1 {
		t.Error("Advance with a newer time should move the watermark forward")
	}
}

func TestWatermark_WireRoundTrip(t *testing.T) {
	orig := AtTime(time.Date(2025, 6, 15, 8, 30, 0, 123456789, time.UTC))

	data, err := orig.MarshalWire()
	if err != nil {
		t.Fatalf("MarshalWire: %v", err)
	}
	back, err := UnmarshalWire(data)
	if err != nil {
		t.Fatalf("UnmarshalWire: %v", err)
	}
	if back.Compare(orig) != 0 {
		t.Errorf("round trip changed watermark: got %v, want %v", back, orig)
	}
}

func TestWatermark_WireEpochRoundTrip(t *testing.T) {
	data, err := Epoch().MarshalWire()
	if err != nil {
		t.Fatalf("MarshalWire: %v", err)
	}
	back, err := UnmarshalWire(data)
	if err != nil {
		t.Fatalf("UnmarshalWire: %v", err)
	}
	if !back.IsZero() {
		t.Errorf("epoch round trip yielded non-zero watermark %v", back)
	}
}

func TestUnmarshalWire_Errors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"malformed json", []byte(`{not json`)},
		{"unknown kind", []byte(`{"kind":"sequence","at":"7"}`)},
		{"bad timestamp", []byte(`{"kind":"timestamp","at":"yesterday"}`)},
		{"oversized", make([]byte, maxWireSize+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := UnmarshalWire(tc.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestUnmarshalWire_EmptyIsEpoch(t *testing.T) {
	w, err := UnmarshalWire(nil)
	if err != nil {
		t.Fatalf("UnmarshalWire(nil): %v", err)
	}
	if !w.IsZero() {
		t.Error("empty input should decode as the epoch sentinel")
	}
}

func TestParseWatermark_RoundTrip(t *testing.T) {
	orig := AtTime(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	back, err := ParseWatermark(orig.String())
	if err != nil {
		t.Fatalf("ParseWatermark: %v", err)
	}
	if back.Compare(orig) != 0 {
		t.Errorf("ParseWatermark(String()) = %v, want %v", back, orig)
	}

	if w, err := ParseWatermark("epoch"); err != nil || !w.IsZero() {
		t.Errorf("ParseWatermark(epoch) = %v, %v; want zero, nil", w, err)
	}
	if _, err := ParseWatermark("not-a-time"); err == nil {
		t.Error("expected error for malformed watermark string")
	}
}
