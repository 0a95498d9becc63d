package amp

import (
	"errors"
	"testing"
)

func TestParseZoneID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ZoneID
		wantErr bool
	}{
		{name: "physical zone", input: "11", want: ZoneID{Amp: 1, Zone: 1}},
		{name: "last zone of last amp", input: "36", want: ZoneID{Amp: 3, Zone: 6}},
		{name: "amp zone", input: "20", want: ZoneID{Amp: 2, Zone: 0}},
		{name: "system zone", input: "00", want: SystemZone},
		{name: "amp out of range", input: "41", wantErr: true},
		{name: "zone out of range", input: "17", wantErr: true},
		{name: "zone on amp zero", input: "01", wantErr: true},
		{name: "too short", input: "1", wantErr: true},
		{name: "too long", input: "111", wantErr: true},
		{name: "non-digit", input: "1a", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseZoneID(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidZone) {
					t.Errorf("ParseZoneID(%q) error = %v, want ErrInvalidZone", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseZoneID(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseZoneID(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestZoneIDString(t *testing.T) {
	if got := (ZoneID{Amp: 2, Zone: 5}).String(); got != "25" {
		t.Errorf("String() = %q, want %q", got, "25")
	}
	if got := SystemZone.String(); got != "00" {
		t.Errorf("SystemZone.String() = %q, want %q", got, "00")
	}
}

func TestZoneIDIsVirtual(t *testing.T) {
	if (ZoneID{Amp: 1, Zone: 1}).IsVirtual() {
		t.Error("physical zone reported virtual")
	}
	if !(ZoneID{Amp: 1}).IsVirtual() {
		t.Error("amp zone not reported virtual")
	}
	if !SystemZone.IsVirtual() {
		t.Error("system zone not reported virtual")
	}
}

func TestZoneIDExpand(t *testing.T) {
	amps := []uint8{1, 3}

	t.Run("physical zone expands to itself", func(t *testing.T) {
		got := (ZoneID{Amp: 2, Zone: 4}).Expand(amps)
		if len(got) != 1 || got[0] != (ZoneID{Amp: 2, Zone: 4}) {
			t.Errorf("Expand() = %v, want [24]", got)
		}
	})

	t.Run("amp zone covers the full unit", func(t *testing.T) {
		got := (ZoneID{Amp: 2}).Expand(amps)
		if len(got) != ZonesPerAmp {
			t.Fatalf("Expand() returned %d zones, want %d", len(got), ZonesPerAmp)
		}
		for i, z := range got {
			want := ZoneID{Amp: 2, Zone: uint8(i + 1)}
			if z != want {
				t.Errorf("Expand()[%d] = %v, want %v", i, z, want)
			}
		}
	})

	t.Run("system zone covers configured amps in order", func(t *testing.T) {
		got := SystemZone.Expand([]uint8{3, 1})
		if len(got) != 2*ZonesPerAmp {
			t.Fatalf("Expand() returned %d zones, want %d", len(got), 2*ZonesPerAmp)
		}
		if got[0] != (ZoneID{Amp: 1, Zone: 1}) {
			t.Errorf("Expand()[0] = %v, want 11", got[0])
		}
		if got[ZonesPerAmp] != (ZoneID{Amp: 3, Zone: 1}) {
			t.Errorf("Expand()[%d] = %v, want 31", ZonesPerAmp, got[ZonesPerAmp])
		}
	})
}

func TestParseAttribute(t *testing.T) {
	tests := []struct {
		input   string
		want    Attribute
		wantErr bool
	}{
		{input: "volume", want: AttrVolume},
		{input: "do-not-disturb", want: AttrDoNotDisturb},
		{input: "public-announcement", want: AttrPublicAnnouncement},
		{input: "keypad-connected", want: AttrKeypadConnected},
		{input: "loudness", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseAttribute(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAttribute) {
				t.Errorf("ParseAttribute(%q) error = %v, want ErrInvalidAttribute", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAttribute(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAttribute(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAttributeReadOnly(t *testing.T) {
	if !AttrPublicAnnouncement.ReadOnly() {
		t.Error("public-announcement should be read-only")
	}
	if !AttrKeypadConnected.ReadOnly() {
		t.Error("keypad-connected should be read-only")
	}
	if AttrVolume.ReadOnly() {
		t.Error("volume should be writable")
	}
}

func TestAttributeValidateValue(t *testing.T) {
	tests := []struct {
		attr    Attribute
		value   int
		wantErr bool
	}{
		{attr: AttrVolume, value: 0},
		{attr: AttrVolume, value: 38},
		{attr: AttrVolume, value: 39, wantErr: true},
		{attr: AttrVolume, value: -1, wantErr: true},
		{attr: AttrTreble, value: 14},
		{attr: AttrTreble, value: 15, wantErr: true},
		{attr: AttrBalance, value: 20},
		{attr: AttrBalance, value: 21, wantErr: true},
		{attr: AttrSource, value: 1},
		{attr: AttrSource, value: 6},
		{attr: AttrSource, value: 0, wantErr: true},
		{attr: AttrSource, value: 7, wantErr: true},
		{attr: AttrPower, value: 1},
		{attr: AttrPower, value: 2, wantErr: true},
	}

	for _, tt := range tests {
		err := tt.attr.ValidateValue(tt.value)
		if tt.wantErr && !errors.Is(err, ErrValueOutOfRange) {
			t.Errorf("ValidateValue(%s, %d) error = %v, want ErrValueOutOfRange", tt.attr, tt.value, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("ValidateValue(%s, %d) error = %v", tt.attr, tt.value, err)
		}
	}
}

func TestAttributeString(t *testing.T) {
	if got := AttrDoNotDisturb.String(); got != "do-not-disturb" {
		t.Errorf("String() = %q, want %q", got, "do-not-disturb")
	}
	if got := Attribute(99).String(); got != "attribute(99)" {
		t.Errorf("String() = %q, want %q", got, "attribute(99)")
	}
}
