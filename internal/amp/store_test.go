package amp

import "testing"

func TestApplyStatus_FirstPollSeedsEverything(t *testing.T) {
	store := NewStore()
	st := ZoneStatus{ID: ZoneID{Amp: 1, Zone: 1}, Values: testValues()}

	changes := store.ApplyStatus(st)
	if len(changes) != NumAttributes {
		t.Fatalf("first poll emitted %d changes, want %d", len(changes), NumAttributes)
	}
	for _, c := range changes {
		if c.Zone != st.ID {
			t.Errorf("change zone = %v, want %v", c.Zone, st.ID)
		}
		if c.Origin != OriginInternal {
			t.Errorf("change origin = %q, want internal", c.Origin)
		}
		if c.Corrective {
			t.Error("first poll change marked corrective")
		}
		if c.Value != st.Values[c.Attr] {
			t.Errorf("%s = %d, want %d", c.Attr, c.Value, st.Values[c.Attr])
		}
	}
}

func TestApplyStatus_SuppressesUnchanged(t *testing.T) {
	store := NewStore()
	st := ZoneStatus{ID: ZoneID{Amp: 1, Zone: 1}, Values: testValues()}

	store.ApplyStatus(st)
	if changes := store.ApplyStatus(st); len(changes) != 0 {
		t.Errorf("unchanged poll emitted %d changes, want 0", len(changes))
	}

	st.Values[AttrVolume] = 30
	changes := store.ApplyStatus(st)
	if len(changes) != 1 {
		t.Fatalf("single-attribute change emitted %d changes, want 1", len(changes))
	}
	if changes[0].Attr != AttrVolume || changes[0].Value != 30 {
		t.Errorf("change = %s=%d, want volume=30", changes[0].Attr, changes[0].Value)
	}
}

func TestApplyWrite_EagerEvent(t *testing.T) {
	store := NewStore()
	zone := ZoneID{Amp: 1, Zone: 1}
	store.ApplyStatus(ZoneStatus{ID: zone, Values: testValues()})

	change, ok := store.ApplyWrite(zone, AttrVolume, 30, OriginMQTT)
	if !ok {
		t.Fatal("write to a new value emitted no change")
	}
	if change.Value != 30 || change.Origin != OriginMQTT || change.Corrective {
		t.Errorf("change = %+v, want volume=30 origin=mqtt", change)
	}

	// Re-writing the already published value stays silent.
	if _, ok := store.ApplyWrite(zone, AttrVolume, 30, OriginMQTT); ok {
		t.Error("write matching the published value emitted a change")
	}
}

func TestApplyStatus_ConfirmsProvisionalSilently(t *testing.T) {
	store := NewStore()
	zone := ZoneID{Amp: 1, Zone: 1}
	values := testValues()
	store.ApplyStatus(ZoneStatus{ID: zone, Values: values})

	store.ApplyWrite(zone, AttrVolume, 30, OriginMQTT)

	values[AttrVolume] = 30
	if changes := store.ApplyStatus(ZoneStatus{ID: zone, Values: values}); len(changes) != 0 {
		t.Errorf("confirming poll emitted %d changes, want 0", len(changes))
	}

	if v, _ := store.Value(zone, AttrVolume); v != 30 {
		t.Errorf("Value() = %d, want 30", v)
	}
}

func TestApplyStatus_PollOverrulesProvisional(t *testing.T) {
	store := NewStore()
	zone := ZoneID{Amp: 1, Zone: 1}
	values := testValues()
	store.ApplyStatus(ZoneStatus{ID: zone, Values: values})

	// Optimistically published 30, but the amp reports 22: a keypad
	// turned the knob between write and poll. The poll wins.
	store.ApplyWrite(zone, AttrVolume, 30, OriginMQTT)

	changes := store.ApplyStatus(ZoneStatus{ID: zone, Values: values})
	if len(changes) != 1 {
		t.Fatalf("overruling poll emitted %d changes, want 1", len(changes))
	}
	c := changes[0]
	if c.Attr != AttrVolume || c.Value != values[AttrVolume] {
		t.Errorf("change = %s=%d, want volume=%d", c.Attr, c.Value, values[AttrVolume])
	}
	if !c.Corrective {
		t.Error("overruling change not marked corrective")
	}
	if c.Origin != OriginInternal {
		t.Errorf("origin = %q, want internal", c.Origin)
	}

	if v, _ := store.Value(zone, AttrVolume); v != values[AttrVolume] {
		t.Errorf("Value() = %d, want %d", v, values[AttrVolume])
	}
}

func TestValue_UnknownZone(t *testing.T) {
	store := NewStore()
	if _, ok := store.Value(ZoneID{Amp: 1, Zone: 1}, AttrVolume); ok {
		t.Error("Value() for never-polled zone reported ok")
	}
}

func TestSnapshot(t *testing.T) {
	store := NewStore()
	z1 := ZoneID{Amp: 1, Zone: 1}
	z2 := ZoneID{Amp: 1, Zone: 2}

	v1 := testValues()
	v2 := testValues()
	v2[AttrVolume] = 5

	store.ApplyStatus(ZoneStatus{ID: z1, Values: v1})
	store.ApplyStatus(ZoneStatus{ID: z2, Values: v2})

	snap := store.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() has %d zones, want 2", len(snap))
	}
	if snap[z1] != v1 {
		t.Errorf("Snapshot()[11] = %v, want %v", snap[z1], v1)
	}
	if snap[z2].Get(AttrVolume) != 5 {
		t.Errorf("Snapshot()[12] volume = %d, want 5", snap[z2].Get(AttrVolume))
	}
}
