// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package builder

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Thermoquad/axisctl/pkg/catalog"
	"github.com/Thermoquad/axisctl/pkg/confstore"
	"github.com/Thermoquad/axisctl/pkg/match"
	"github.com/Thermoquad/axisctl/pkg/oplog"
	"github.com/Thermoquad/axisctl/pkg/vlink"
	"github.com/Thermoquad/axisctl/pkg/vlink/vlinktest"
)

func newSimBoard(t *testing.T) (*vlink.Board, *vlinktest.Simulator) {
	t.Helper()
	sim := vlinktest.NewDemo()
	conn, stop := sim.Pipe()
	t.Cleanup(stop)
	return vlink.NewBoard(vlink.NewChannel(conn)), sim
}

func testRules() []match.Rule {
	return []match.Rule{
		{Register: "vel_targ_2", Field: "Axis2", Key: "velocity"},
		{Register: "polnr_2", Field: "Axis2", Key: "poles"},
		{Register: "kp_cur_2", Field: "Axis2", Key: "kp"},
		{Register: "enc_2", Field: "Axis2", Key: "encoder"},
		{
			Register: "state_2", Field: "Axis2", Key: "state",
			BitFields: []match.BitRule{
				{Name: "run", Field: "Axis2", Key: "run", StartBit: 0, Size: 1},
				{Name: "mode", Field: "Axis2", Key: "mode", StartBit: 1, Size: 3},
				{Name: "brake", Field: "Axis2", Key: "brake", StartBit: 4, Size: 1},
			},
		},
		{
			Register: "sysid_control", Field: "SysID", Key: "control",
			BitFields: []match.BitRule{
				{Name: "startBit", Field: "SysID", Key: "start", StartBit: 0, Size: 1},
				{Name: "resetBit", Field: "SysID", Key: "reset", StartBit: 1, Size: 1},
			},
		},
	}
}

func testStore() confstore.Map {
	m := confstore.Map{}
	m.Set("Axis2", "velocity", "0.00554")
	m.Set("Axis2", "poles", "4")
	m.Set("Axis2", "kp", "not-a-number")
	m.Set("Axis2", "run", "True")
	m.Set("Axis2", "mode", "5")
	m.Set("SysID", "start", "False")
	m.Set("SysID", "reset", "True")
	return m
}

func mustRules(t *testing.T, rules []match.Rule) *match.Rules {
	t.Helper()
	rs, err := match.New(rules)
	if err != nil {
		t.Fatal(err)
	}
	return rs
}

// ============================================================
// Coercion Tests
// ============================================================

func TestCoerce(t *testing.T) {
	tests := []struct {
		in    string
		value float64
		set   bool
	}{
		{"True", 1, true},
		{"False", 0, true},
		{"42", 42, true},
		{"-7", -7, true},
		{"0.00554", 0.00554, true},
		{"1e3", 1000, true},
		{"true", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"12abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, ok := Coerce(tt.in).Get()
			if ok != tt.set {
				t.Fatalf("set=%v, want %v", ok, tt.set)
			}
			if ok && v != tt.value {
				t.Errorf("value %v, want %v", v, tt.value)
			}
		})
	}
}

// ============================================================
// Build Tests
// ============================================================

func TestBuild_Resolves(t *testing.T) {
	board, _ := newSimBoard(t)
	var rec oplog.MemoryRecorder
	b := &Builder{Board: board, Rules: mustRules(t, testRules()), Store: testStore(), Recorder: &rec}

	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cat := res.Catalog
	if cat.Len() != len(vlinktest.DemoRegisters) {
		t.Fatalf("expected %d registers, got %d", len(vlinktest.DemoRegisters), cat.Len())
	}

	vel, _ := cat.Lookup("vel_targ_2")
	if v, ok := vel.Value.Get(); !ok || v != 0.00554 {
		t.Errorf("vel_targ_2 value %v %v", v, ok)
	}
	if vel.Field != "Axis2" || vel.Key != "velocity" {
		t.Errorf("vel_targ_2 rule not applied: %+v", vel)
	}

	kp, _ := cat.Lookup("kp_cur_2")
	if kp.Value.IsSet() {
		t.Error("unparseable value should stay unset")
	}

	state, _ := cat.Lookup("state_2")
	if state.Value.IsSet() {
		t.Error("bitfield register must not carry a scalar value")
	}
	if len(state.BitFields) != 3 {
		t.Fatalf("expected 3 bitfields, got %d", len(state.BitFields))
	}
	run, _ := state.BitField("run")
	if v, ok := run.Value.Get(); !ok || v != 1 {
		t.Errorf("state_2.run = %v %v", v, ok)
	}
	brake, _ := state.BitField("brake")
	if brake.Value.IsSet() {
		t.Error("state_2.brake has no store entry and should be unset")
	}

	pos, _ := cat.Lookup("pos_2")
	if pos.DefaultRaw() != 0x4000_0000 {
		t.Errorf("pos_2 default 0x%08X", pos.DefaultRaw())
	}
	if len(res.Descriptors) != cat.Len() {
		t.Errorf("expected %d descriptors, got %d", cat.Len(), len(res.Descriptors))
	}

	if len(rec.Kind(oplog.KindBuild)) != 1 {
		t.Error("expected one build record")
	}
	if len(rec.Kind(oplog.KindMiss)) != len(res.Misses) {
		t.Error("every miss should be recorded")
	}
}

func TestBuild_Misses(t *testing.T) {
	board, _ := newSimBoard(t)
	b := &Builder{Board: board, Rules: mustRules(t, testRules()), Store: testStore()}

	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	misses := make(map[string]Miss)
	for _, m := range res.Misses {
		key := m.Register
		if m.BitField != "" {
			key += "." + m.BitField
		}
		misses[key] = m
	}

	if m, ok := misses["enc_2"]; !ok || m.Key != "encoder" {
		t.Errorf("enc_2 should miss its store key, got %+v", m)
	}
	if m, ok := misses["pos_2"]; !ok || m.Field != "" {
		t.Errorf("pos_2 should miss its rule, got %+v", m)
	}
	if _, ok := misses["state_2.brake"]; !ok {
		t.Error("state_2.brake should be recorded as a miss")
	}
	if _, ok := misses["vel_targ_2"]; ok {
		t.Error("vel_targ_2 resolved and must not be a miss")
	}
}

func TestBuild_OverlapWarning(t *testing.T) {
	board, _ := newSimBoard(t)
	rules := []match.Rule{{
		Register: "state_2",
		BitFields: []match.BitRule{
			{Name: "a", StartBit: 0, Size: 4},
			{Name: "b", StartBit: 2, Size: 2},
		},
	}}
	var rec oplog.MemoryRecorder
	b := &Builder{Board: board, Rules: mustRules(t, rules), Recorder: &rec}

	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("overlap must not fail the build: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", res.Warnings)
	}
	if len(rec.Kind(oplog.KindWarning)) != 1 {
		t.Error("warning should be recorded")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	seed := time.Now().UnixNano()
	t.Logf("Seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	build := func(rules []match.Rule, store confstore.Map) []catalog.Register {
		board, _ := newSimBoard(t)
		b := &Builder{Board: board, Rules: mustRules(t, rules), Store: store}
		res, err := b.Build(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return res.Catalog.Registers()
	}

	reference := build(testRules(), testStore())

	for round := 0; round < 5; round++ {
		rules := testRules()
		rng.Shuffle(len(rules), func(i, j int) { rules[i], rules[j] = rules[j], rules[i] })

		// rebuild the store with a shuffled insertion order
		type entry struct{ field, key, value string }
		var entries []entry
		for field, keys := range testStore() {
			for key, value := range keys {
				entries = append(entries, entry{field, key, value})
			}
		}
		rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
		store := confstore.Map{}
		for _, e := range entries {
			store.Set(e.field, e.key, e.value)
		}

		if got := build(rules, store); !reflect.DeepEqual(got, reference) {
			t.Fatalf("round %d: catalog differs from reference", round)
		}
	}
}

func TestBuild_BoardError(t *testing.T) {
	board, sim := newSimBoard(t)
	sim.Inject(vlinktest.FaultNone, vlinktest.FaultClose)

	b := &Builder{Board: board, Rules: mustRules(t, nil)}
	_, err := b.Build(context.Background())
	if !errors.Is(err, vlink.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

// ============================================================
// Workspace Tests
// ============================================================

func newWorkspace(t *testing.T) Workspace {
	t.Helper()
	root := t.TempDir()
	ws := Workspace{
		AxisDir:     filepath.Join(root, "axle_2"),
		SharedDir:   filepath.Join(root, "shared"),
		StoreFile:   "Cl-Servos.ini",
		MatchFile:   "match.json",
		CatalogFile: "vlItem.json",
		BoardFile:   "boardItems.cbor",
		Locks:       NewDirLocks(),
	}
	if err := os.MkdirAll(ws.SharedDir, 0o755); err != nil {
		t.Fatal(err)
	}
	ini := "[Axis2]\nvelocity = 0.00554\n"
	if err := os.WriteFile(ws.StorePath(), []byte(ini), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(ws.AxisDir, 0o755); err != nil {
		t.Fatal(err)
	}
	rules := `{"Matches": [{"VLItemName": "vel_targ_2", "CI-Field": "Axis2", "CI-Key": "velocity"}]}`
	if err := os.WriteFile(ws.MatchPath(), []byte(rules), 0o644); err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestLoadOrBuild_ReusesCatalog(t *testing.T) {
	board, sim := newSimBoard(t)
	ws := newWorkspace(t)
	ctx := context.Background()

	first, err := LoadOrBuild(ctx, board, ws, nil, false)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	if first.Reused {
		t.Fatal("first call must build")
	}
	vel, _ := first.Catalog.Lookup("vel_targ_2")
	if v, _ := vel.Value.Get(); v != 0.00554 {
		t.Errorf("vel_targ_2 = %v", v)
	}

	ds, err := LoadDescriptors(ws.BoardPath())
	if err != nil {
		t.Fatalf("descriptor snapshot: %v", err)
	}
	if !reflect.DeepEqual(ds, first.Descriptors) {
		t.Error("descriptor snapshot differs from the build")
	}

	sim.ResetRequests()
	second, err := LoadOrBuild(ctx, board, ws, nil, false)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.Reused {
		t.Error("second call should reuse the persisted catalog")
	}
	if n := len(sim.Requests()); n != 1 {
		t.Errorf("reuse should only ask for the item count, saw %d requests", n)
	}
	if !reflect.DeepEqual(second.Catalog.Registers(), first.Catalog.Registers()) {
		t.Error("reloaded catalog differs")
	}

	third, err := LoadOrBuild(ctx, board, ws, nil, true)
	if err != nil {
		t.Fatalf("forced build: %v", err)
	}
	if third.Reused {
		t.Error("force must rebuild")
	}
}

func TestLoadOrBuild_CountChanged(t *testing.T) {
	board, sim := newSimBoard(t)
	ws := newWorkspace(t)
	ctx := context.Background()

	if _, err := LoadOrBuild(ctx, board, ws, nil, false); err != nil {
		t.Fatal(err)
	}
	sim.AddRegister("extra", vlink.TypeUint16, vlink.Address{0x30, 0, 0}, 0)

	res, err := LoadOrBuild(ctx, board, ws, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reused {
		t.Error("a different item count must trigger a rebuild")
	}
	if _, ok := res.Catalog.Lookup("extra"); !ok {
		t.Error("rebuilt catalog should include the new register")
	}
}

func TestLoadOrBuild_InputsChanged(t *testing.T) {
	tests := []struct {
		name   string
		update func(t *testing.T, ws Workspace)
		want   float64
	}{
		{"store edited", func(t *testing.T, ws Workspace) {
			if err := os.WriteFile(ws.StorePath(), []byte("[Axis2]\nvelocity = 0.01\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		}, 0.01},
		{"rules edited", func(t *testing.T, ws Workspace) {
			rules := `{"Matches": [{"VLItemName": "vel_targ_2", "CI-Field": "Axis2", "CI-Key": "limit"}]}`
			if err := os.WriteFile(ws.MatchPath(), []byte(rules), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(ws.StorePath(), []byte("[Axis2]\nvelocity = 0.00554\nlimit = 0.02\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		}, 0.02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board, _ := newSimBoard(t)
			ws := newWorkspace(t)
			ctx := context.Background()

			if _, err := LoadOrBuild(ctx, board, ws, nil, false); err != nil {
				t.Fatal(err)
			}
			tt.update(t, ws)

			res, err := LoadOrBuild(ctx, board, ws, nil, false)
			if err != nil {
				t.Fatal(err)
			}
			if res.Reused {
				t.Fatal("changed inputs must trigger a rebuild")
			}
			vel, _ := res.Catalog.Lookup("vel_targ_2")
			if v, _ := vel.Value.Get(); v != tt.want {
				t.Errorf("vel_targ_2 = %v, want %v", v, tt.want)
			}

			again, err := LoadOrBuild(ctx, board, ws, nil, false)
			if err != nil {
				t.Fatal(err)
			}
			if !again.Reused {
				t.Error("unchanged inputs should reuse the rebuilt catalog")
			}
		})
	}
}

func TestLoadOrBuild_MissingInputs(t *testing.T) {
	board, _ := newSimBoard(t)
	root := t.TempDir()
	ws := Workspace{
		AxisDir:     filepath.Join(root, "axle_1"),
		SharedDir:   filepath.Join(root, "shared"),
		StoreFile:   "Cl-Servos.ini",
		MatchFile:   "match.json",
		CatalogFile: "vlItem.json",
		BoardFile:   "boardItems.cbor",
	}

	res, err := LoadOrBuild(context.Background(), board, ws, nil, false)
	if err != nil {
		t.Fatalf("missing rules and store should not fail: %v", err)
	}
	if len(res.Misses) != res.Catalog.Len() {
		t.Errorf("every register should miss its rule: %d misses for %d registers", len(res.Misses), res.Catalog.Len())
	}
}

// ============================================================
// DirLock Tests
// ============================================================

func TestDirLocks_Serialise(t *testing.T) {
	locks := NewDirLocks()
	dir := t.TempDir()

	unlock, err := locks.Lock(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, dir+string(filepath.Separator)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second lock on the same dir should wait, got %v", err)
	}

	other, err := locks.Lock(context.Background(), filepath.Join(dir, "other"))
	if err != nil {
		t.Errorf("a different dir should not block: %v", err)
	} else {
		other()
	}

	unlock()
	unlock() // releasing twice is harmless
	again, err := locks.Lock(context.Background(), dir)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestDirLocks_Concurrent(t *testing.T) {
	locks := NewDirLocks()
	dir := t.TempDir()
	counter := 0
	done := make(chan struct{})

	const workers = 8
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			unlock, err := locks.Lock(context.Background(), dir)
			if err != nil {
				t.Error(err)
				return
			}
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			unlock()
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	if counter != workers {
		t.Errorf("expected %d, got %d (lost update)", workers, counter)
	}
}

func TestMiss_String(t *testing.T) {
	m := Miss{Register: "state_2", BitField: "run", Field: "Axis2", Key: "run"}
	if got := m.String(); got != "state_2.run: no value for [Axis2] run" {
		t.Errorf("unexpected %q", got)
	}
	if got := (Miss{Register: "pos_2"}).String(); got != "pos_2: no match rule" {
		t.Errorf("unexpected %q", got)
	}
}
