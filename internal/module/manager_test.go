package module

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nerrad567/bmac-node/internal/arbiter"
	"github.com/nerrad567/bmac-node/internal/store"
)

// ============================================================================
// Test helpers
// ============================================================================

type memStore struct {
	blobs  map[string][]byte
	writes int
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) Read(name string) ([]byte, error) {
	b, ok := s.blobs[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *memStore) Write(name string, data []byte) error {
	s.blobs[name] = append([]byte(nil), data...)
	s.writes++
	return nil
}

type fakeFeature struct {
	startErr error
	starts   int
	stops    int
}

func (f *fakeFeature) Start() error {
	f.starts++
	return f.startErr
}

func (f *fakeFeature) Stop() error {
	f.stops++
	return nil
}

func newTestManager() (*Manager, *arbiter.Arbiter, *memStore) {
	arb := arbiter.New()
	st := newMemStore()
	return New(arb, st), arb, st
}

// ============================================================================
// ApplyBitmask
// ============================================================================

func TestApplyBitmask_StartsAndPersists(t *testing.T) {
	m, arb, st := newTestManager()

	mask := THP.Bit() | Motion.Bit()
	if got := m.ApplyBitmask(mask); got != mask {
		t.Errorf("ApplyBitmask() = %#x, want %#x", got, mask)
	}

	for _, pin := range []int{0, 4, 5} {
		if !arb.IsClaimed(pin) {
			t.Errorf("pin %d not claimed", pin)
		}
	}
	if !bytes.Equal(st.blobs[store.ModuleFile], store.EncodeModuleMask(mask)) {
		t.Errorf("persisted = %x", st.blobs[store.ModuleFile])
	}
}

func TestApplyBitmask_Idempotent(t *testing.T) {
	m, arb, st := newTestManager()
	mask := THP.Bit() | IO.Bit() | PWM.Bit() | CO2.Bit()

	first := m.ApplyBitmask(mask)
	claims := arb.Claimed()
	persisted := append([]byte(nil), st.blobs[store.ModuleFile]...)
	writes := st.writes

	second := m.ApplyBitmask(mask)

	if first != second {
		t.Errorf("second apply = %#x, first = %#x", second, first)
	}
	if arb.Claimed() != claims {
		t.Errorf("claims changed: %#x -> %#x", claims, arb.Claimed())
	}
	if !bytes.Equal(st.blobs[store.ModuleFile], persisted) {
		t.Error("persisted bytes changed")
	}
	if st.writes != writes {
		t.Errorf("store written %d more times", st.writes-writes)
	}
}

func TestApplyBitmask_ExclusiveGroupLowestWins(t *testing.T) {
	m, _, _ := newTestManager()

	got := m.ApplyBitmask(CO2.Bit() | Jura.Bit() | JuraTerm.Bit())
	if got != CO2.Bit() {
		t.Errorf("active = %#x, want only CO2 (%#x)", got, CO2.Bit())
	}

	got = m.ApplyBitmask(Jura.Bit() | JuraTerm.Bit())
	if got != Jura.Bit() {
		t.Errorf("active = %#x, want only Jura (%#x)", got, Jura.Bit())
	}
}

func TestApplyBitmask_ConflictSkipsOnlyThatModule(t *testing.T) {
	m, arb, _ := newTestManager()

	// Switch needs raw GPIO 4/5 which the I2C bus already holds for THP.
	got := m.ApplyBitmask(THP.Bit() | Motion.Bit() | Switch.Bit())
	if got != THP.Bit()|Motion.Bit() {
		t.Errorf("active = %#x, want THP|Motion", got)
	}
	// Switch's partial claims must have been rolled back.
	for _, pin := range []int{12, 14} {
		if arb.IsClaimed(pin) {
			t.Errorf("pin %d left claimed after failed start", pin)
		}
	}
}

func TestApplyBitmask_StopReleasesPins(t *testing.T) {
	m, arb, st := newTestManager()

	m.ApplyBitmask(PWM.Bit() | Motion.Bit())
	got := m.ApplyBitmask(Motion.Bit())

	if got != Motion.Bit() {
		t.Errorf("active = %#x, want Motion", got)
	}
	for _, pin := range []int{12, 13, 14, 15} {
		if arb.IsClaimed(pin) {
			t.Errorf("pin %d still claimed", pin)
		}
	}
	mask, _ := store.ReadModuleMask(st)
	if mask != Motion.Bit() {
		t.Errorf("persisted = %#x, want Motion", mask)
	}

	// Released PWM pins are reusable by another module in the same apply.
	if got := m.ApplyBitmask(Plant.Bit()); got != Plant.Bit() {
		t.Errorf("active = %#x, want Plant", got)
	}
}

func TestApplyBitmask_SharedBusRefcount(t *testing.T) {
	m, arb, _ := newTestManager()

	m.ApplyBitmask(THP.Bit() | IO.Bit())
	m.ApplyBitmask(IO.Bit())
	if !arb.IsClaimed(4) || !arb.IsClaimed(5) {
		t.Fatal("I2C pins released while IO still uses the bus")
	}

	m.ApplyBitmask(0)
	if arb.Claimed() != 0 {
		t.Errorf("claims = %#x after stopping all", arb.Claimed())
	}
}

func TestApplyBitmask_UnknownBitsIgnored(t *testing.T) {
	m, _, _ := newTestManager()
	if got := m.ApplyBitmask(0x80000000 | Motion.Bit()); got != Motion.Bit() {
		t.Errorf("active = %#x, want Motion", got)
	}
}

func TestApplyBitmask_CorrectsStoredMismatch(t *testing.T) {
	m, _, st := newTestManager()
	st.blobs[store.ModuleFile] = []byte{0xff, 0x00}

	m.ApplyBitmask(0)

	if !bytes.Equal(st.blobs[store.ModuleFile], []byte{0, 0, 0, 0}) {
		t.Errorf("persisted = %x, want 00000000", st.blobs[store.ModuleFile])
	}
}

func TestApplyBitmask_ActiveMatchesClaims(t *testing.T) {
	masks := []uint32{0x1ff, 0x0a5, 0x150, 0x002, 0x000, 0x1c1}
	m, arb, _ := newTestManager()

	for _, mask := range masks {
		active := m.ApplyBitmask(mask)

		var want uint32
		for _, s := range table {
			if active&s.ID.Bit() == 0 {
				continue
			}
			for _, p := range s.Pins {
				if !arb.IsClaimed(p) {
					t.Errorf("mask %#x: %s active but pin %d unclaimed", mask, s.Name, p)
				}
			}
			want |= s.ID.Bit()
		}
		if active != want || m.ActiveMask() != active {
			t.Errorf("mask %#x: inconsistent active mask", mask)
		}
	}
}

// ============================================================================
// Features
// ============================================================================

func TestFeature_StartStop(t *testing.T) {
	m, _, _ := newTestManager()
	f := &fakeFeature{}
	if err := m.Register(PWM, f); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m.ApplyBitmask(PWM.Bit())
	m.ApplyBitmask(PWM.Bit())
	m.ApplyBitmask(0)

	if f.starts != 1 || f.stops != 1 {
		t.Errorf("starts = %d, stops = %d, want 1 and 1", f.starts, f.stops)
	}
}

func TestFeature_StartFailureRollsBack(t *testing.T) {
	m, arb, _ := newTestManager()
	m.Register(Plant, &fakeFeature{startErr: errors.New("sensor missing")}) //nolint:errcheck // Known module

	if got := m.ApplyBitmask(Plant.Bit()); got != 0 {
		t.Errorf("active = %#x, want 0", got)
	}
	if arb.Claimed() != 0 {
		t.Errorf("claims = %#x, want 0", arb.Claimed())
	}
	// The bus refcount must have been rolled back too.
	if got := m.ApplyBitmask(PWM.Bit()); got != PWM.Bit() {
		t.Errorf("PWM after failed Plant = %#x", got)
	}
}

func TestRegister_Unknown(t *testing.T) {
	m, _, _ := newTestManager()
	if err := m.Register(ID(20), &fakeFeature{}); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("Register() error = %v, want ErrUnknownModule", err)
	}
}

func TestID_String(t *testing.T) {
	if THP.String() != "THP" || Plant.String() != "Plant" {
		t.Errorf("names = %s, %s", THP, Plant)
	}
	if ID(30).String() != "module(30)" {
		t.Errorf("unknown = %s", ID(30))
	}
}
