package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var testDeviceID = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(Options{
		Path:      filepath.Join(t.TempDir(), "settings.dat"),
		DeviceID:  testDeviceID,
		Obfuscate: true,
	})
}

func stepperDefaults() Value {
	return MapValue(map[string]Value{
		"enabled": BoolValue(true),
		"motors": ListValue(
			MapValue(map[string]Value{
				"pins":              ListValue(IntValue(-1), IntValue(-1), IntValue(-1), IntValue(-1)),
				"wheel_diameter_mm": FloatValue(69.0),
			}),
			MapValue(map[string]Value{
				"pins":              ListValue(IntValue(-1), IntValue(-1), IntValue(-1), IntValue(-1)),
				"wheel_diameter_mm": FloatValue(69.0),
			}),
		),
		"steps_per_rev": IntValue(4096),
	})
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	store.MergeManager("stepper", stepperDefaults())
	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := NewStore(Options{Path: store.path, DeviceID: testDeviceID, Obfuscate: true})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want, _ := store.ManagerTree("stepper")
	got, ok := reloaded.ManagerTree("stepper")
	if !ok || !got.Equal(want) {
		t.Fatalf("reloaded tree mismatch:\n  want %s\n  got  %s", want, got)
	}
}

func TestStoreLoadMissingFileIsPersistenceError(t *testing.T) {
	store := NewStore(Options{
		Path:      filepath.Join(t.TempDir(), "absent.dat"),
		DeviceID:  testDeviceID,
		Obfuscate: true,
	})
	err := store.Load()
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Load of missing file = %v, want ErrPersistence", err)
	}
}

func TestStoreLoadBadMagicIsPersistenceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.dat")
	if err := os.WriteFile(path, []byte("{\"stepper\":{}}"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewStore(Options{Path: path, DeviceID: testDeviceID, Obfuscate: true})
	err := store.Load()
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Load with bad header = %v, want ErrPersistence", err)
	}
}

func TestStoreLoadWrongDeviceIDIsPersistenceError(t *testing.T) {
	store := newTestStore(t)
	store.MergeManager("stepper", stepperDefaults())
	if err := store.Save(); err != nil {
		t.Fatal(err)
	}

	other := NewStore(Options{
		Path:      store.path,
		DeviceID:  []byte{0xFF, 0xFE, 0xFD},
		Obfuscate: true,
	})
	err := other.Load()
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Load with wrong device key = %v, want ErrPersistence", err)
	}
}

func TestStoreSetCoercesPersistsAndNotifies(t *testing.T) {
	store := newTestStore(t)
	store.MergeManager("stepper", stepperDefaults())

	var notified []Change
	store.Notifier().SubscribeManager("stepper", func(c Change) {
		notified = append(notified, c)
	})

	change, err := store.Set("stepper", "motors[0].wheel_diameter_mm", "70.2", "test")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !change.Old.Equal(FloatValue(69.0)) || !change.New.Equal(FloatValue(70.2)) {
		t.Fatalf("change = %+v, want 69.0 -> 70.2", change)
	}

	if len(notified) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notified))
	}
	if notified[0].Path != "motors[0].wheel_diameter_mm" {
		t.Errorf("notified path = %q", notified[0].Path)
	}

	// The write must already be on disk.
	reloaded := NewStore(Options{Path: store.path, DeviceID: testDeviceID, Obfuscate: true})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load after Set failed: %v", err)
	}
	got, err := reloaded.Resolve("stepper", "motors[0].wheel_diameter_mm")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Kind() != KindFloat || got.Float() != 70.2 {
		t.Fatalf("persisted value = %v (%v), want float 70.2", got, got.Kind())
	}
}

func TestStoreSetListValue(t *testing.T) {
	store := newTestStore(t)
	store.MergeManager("stepper", stepperDefaults())

	if _, err := store.Set("stepper", "motors[1].pins", "[6,7,8,9]", "test"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _ := store.Resolve("stepper", "motors[1].pins[3]")
	if got.Kind() != KindInt || got.Int() != 9 {
		t.Fatalf("pins[3] = %v, want int 9", got)
	}
}

func TestStoreSetRejectsDottedAccessIntoList(t *testing.T) {
	store := newTestStore(t)
	store.MergeManager("stepper", stepperDefaults())
	before := store.Snapshot()

	_, err := store.Set("stepper", "motors[1].pins.2", "9", "test")
	if !errors.Is(err, ErrSettingsPath) {
		t.Fatalf("Set = %v, want ErrSettingsPath", err)
	}
	if !store.Snapshot().Equal(before) {
		t.Fatal("failed Set changed the tree")
	}
}

func TestStoreSetCoercionFailureRetainsValue(t *testing.T) {
	store := newTestStore(t)
	store.MergeManager("stepper", stepperDefaults())

	notifications := 0
	store.Notifier().Subscribe(func(Change) { notifications++ })

	_, err := store.Set("stepper", "steps_per_rev", "lots", "test")
	if !errors.Is(err, ErrTypeCoercion) {
		t.Fatalf("Set = %v, want ErrTypeCoercion", err)
	}
	got, _ := store.Resolve("stepper", "steps_per_rev")
	if got.Int() != 4096 {
		t.Fatalf("value after failed coercion = %v, want 4096", got)
	}
	if notifications != 0 {
		t.Fatalf("failed Set produced %d notifications", notifications)
	}
}

func TestStoreSetUnknownManager(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Set("ghost", "enabled", "true", "test")
	if !errors.Is(err, ErrUnknownManager) {
		t.Fatalf("Set = %v, want ErrUnknownManager", err)
	}
}

func TestStoreNoOpSetIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	store.MergeManager("stepper", stepperDefaults())

	original, err := store.Resolve("stepper", "motors[0].wheel_diameter_mm")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Set("stepper", "motors[0].wheel_diameter_mm", original.String(), "test"); err != nil {
		t.Fatalf("no-op Set failed: %v", err)
	}
	after, _ := store.Resolve("stepper", "motors[0].wheel_diameter_mm")
	if !after.Equal(original) {
		t.Fatalf("no-op Set changed value: %v -> %v", original, after)
	}
}

func TestResetDefaultsOmitsDisabledManagers(t *testing.T) {
	store := newTestStore(t)
	store.MergeManager("stepper", stepperDefaults())
	store.MergeManager("blink", MapValue(map[string]Value{"enabled": BoolValue(true)}))
	if _, err := store.Set("stepper", "steps_per_rev", "2048", "test"); err != nil {
		t.Fatal(err)
	}

	// Only blink is still loaded; stepper was disabled since.
	enabled := map[string]Value{
		"blink": MapValue(map[string]Value{"enabled": BoolValue(true), "delay_seconds": FloatValue(1.0)}),
	}
	if err := store.ResetDefaults(enabled); err != nil {
		t.Fatalf("ResetDefaults failed: %v", err)
	}

	reloaded := NewStore(Options{Path: store.path, DeviceID: testDeviceID, Obfuscate: true})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load after reset failed: %v", err)
	}
	if _, ok := reloaded.ManagerTree("stepper"); ok {
		t.Fatal("disabled manager still present after reset")
	}
	blink, ok := reloaded.ManagerTree("blink")
	if !ok || !blink.Equal(enabled["blink"]) {
		t.Fatalf("blink after reset = %v, want exact defaults", blink)
	}
}

func TestStoreReplace(t *testing.T) {
	store := newTestStore(t)

	doc, err := ParseJSON([]byte(`{"blink": {"enabled": true, "delay_seconds": 0.5}}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Replace(doc); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if !store.Loaded() {
		t.Fatal("store not marked loaded after Replace")
	}
	got, err := store.Resolve("blink", "delay_seconds")
	if err != nil || got.Float() != 0.5 {
		t.Fatalf("Resolve after Replace = %v, %v", got, err)
	}
}

func TestStoreReplaceRejectsNonMap(t *testing.T) {
	store := newTestStore(t)
	if err := store.Replace(ListValue(IntValue(1))); err == nil {
		t.Fatal("Replace accepted a non-map document")
	}
}

func TestPlaintextModeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewStore(Options{Path: path, Obfuscate: false})
	store.MergeManager("blink", MapValue(map[string]Value{"enabled": BoolValue(true)}))
	if err := store.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != '{' {
		t.Fatalf("plaintext mode wrote obfuscated data: % x", data[:4])
	}

	reloaded := NewStore(Options{Path: path, Obfuscate: false})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestXorTransformIsSymmetric(t *testing.T) {
	body := []byte(`{"a": 1}`)
	seed := seedFromDeviceID(testDeviceID)

	scrambled := xorTransform(body, seed)
	if string(scrambled) == string(body) {
		t.Fatal("transform left data unchanged")
	}
	restored := xorTransform(scrambled, seed)
	if string(restored) != string(body) {
		t.Fatalf("round trip mismatch: %q", restored)
	}
}
