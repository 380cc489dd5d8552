package lockfile

import "testing"

func TestRepackLockFailsFastWhenHeld(t *testing.T) {
	dir := t.TempDir()

	l1, err := RepackLock(dir, "2007/07-07.grib")
	if err != nil {
		t.Fatalf("first RepackLock: %v", err)
	}
	defer l1.Unlock()

	_, err = RepackLock(dir, "2007/07-07.grib")
	if err == nil {
		t.Fatalf("expected second RepackLock to fail fast")
	}
}

func TestNeedsCheckFlag(t *testing.T) {
	dir := t.TempDir()
	flag := NewNeedsCheckFlag(dir)

	if flag.Present() {
		t.Fatalf("flag should not be present initially")
	}
	if err := flag.Set("segment X needs manual review"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !flag.Present() {
		t.Fatalf("flag should be present after Set")
	}
	if err := flag.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if flag.Present() {
		t.Fatalf("flag should not be present after Clear")
	}
}

func TestAppendLockRoundTrip(t *testing.T) {
	dir := t.TempDir()

	l, err := AppendLock(dir, "2007/07-07.grib")
	if err != nil {
		t.Fatalf("AppendLock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}
