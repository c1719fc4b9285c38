package credstore

import (
	"errors"
	"path/filepath"
	"testing"

	"autovolume-go/errcode"
)

type fakeEraser struct {
	calls int
	fail  error
}

func (f *fakeEraser) Forget() error {
	f.calls++
	return f.fail
}

func open(t *testing.T, b Backend) *Store {
	t.Helper()
	s, err := Open(b, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutIsDurableBeforeReturn(t *testing.T) {
	m := NewMemory(nil)
	s := open(t, m)
	if err := s.Put(KeyAccountID, "acct-1"); err != nil {
		t.Fatal(err)
	}
	doc, _ := m.Load()
	if doc[KeyAccountID] != "acct-1" {
		t.Fatalf("backend doc = %v", doc)
	}
	if v, ok := s.Get(KeyAccountID); !ok || v != "acct-1" {
		t.Fatalf("Get = %q,%v", v, ok)
	}
}

func TestEmptyAccountIDRejected(t *testing.T) {
	m := NewMemory(nil)
	s := open(t, m)
	for _, v := range []string{"", "   ", "\t\n"} {
		err := s.Put(KeyAccountID, v)
		if errcode.Of(err) != errcode.InvalidAccountID {
			t.Fatalf("Put(%q) err = %v", v, err)
		}
	}
	if m.Saves != 0 {
		t.Fatalf("saves = %d, want 0", m.Saves)
	}
}

func TestGetDoesNotMutate(t *testing.T) {
	m := NewMemory(map[string]string{KeyServerURL: "ws://x/ws"})
	s := open(t, m)
	s.Get(KeyServerURL)
	s.Get("missing")
	if m.Saves != 0 {
		t.Fatalf("saves = %d", m.Saves)
	}
}

func TestFailedSaveKeepsPreviousValue(t *testing.T) {
	m := NewMemory(map[string]string{KeyAccountID: "old"})
	s := open(t, m)
	m.Fail = errors.New("flash worn out")
	if err := s.Put(KeyAccountID, "new"); errcode.Of(err) != errcode.StoreFailed {
		t.Fatalf("err = %v", err)
	}
	if v, _ := s.Get(KeyAccountID); v != "old" {
		t.Fatalf("value = %q", v)
	}
}

func TestClearAllWipesBoth(t *testing.T) {
	m := NewMemory(map[string]string{KeyAccountID: "a", KeyServerURL: "ws://x", KeyWiFiSSID: "home"})
	s := open(t, m)
	e := &fakeEraser{}
	s.SetEraser(e)
	if err := s.ClearAll(); err != nil {
		t.Fatal(err)
	}
	if e.calls != 1 {
		t.Fatalf("eraser calls = %d", e.calls)
	}
	doc, _ := m.Load()
	if len(doc) != 0 {
		t.Fatalf("doc after clear = %v", doc)
	}
	if _, ok := s.AccountID(); ok {
		t.Fatal("account id survived clear")
	}
}

func TestClearAllInterruptedIsFinishedOnRecover(t *testing.T) {
	m := NewMemory(map[string]string{KeyAccountID: "a"})
	s := open(t, m)
	e := &fakeEraser{fail: errors.New("radio busy")}
	s.SetEraser(e)
	if err := s.ClearAll(); err == nil {
		t.Fatal("expected error from eraser")
	}
	// Account already gone even though the network half failed.
	if _, ok := s.AccountID(); ok {
		t.Fatal("account id visible after partial clear")
	}

	// Reboot.
	s2 := open(t, m)
	e2 := &fakeEraser{}
	s2.SetEraser(e2)
	if err := s2.Recover(); err != nil {
		t.Fatal(err)
	}
	if e2.calls != 1 {
		t.Fatalf("recover eraser calls = %d", e2.calls)
	}
	doc, _ := m.Load()
	if len(doc) != 0 {
		t.Fatalf("doc = %v", doc)
	}
	if err := s2.Recover(); err != nil || e2.calls != 1 {
		t.Fatalf("second recover: err=%v calls=%d", err, e2.calls)
	}
}

func TestReservedKeyRejected(t *testing.T) {
	s := open(t, NewMemory(nil))
	if err := s.Put(keyResetPending, "1"); errcode.Of(err) != errcode.InvalidParams {
		t.Fatalf("err = %v", err)
	}
}

func TestDelete(t *testing.T) {
	m := NewMemory(map[string]string{KeyServerURL: "ws://x"})
	s := open(t, m)
	if err := s.Delete(KeyServerURL); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(KeyServerURL); err != nil {
		t.Fatal(err)
	}
	if m.Saves != 1 {
		t.Fatalf("saves = %d", m.Saves)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "creds.yaml")
	s := open(t, NewFile(p))
	if err := s.PutAll(map[string]string{KeyAccountID: "venue-42", KeyServerURL: "ws://h/ws"}); err != nil {
		t.Fatal(err)
	}
	s2 := open(t, NewFile(p))
	if v, _ := s2.Get(KeyAccountID); v != "venue-42" {
		t.Fatalf("reloaded account = %q", v)
	}
	if err := s2.ClearAll(); err != nil {
		t.Fatal(err)
	}
	s3 := open(t, NewFile(p))
	if _, ok := s3.Get(KeyServerURL); ok {
		t.Fatal("server url survived clear")
	}
}
