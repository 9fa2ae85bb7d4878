package logger

import "testing"

func TestLoggerSafeBeforeInitialize(t *testing.T) {
	// The package-level logger must be usable before Initialize.
	Infow("pre-init message", "k", "v")
	Debugf("pre-init %s", "debug")
}

func TestInitialize(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatal(err)
	}
	if JSONOutput {
		t.Fatal("console mode should not set JSONOutput")
	}
	Infow("console message", "count", 3)

	if err := Initialize(true); err != nil {
		t.Fatal(err)
	}
	if !JSONOutput {
		t.Fatal("json mode should set JSONOutput")
	}
	Warnw("json message", "flag", true)
	Cleanup()
}

func TestAbbreviateName(t *testing.T) {
	cases := map[string]string{
		"sync":            "sync",
		"opstore.flusher": "o.flusher",
		"a.b.c":           "a.b.c",
	}
	for in, want := range cases {
		if got := abbreviateName(in); got != want {
			t.Fatalf("abbreviateName(%q) = %q, want %q", in, got, want)
		}
	}
}
