package debug

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogRespectsEnabled(t *testing.T) {
	var buf bytes.Buffer
	prev := Enabled()
	defer SetEnabled(prev)

	SetEnabled(true)
	SetOutput(&buf)

	Log("tick %d", 7)
	LogIf(false, "hidden")
	LogIf(true, "shown")
	if out := buf.String(); !strings.Contains(out, "tick 7") || !strings.Contains(out, "shown") || strings.Contains(out, "hidden") {
		t.Errorf("unexpected output %q", out)
	}

	buf.Reset()
	SetEnabled(false)
	Log("nothing")
	LogEnterExit("noop")()
	if buf.Len() != 0 {
		t.Errorf("expected no output while disabled, got %q", buf.String())
	}
}

func TestAssertPanicsOnlyWhenEnabled(t *testing.T) {
	prev := Enabled()
	defer SetEnabled(prev)

	SetEnabled(false)
	Assert(false, "ignored")

	var buf bytes.Buffer
	SetEnabled(true)
	SetOutput(&buf)
	defer func() {
		if recover() == nil {
			t.Error("expected panic from failed assertion")
		}
	}()
	Assert(false, "boom")
}
