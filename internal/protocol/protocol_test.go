package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseJobIDAcceptsBracedForm(t *testing.T) {
	const bare = "6f1c3a52-9d0e-4c7b-8a43-2b0f5e7d9c11"
	a, err := ParseJobID(bare)
	if err != nil {
		t.Fatalf("parse bare: %v", err)
	}
	b, err := ParseJobID("{" + bare + "}")
	if err != nil {
		t.Fatalf("parse braced: %v", err)
	}
	if a != b {
		t.Fatalf("braced and bare ids differ: %s vs %s", a, b)
	}
	if _, err := ParseJobID("not-a-guid"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseProxyUsage(t *testing.T) {
	tests := []struct {
		in   string
		want ProxyUsage
		ok   bool
	}{
		{in: "", want: ProxyPreconfig, ok: true},
		{in: "none", want: ProxyNoProxy, ok: true},
		{in: "AutoDetect", want: ProxyAutoDetect, ok: true},
		{in: "override", ok: false},
	}
	for _, tt := range tests {
		got, err := ParseProxyUsage(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseProxyUsage(%q) err=%v, want ok=%v", tt.in, err, tt.ok)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("ParseProxyUsage(%q)=%v, want %v", tt.in, got, tt.want)
		}
	}
	if ProxyUsage(2).Valid() {
		t.Fatalf("override proxy usage must not be accepted")
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name string
		p    JobProgress
		want float64
	}{
		{name: "half", p: JobProgress{TotalBytes: 200, TransferredBytes: 100}, want: 50},
		{name: "unknown total", p: JobProgress{TotalBytes: UnknownSize, TransferredBytes: 10}, want: -1},
		{name: "empty file done", p: JobProgress{TotalFiles: 1, TransferredFiles: 1}, want: 100},
		{name: "overshoot clamps", p: JobProgress{TotalBytes: 10, TransferredBytes: 12}, want: 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percent(); got != tt.want {
			t.Fatalf("%s: Percent()=%v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestJobStateSettled(t *testing.T) {
	if StateTransferring.Settled() || StateSuspended.Settled() {
		t.Fatalf("active states must not be settled")
	}
	if !StateTransferred.Settled() || !StateError.Settled() {
		t.Fatalf("terminal states must be settled")
	}
	if got := StateTransientError.String(); got != "transient_error" {
		t.Fatalf("String()=%q", got)
	}
}

func TestFailureMessagesAndCategory(t *testing.T) {
	cause := errors.New("gid not found")
	var err error = &SuspendJobFailure{Reason: SuspendJobNotFound, Err: cause}
	if got, want := err.Error(), "suspend_job failed: not_found: gid not found"; got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected failure to unwrap to its cause")
	}

	wrapped := fmt.Errorf("cli: %w", &StartJobFailure{Reason: StartJobArgumentValidation, Detail: "missing url"})
	var f Failure
	if !errors.As(wrapped, &f) {
		t.Fatalf("expected a Failure")
	}
	if f.Operation() != OpStartJob {
		t.Fatalf("Operation()=%s", f.Operation())
	}
	var start *StartJobFailure
	if !errors.As(wrapped, &start) || start.Reason != StartJobArgumentValidation {
		t.Fatalf("expected argument validation reason, got %+v", start)
	}
}
