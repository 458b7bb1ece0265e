package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.IncRequest("ok")
	m.ObserveDuration(time.Second)
	m.IncError("timeout")
	m.IncAppended(time.Now())
	m.IncSkipped("malformed")
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("nil metrics write: %v", err)
	}
}

func TestAppendedSetsLastSuccess(t *testing.T) {
	m := New()
	at := time.Unix(1705356000, 0)
	m.IncAppended(at)
	m.IncAppended(at)

	if got := testutil.ToFloat64(m.RowsAppendedTotal); got != 2 {
		t.Fatalf("rows appended = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LastSuccessSeconds); got != 1705356000 {
		t.Fatalf("last success = %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.IncRequest("ok")
	m.IncSkipped("duplicate")

	path := filepath.Join(t.TempDir(), "civey.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`civey_fetch_requests_total{outcome="ok"} 1`,
		`civey_records_skipped_total{reason="duplicate"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
}
