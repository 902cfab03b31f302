package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type publishRecord struct {
	path     string
	title    string
	priority string
	tags     string
	auth     string
	body     string
}

// recordingServer captures ntfy publishes.
type recordingServer struct {
	*httptest.Server
	mu      sync.Mutex
	records []publishRecord
	status  int
}

func newRecordingServer() *recordingServer {
	rs := &recordingServer{status: http.StatusOK}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.records = append(rs.records, publishRecord{
			path:     r.URL.Path,
			title:    r.Header.Get("Title"),
			priority: r.Header.Get("Priority"),
			tags:     r.Header.Get("Tags"),
			auth:     r.Header.Get("Authorization"),
			body:     string(body),
		})
		rs.mu.Unlock()
		w.WriteHeader(rs.status)
	}))
	return rs
}

func (rs *recordingServer) last(t *testing.T) publishRecord {
	t.Helper()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.records) == 0 {
		t.Fatal("no publish was recorded")
	}
	return rs.records[len(rs.records)-1]
}

func (rs *recordingServer) count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.records)
}

func TestPublishHeadersAndAuth(t *testing.T) {
	srv := newRecordingServer()
	defer srv.Close()

	n := New(srv.URL, "garmin-alerts", "tok123", "", true)
	n.AuthSuccess("fresh login")

	rec := srv.last(t)
	if rec.path != "/garmin-alerts" {
		t.Errorf("path = %q, want /garmin-alerts", rec.path)
	}
	if rec.title != "Garmin Auth Success" {
		t.Errorf("Title = %q", rec.title)
	}
	if rec.priority != "low" {
		t.Errorf("Priority = %q, want low", rec.priority)
	}
	if rec.auth != "Bearer tok123" {
		t.Errorf("Authorization = %q, want Bearer tok123", rec.auth)
	}
	if rec.body == "" {
		t.Error("message body is empty")
	}
}

func TestDisabledNotifierIsNoOp(t *testing.T) {
	srv := newRecordingServer()
	defer srv.Close()

	n := New(srv.URL, "topic", "", "", false)
	n.AuthSuccess("fresh login")
	n.AuthFailure("boom")
	n.MFARequired(nil)
	n.RateLimited(time.Hour)
	n.TokensExpiring(120)

	if got := srv.count(); got != 0 {
		t.Errorf("recorded %d publishes, want 0 when disabled", got)
	}
	if n.Test() {
		t.Error("Test() should report false when disabled")
	}
}

func TestAuthFailurePriority(t *testing.T) {
	srv := newRecordingServer()
	defer srv.Close()

	n := New(srv.URL, "topic", "", "", true)
	n.AuthFailure("bad password")

	rec := srv.last(t)
	if rec.priority != "high" {
		t.Errorf("Priority = %q, want high", rec.priority)
	}
	if rec.title != "Garmin Auth Failed" {
		t.Errorf("Title = %q", rec.title)
	}
}

func TestMFARequiredNamesConfiguredSources(t *testing.T) {
	srv := newRecordingServer()
	defer srv.Close()

	n := New(srv.URL, "topic", "", "", true)
	n.MFARequired([]string{"code file (/tmp/mfa.txt)", "monitored mailbox"})

	rec := srv.last(t)
	for _, want := range []string{"code file (/tmp/mfa.txt)", "monitored mailbox"} {
		if !strings.Contains(rec.body, want) {
			t.Errorf("body %q should name source %q", rec.body, want)
		}
	}
}

func TestMFARequiredNoSources(t *testing.T) {
	srv := newRecordingServer()
	defer srv.Close()

	n := New(srv.URL, "topic", "", "", true)
	n.MFARequired(nil)

	rec := srv.last(t)
	if !strings.Contains(rec.body, "GARMIN_MFA_CODE") {
		t.Errorf("body %q should tell the operator how to configure a source", rec.body)
	}
}

func TestTokensExpiringThresholds(t *testing.T) {
	srv := newRecordingServer()
	defer srv.Close()

	n := New(srv.URL, "topic", "", "", true)

	n.TokensExpiring(30)
	if got := srv.count(); got != 0 {
		t.Errorf("young tokens published %d alerts, want 0", got)
	}

	n.TokensExpiring(70)
	if rec := srv.last(t); rec.priority != "high" {
		t.Errorf("aging alert priority = %q, want high", rec.priority)
	}

	n.TokensExpiring(100)
	if rec := srv.last(t); rec.priority != "urgent" {
		t.Errorf("critical alert priority = %q, want urgent", rec.priority)
	}
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	srv := newRecordingServer()
	srv.status = http.StatusForbidden
	defer srv.Close()

	// No fallback topic: the failure must end the attempt quietly.
	n := New(srv.URL, "topic", "", "", true)
	n.AuthFailure("boom")

	if n.Test() {
		t.Error("Test() should report false when the server rejects")
	}
}

func TestTestReportsDelivery(t *testing.T) {
	srv := newRecordingServer()
	defer srv.Close()

	n := New(srv.URL, "topic", "", "", true)
	if !n.Test() {
		t.Error("Test() should report true on delivery")
	}
	if rec := srv.last(t); rec.title != "Garmin Ntfy Test" {
		t.Errorf("Title = %q", rec.title)
	}
}
