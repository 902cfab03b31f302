package tokenstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rkozlov/garmin-headless-auth/internal/connect"
)

// fakeClient implements connect.Client with scripted profile responses.
type fakeClient struct {
	profileErr error
}

func (f *fakeClient) Login(ctx context.Context, creds connect.Credentials) (*connect.Session, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeClient) ResumeLogin(ctx context.Context, creds connect.Credentials, code string) (*connect.Session, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeClient) ProfileName(ctx context.Context, sess *connect.Session) (string, error) {
	if f.profileErr != nil {
		return "", f.profileErr
	}
	return "Test User", nil
}

func testSession() *connect.Session {
	return &connect.Session{
		OAuth1:    json.RawMessage(`{"oauth_token":"t1"}`),
		OAuth2:    json.RawMessage(`{"access_token":"t2"}`),
		CreatedAt: time.Now(),
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "nope"), "")

	_, err := store.Load()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load = %v, want ErrNotFound", err)
	}
}

func TestLoadEmptyDirectoryRemovesPlaceholder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	store := New(dir, "")

	_, err := store.Load()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load = %v, want ErrNotFound", err)
	}

	// The empty placeholder directory must be gone so a fresh login
	// does not trip over it.
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("empty token directory was not removed")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	store := New(filepath.Join(tmp, "tokens"), filepath.Join(tmp, "tokens_base64"))

	want := testSession()
	if err := store.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if string(got.OAuth2) != string(want.OAuth2) {
		t.Errorf("OAuth2 = %s, want %s", got.OAuth2, want.OAuth2)
	}
	if string(got.OAuth1) != string(want.OAuth1) {
		t.Errorf("OAuth1 = %s, want %s", got.OAuth1, want.OAuth1)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be derived from file modification time")
	}
}

func TestSaveOverwritesPriorBundle(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "tokens"), "")

	first := testSession()
	if err := store.Save(first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second := testSession()
	second.OAuth2 = json.RawMessage(`{"access_token":"newer"}`)
	if err := store.Save(second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got.OAuth2) != `{"access_token":"newer"}` {
		t.Errorf("OAuth2 = %s, want the newer token", got.OAuth2)
	}
}

func TestSaveRejectsEmptySession(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "tokens"), "")

	if err := store.Save(&connect.Session{}); err == nil {
		t.Error("Save should reject a session without an oauth2 token")
	}
	if err := store.Save(nil); err == nil {
		t.Error("Save should reject a nil session")
	}
}

func TestBase64Companion(t *testing.T) {
	tmp := t.TempDir()
	b64Path := filepath.Join(tmp, "tokens_base64")
	store := New(filepath.Join(tmp, "tokens"), b64Path)

	sess := testSession()
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(b64Path)
	if err != nil {
		t.Fatalf("companion bundle not written: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		t.Fatalf("companion bundle is not base64: %v", err)
	}

	var decoded connect.Session
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("companion bundle is not a session document: %v", err)
	}
	if string(decoded.OAuth2) != string(sess.OAuth2) {
		t.Errorf("companion OAuth2 = %s, want %s", decoded.OAuth2, sess.OAuth2)
	}
}

func TestValidate(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "tokens"), "")
	sess := testSession()

	if !store.Validate(context.Background(), &fakeClient{}, sess) {
		t.Error("Validate should accept a session the upstream accepts")
	}

	rejected := &fakeClient{profileErr: fmt.Errorf("401 unauthorized")}
	if store.Validate(context.Background(), rejected, sess) {
		t.Error("Validate should treat upstream errors as invalid")
	}

	if store.Validate(context.Background(), &fakeClient{}, nil) {
		t.Error("Validate should reject a nil session")
	}
}

func TestAge(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "tokens"), "")

	if _, ok := store.Age(time.Now()); ok {
		t.Error("Age should report no bundle before Save")
	}

	if err := store.Save(testSession()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	age, ok := store.Age(time.Now())
	if !ok {
		t.Fatal("Age should report a bundle after Save")
	}
	if age < 0 || age > time.Minute {
		t.Errorf("Age = %v, want a fresh bundle", age)
	}
}
