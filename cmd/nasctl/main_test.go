package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tdisawas0github/project-os/internal/apiclient"
	"github.com/tdisawas0github/project-os/internal/nastest"
	"github.com/tdisawas0github/project-os/internal/session"
)

type harness struct {
	t     *testing.T
	srv   *nastest.Server
	state string
}

func newHarness(t *testing.T, opts ...nastest.Option) *harness {
	t.Helper()
	return &harness{t: t, srv: nastest.New(t, opts...), state: t.TempDir()}
}

// run executes one nasctl invocation, like a fresh process would.
func (h *harness) run(stdin string, args ...string) (string, string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	root.SetArgs(append([]string{"--url", h.srv.URL, "--state-dir", h.state}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (h *harness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	out, errOut, err := h.run(stdin, args...)
	if err != nil {
		h.t.Fatalf("nasctl %s: %v\nstderr: %s", strings.Join(args, " "), err, errOut)
	}
	return out
}

func (h *harness) login() {
	h.t.Helper()
	h.mustRun(nastest.AdminPassword+"\n", "login", "-u", nastest.AdminUser, "--password-stdin")
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newHarness(t, nastest.WithTokens("tok-1"))

	out := h.mustRun(nastest.AdminPassword+"\n", "login", "-u", nastest.AdminUser, "--password-stdin")
	if !strings.Contains(out, "✓ Logged in as admin (admin)") {
		t.Fatalf("unexpected login output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(h.state, "session.json")); err != nil {
		t.Fatalf("session not saved: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(h.state, "session.json"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("tok-1")) {
		t.Fatalf("token stored in the clear: %s", raw)
	}

	out = h.mustRun("", "whoami", "-o", "json")
	var u apiclient.User
	if err := json.Unmarshal([]byte(out), &u); err != nil {
		t.Fatalf("decode whoami: %v\n%s", err, out)
	}
	if u.Username != nastest.AdminUser || u.Role != "admin" {
		t.Fatalf("unexpected user: %+v", u)
	}

	out = h.mustRun("", "logout")
	if !strings.Contains(out, "✓ Logged out") {
		t.Fatalf("unexpected logout output: %q", out)
	}
	if h.srv.LiveSession("tok-1") {
		t.Fatalf("backend session still live after logout")
	}
	if _, _, err := h.run("", "whoami"); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expected errNotLoggedIn after logout, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("wrong\n", "login", "-u", nastest.AdminUser, "--password-stdin")
	var le *session.LoginError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoginError, got %v", err)
	}
	var buf bytes.Buffer
	printError(&buf, err)
	if got := buf.String(); got != "Error: invalid credentials\n" {
		t.Fatalf("unexpected error output: %q", got)
	}
}

func TestLoginNeedsPasswordWithoutTerminal(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("", "login", "-u", nastest.AdminUser)
	if err == nil || !strings.Contains(err.Error(), "--password-stdin") {
		t.Fatalf("expected a --password-stdin hint, got %v", err)
	}
	if h.srv.Calls("POST", "/api/v1/auth/login") != 0 {
		t.Fatalf("login attempted without a password")
	}
}

func TestLoginWithTOTPSecretFromConfig(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	h := newHarness(t, nastest.WithTOTP(nastest.AdminUser, secret))

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgFile, []byte("totp_secret: "+secret+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out := h.mustRun(nastest.AdminPassword+"\n", "--config", cfgFile, "login", "-u", nastest.AdminUser, "--password-stdin")
	if !strings.Contains(out, "Logged in as admin") {
		t.Fatalf("unexpected login output: %q", out)
	}

	h2 := newHarness(t, nastest.WithTOTP(nastest.AdminUser, secret))
	_, _, err := h2.run(nastest.AdminPassword+"\n", "login", "-u", nastest.AdminUser, "--password-stdin")
	var le *session.LoginError
	if !errors.As(err, &le) || le.Message != "invalid totp code" {
		t.Fatalf("expected totp rejection, got %v", err)
	}
}

func TestNotLoggedInHint(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("", "status")
	if !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expected errNotLoggedIn, got %v", err)
	}
	var buf bytes.Buffer
	printError(&buf, err)
	if !strings.Contains(buf.String(), "Run 'nasctl login' to sign in.") {
		t.Fatalf("missing hint: %q", buf.String())
	}
	if h.srv.TotalCalls() != 0 {
		t.Fatalf("no saved token should mean no requests, got %d", h.srv.TotalCalls())
	}
}

func TestRevokedSessionIsForgotten(t *testing.T) {
	h := newHarness(t, nastest.WithTokens("tok-1"))
	h.login()
	h.srv.Revoke("tok-1")

	if _, _, err := h.run("", "status"); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expected errNotLoggedIn, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.state, "session.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("rejected session should be removed, stat err = %v", err)
	}
	before := h.srv.Calls("GET", "/api/v1/user")
	if _, _, err := h.run("", "whoami"); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expected errNotLoggedIn, got %v", err)
	}
	if h.srv.Calls("GET", "/api/v1/user") != before {
		t.Fatalf("forgotten session was verified again")
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.login()

	out := h.mustRun("", "status", "-o", "json")
	var info apiclient.SystemInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if info.CPU.Cores != 4 || len(info.Disk) == 0 || info.Disk[0].Mountpoint != "/srv/data" {
		t.Fatalf("unexpected system info: %+v", info)
	}

	out = h.mustRun("", "dashboard")
	for _, want := range []string{"System Status", "Uptime:      1d 2h 3m", "/srv/data"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	out = h.mustRun("", "status", "-o", "yaml")
	if !strings.Contains(out, "cores: 4") {
		t.Fatalf("unexpected yaml output:\n%s", out)
	}
}

func TestWatchStopsAfterCount(t *testing.T) {
	h := newHarness(t)
	h.login()

	out := h.mustRun("", "watch", "--count", "2", "--interval", "20ms", "-o", "json")
	dec := json.NewDecoder(strings.NewReader(out))
	n := 0
	for dec.More() {
		var info apiclient.SystemInfo
		if err := dec.Decode(&info); err != nil {
			t.Fatalf("decode refresh %d: %v", n, err)
		}
		n++
	}
	if n < 2 {
		t.Fatalf("expected at least 2 refreshes, got %d", n)
	}
	if got := h.srv.Calls("GET", "/api/v1/system"); got < 2 {
		t.Fatalf("expected at least 2 system requests, got %d", got)
	}
}

func TestWatchEndsWhenSessionRevoked(t *testing.T) {
	h := newHarness(t, nastest.WithTokens("tok-1"))
	h.login()
	h.srv.Fail("GET", "/api/v1/system", 401, `{"error":"Invalid token"}`, 0)

	_, _, err := h.run("", "watch", "--interval", "20ms")
	if !errors.Is(err, session.ErrSignedOut) {
		t.Fatalf("expected ErrSignedOut, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.state, "session.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("session should be cleared, stat err = %v", err)
	}
}

func TestWatchRejectsBadSchedule(t *testing.T) {
	h := newHarness(t)
	h.login()
	if _, _, err := h.run("", "watch", "--schedule", "every tuesday"); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestFiles(t *testing.T) {
	h := newHarness(t)
	h.login()

	local := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(local, []byte("hello nas"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.mustRun("", "files", "mkdir", "/", "docs")
	h.mustRun("", "files", "upload", local, "/docs", "-o", "json")
	if data, ok := h.srv.File("/docs/notes.txt"); !ok || string(data) != "hello nas" {
		t.Fatalf("upload not stored: %q %v", data, ok)
	}

	out := h.mustRun("", "files", "ls", "/docs", "-o", "json")
	var list apiclient.FileList
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(list.Files) != 1 || list.Files[0].Name != "notes.txt" {
		t.Fatalf("unexpected listing: %+v", list)
	}

	dest := filepath.Join(t.TempDir(), "copy.txt")
	h.mustRun("", "files", "download", "/docs/notes.txt", dest, "-o", "json")
	if data, err := os.ReadFile(dest); err != nil || string(data) != "hello nas" {
		t.Fatalf("download = %q, %v", data, err)
	}

	if _, _, err := h.run("", "files", "rm", "/docs"); err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected refusal without --yes, got %v", err)
	}
	h.mustRun("", "files", "rm", "/docs", "--yes")
	if _, ok := h.srv.File("/docs/notes.txt"); ok {
		t.Fatalf("file survived rm")
	}
}

func TestDownloadMissingLeavesNoFile(t *testing.T) {
	h := newHarness(t)
	h.login()
	dest := filepath.Join(t.TempDir(), "missing.txt")
	_, _, err := h.run("", "files", "download", "/nope.txt", dest)
	var he *apiclient.HTTPError
	if !errors.As(err, &he) || he.Status != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
	for _, p := range []string{dest, dest + ".part"} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s left behind", p)
		}
	}
}

func TestSharesAndSamba(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.mustRun("", "shares", "add", "media", "/srv/data/media", "--comment", "Movies", "--readonly", "--users", "alice,bob")
	out := h.mustRun("", "shares", "ls", "-o", "json")
	var cfg apiclient.SambaConfig
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("decode shares: %v\n%s", err, out)
	}
	var media *apiclient.Share
	for i := range cfg.Shares {
		if cfg.Shares[i].Name == "media" {
			media = &cfg.Shares[i]
		}
	}
	if media == nil || !media.ReadOnly || !media.Browseable || len(media.ValidUsers) != 2 {
		t.Fatalf("unexpected share: %+v", media)
	}

	h.mustRun("", "samba", "start")
	out = h.mustRun("", "samba", "status", "-o", "json")
	var st apiclient.SambaStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Running {
		t.Fatalf("samba not running after start: %+v", st)
	}

	h.mustRun("", "shares", "rm", "media", "-y")
	if _, _, err := h.run("", "shares", "rm", "media", "-y"); err == nil {
		t.Fatalf("expected error removing a missing share")
	}
}

func TestUsers(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.mustRun("s3cret\n", "users", "add", "carol", "--email", "carol@example.com", "--password-stdin")
	out := h.mustRun("", "users", "ls", "-o", "json")
	var users []apiclient.User
	if err := json.Unmarshal([]byte(out), &users); err != nil {
		t.Fatalf("decode users: %v\n%s", err, out)
	}
	if len(users) != 2 || users[1].Username != "carol" || users[1].Role != "user" {
		t.Fatalf("unexpected users: %+v", users)
	}

	h.mustRun("", "users", "rm", "carol", "--yes")
	out = h.mustRun("", "users", "ls")
	if strings.Contains(out, "carol") {
		t.Fatalf("carol still listed:\n%s", out)
	}
}

func TestNetwork(t *testing.T) {
	h := newHarness(t, nastest.WithLegacyNetwork())
	h.login()
	out := h.mustRun("", "network", "-o", "json")
	var n apiclient.NetworkConfig
	if err := json.Unmarshal([]byte(out), &n); err != nil {
		t.Fatalf("decode network: %v\n%s", err, out)
	}
	if n.DefaultGateway != "192.168.1.1" || n.ActiveInterfaces() != 1 {
		t.Fatalf("unexpected network: %+v", n)
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out, &out)
	root.SetArgs([]string{"version", "--url", "not a url"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "nasctl version dev") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.run("", "whoami", "-o", "xml"); err == nil {
		t.Fatalf("expected output format error")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024 * 1024, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{59, "0m"},
		{3600 + 120, "1h 2m"},
		{93784, "1d 2h 3m"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.in); got != tt.want {
			t.Errorf("formatUptime(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
