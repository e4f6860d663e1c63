// Package nastest runs an in-process NAS OS backend for tests. It speaks the
// same /api/v1 contract as the appliance with in-memory users, sessions,
// files, shares and network data, and lets tests inject failures and count
// calls.
package nastest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
)

// Default credentials seeded into every server.
const (
	AdminUser     = "admin"
	AdminPassword = "admin123"
)

type account struct {
	User       User
	Password   string
	TOTPSecret string
	// overrides replace fields of the user record as it goes on the wire
	overrides map[string]any
}

// wire renders the user record, applying any overrides. Callers hold s.mu.
func (a *account) wire() map[string]any {
	b, _ := json.Marshal(a.User)
	out := map[string]any{}
	_ = json.Unmarshal(b, &out)
	for k, v := range a.overrides {
		out[k] = v
	}
	return out
}

// User mirrors the backend's identity record.
type User struct {
	ID        int        `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Created   time.Time  `json:"created"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

type failure struct {
	status int
	body   string
	times  int // <=0 means until cleared
}

type Server struct {
	*httptest.Server

	log      zerolog.Logger
	newToken func() string

	mu       sync.Mutex
	accounts map[string]*account
	nextID   int
	sessions map[string]string // token -> username
	calls    map[string]int    // "METHOD /path" -> count
	failures map[string]*failure
	auth     map[string][]string // "METHOD /path" -> Authorization headers seen
	fs       *memFS
	samba    sambaState
	network  map[string]any
}

type Option func(*Server)

// WithLogger logs every request through the zerolog middleware.
func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

// WithTokens makes login hand out the given tokens in order, then random ones.
func WithTokens(tokens ...string) Option {
	return func(s *Server) {
		queue := append([]string(nil), tokens...)
		s.newToken = func() string {
			if len(queue) == 0 {
				return strings.ReplaceAll(uuid.NewString(), "-", "")
			}
			t := queue[0]
			queue = queue[1:]
			return t
		}
	}
}

// WithSession pre-registers token as a live session for username.
func WithSession(token, username string) Option {
	return func(s *Server) { s.sessions[token] = username }
}

// WithUser adds an account next to the seeded admin.
func WithUser(username, password, role string) Option {
	return func(s *Server) { s.addAccount(username, password, username+"@nas-os.local", role) }
}

// WithTOTP requires a valid code from secret when username logs in.
func WithTOTP(username, secret string) Option {
	return func(s *Server) {
		if a, ok := s.accounts[username]; ok {
			a.TOTPSecret = secret
		}
	}
}

// WithUserField makes the backend send value for key in username's user
// record, whatever the stored account says. Use it for dates in odd layouts.
func WithUserField(username, key string, value any) Option {
	return func(s *Server) {
		a, ok := s.accounts[username]
		if !ok {
			return
		}
		if a.overrides == nil {
			a.overrides = map[string]any{}
		}
		a.overrides[key] = value
	}
}

// WithLegacyNetwork answers /network with the old "gateway" key.
func WithLegacyNetwork() Option {
	return func(s *Server) {
		s.network["gateway"] = s.network["default_gateway"]
		delete(s.network, "default_gateway")
	}
}

// New starts a server and registers its shutdown with t.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		log:      zerolog.Nop(),
		accounts: map[string]*account{},
		sessions: map[string]string{},
		calls:    map[string]int{},
		failures: map[string]*failure{},
		auth:     map[string][]string{},
		fs:       newMemFS(),
		samba:    defaultSamba(),
		network:  defaultNetwork(),
	}
	s.addAccount(AdminUser, AdminPassword, "admin@nas-os.local", "admin")
	WithTokens()(s)
	for _, o := range opts {
		o(s)
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) addAccount(username, password, email, role string) *account {
	s.nextID++
	a := &account{
		User:     User{ID: s.nextID, Username: username, Email: email, Role: role, Created: time.Now().UTC().Truncate(time.Second)},
		Password: password,
	}
	s.accounts[username] = a
	return a
}

// Fail makes the next `times` requests to method+path answer status with body.
// times <= 0 keeps failing until Clear.
func (s *Server) Fail(method, path string, status int, body string, times int) {
	s.mu.Lock()
	s.failures[method+" "+path] = &failure{status: status, body: body, times: times}
	s.mu.Unlock()
}

// Clear removes every injected failure.
func (s *Server) Clear() {
	s.mu.Lock()
	s.failures = map[string]*failure{}
	s.mu.Unlock()
}

// Calls returns how many times method+path was hit.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

// TotalCalls is the number of requests served so far.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// AuthHeaders returns the Authorization values sent to method+path.
func (s *Server) AuthHeaders(method, path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth[method+" "+path]...)
}

// Revoke ends a session server-side, as an expiry would.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// LiveSession reports whether token is still accepted.
func (s *Server) LiveSession(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[token]
	return ok
}

// File returns the content of a file uploaded to the fake share.
func (s *Server) File(path string) ([]byte, bool) {
	return s.fs.read(path)
}

// PutFile seeds the fake share.
func (s *Server) PutFile(path string, data []byte) {
	s.fs.write(path, data)
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog(&s.log))
	r.Use(s.record)
	r.Use(s.injectFailures)

	r.Get("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().Unix(), "service": "nas-os-backend"})
	})
	r.Post("/api/v1/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/api/v1/user", s.handleCurrentUser)
		r.Post("/api/v1/auth/logout", s.handleLogout)
		r.Get("/api/v1/system", s.handleSystem)

		r.Get("/api/v1/files", s.handleListFiles)
		r.Delete("/api/v1/files", s.handleDeleteFile)
		r.Post("/api/v1/files/upload", s.handleUpload)
		r.Get("/api/v1/files/download", s.handleDownload)
		r.Post("/api/v1/files/folder", s.handleFolder)

		r.Get("/api/v1/samba/config", s.handleSambaConfig)
		r.Get("/api/v1/samba/status", s.handleSambaStatus)
		r.Post("/api/v1/samba/start", s.handleSambaService(true))
		r.Post("/api/v1/samba/stop", s.handleSambaService(false))
		r.Post("/api/v1/samba/shares", s.handleCreateShare)
		r.Delete("/api/v1/samba/shares/{name}", s.handleDeleteShare)

		r.Get("/api/v1/users", s.handleListUsers)
		r.Post("/api/v1/users", s.handleCreateUser)
		r.Delete("/api/v1/users/{username}", s.handleDeleteUser)

		r.Get("/api/v1/network", s.handleNetwork)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.calls[key]++
		s.auth[key] = append(s.auth[key], r.Header.Get("Authorization"))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		f, ok := s.failures[key]
		if ok && f.times > 0 {
			f.times--
			if f.times == 0 {
				delete(s.failures, key)
			}
		}
		s.mu.Unlock()
		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if h == "" {
			writeError(w, http.StatusUnauthorized, "No token provided")
			return
		}
		token := strings.TrimPrefix(h, "Bearer ")
		s.mu.Lock()
		username, ok := s.sessions[token]
		var acc *account
		if ok {
			acc = s.accounts[username]
		}
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		if acc == nil {
			writeError(w, http.StatusUnauthorized, "User not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), acc, token)))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTP     string `json:"totp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[body.Username]
	if !ok || acc.Password != body.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if acc.TOTPSecret != "" && !totp.Validate(body.TOTP, acc.TOTPSecret) {
		writeError(w, http.StatusUnauthorized, "invalid totp code")
		return
	}
	token := s.newToken()
	s.sessions[token] = acc.User.Username
	now := time.Now().UTC().Truncate(time.Second)
	acc.User.LastLogin = &now
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": acc.wire()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	_, token := accountFrom(r.Context())
	s.Revoke(token)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	acc, _ := accountFrom(r.Context())
	s.mu.Lock()
	u := acc.wire()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cpu":    map[string]any{"usage": 12.5, "cores": 4, "model": "ARM Cortex-A72"},
		"memory": map[string]any{"total": 4 << 30, "used": 3 << 30, "available": 1 << 30, "percent": 75.0},
		"disk": []map[string]any{
			{"device": "/dev/sda1", "mountpoint": "/srv/data", "total": 1 << 40, "used": 900 << 30, "free": 124 << 30, "percent": 87.9},
		},
		"host":   map[string]any{"hostname": "nas", "os": "linux", "platform": "debian", "arch": "aarch64"},
		"uptime": 93784,
	})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make(map[string]any, len(s.network))
	for k, v := range s.network {
		out[k] = v
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func defaultNetwork() map[string]any {
	return map[string]any{
		"hostname":        "nas",
		"dns_servers":     []string{"192.168.1.1"},
		"default_gateway": "192.168.1.1",
		"interfaces": []map[string]any{
			{"name": "eth0", "ip": "192.168.1.20", "mac": "dc:a6:32:00:00:01", "status": "up", "type": "ethernet", "speed": "1000Mb/s", "rx_bytes": 123456, "tx_bytes": 654321},
			{"name": "wlan0", "ip": "", "mac": "dc:a6:32:00:00:02", "status": "down", "type": "wifi", "rx_bytes": 0, "tx_bytes": 0},
		},
	}
}
