package nastest

import (
	"encoding/json"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

type memEntry struct {
	data []byte
	dir  bool
	mod  time.Time
}

// memFS is a flat map of cleaned slash paths; "/" always exists.
type memFS struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

func newMemFS() *memFS {
	return &memFS{entries: map[string]*memEntry{"/": {dir: true, mod: time.Now()}}}
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

func (m *memFS) mkdirAll(p string) {
	for p != "/" {
		if _, ok := m.entries[p]; !ok {
			m.entries[p] = &memEntry{dir: true, mod: time.Now()}
		}
		p = path.Dir(p)
	}
}

func (m *memFS) write(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = cleanPath(p)
	m.mkdirAll(path.Dir(p))
	m.entries[p] = &memEntry{data: append([]byte(nil), data...), mod: time.Now()}
}

func (m *memFS) read(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cleanPath(p)]
	if !ok || e.dir {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

type fileInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"isDir"`
	ModTime  time.Time `json:"modTime"`
	MimeType string    `json:"mimeType,omitempty"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	dir := cleanPath(r.URL.Query().Get("path"))
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	e, ok := s.fs.entries[dir]
	if !ok || !e.dir {
		writeTypedError(w, http.StatusNotFound, "files.not_found", "directory not found")
		return
	}
	files := []fileInfo{}
	var total int64
	for p, e := range s.fs.entries {
		if p == dir || path.Dir(p) != dir {
			continue
		}
		fi := fileInfo{Name: path.Base(p), Path: p, Size: int64(len(e.data)), IsDir: e.dir, ModTime: e.mod}
		if !e.dir {
			fi.MimeType = "application/octet-stream"
			total += fi.Size
		}
		files = append(files, fi)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].IsDir != files[j].IsDir {
			return files[i].IsDir
		}
		return files[i].Name < files[j].Name
	})
	writeJSON(w, http.StatusOK, map[string]any{"currentPath": dir, "files": files, "totalSize": total})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeTypedError(w, http.StatusBadRequest, "files.bad_upload", "invalid multipart form")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeTypedError(w, http.StatusBadRequest, "files.bad_upload", "missing file field")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeTypedError(w, http.StatusBadRequest, "files.bad_upload", "read upload")
		return
	}
	dest := cleanPath(path.Join(cleanPath(r.URL.Query().Get("path")), path.Base(hdr.Filename)))
	s.fs.write(dest, data)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "File uploaded successfully", "filename": path.Base(hdr.Filename), "size": len(data), "path": dest,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	data, ok := s.fs.read(p)
	if !ok {
		writeTypedError(w, http.StatusNotFound, "files.not_found", "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(cleanPath(p))+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	p := cleanPath(r.URL.Query().Get("path"))
	if p == "/" {
		writeTypedError(w, http.StatusBadRequest, "files.root", "cannot delete the share root")
		return
	}
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	if _, ok := s.fs.entries[p]; !ok {
		writeTypedError(w, http.StatusNotFound, "files.not_found", "file not found")
		return
	}
	for k := range s.fs.entries {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(s.fs.entries, k)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted successfully"})
}

func (s *Server) handleFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" || strings.Contains(body.Name, "/") {
		writeTypedError(w, http.StatusBadRequest, "files.bad_name", "invalid folder name")
		return
	}
	p := cleanPath(path.Join(cleanPath(body.Path), body.Name))
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	if _, ok := s.fs.entries[p]; ok {
		writeTypedError(w, http.StatusConflict, "files.exists", "folder already exists")
		return
	}
	s.fs.mkdirAll(p)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Folder created successfully", "path": p})
}

type share struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Comment    string   `json:"comment"`
	ReadOnly   bool     `json:"readonly"`
	Browseable bool     `json:"browseable"`
	GuestOK    bool     `json:"guest_ok"`
	ValidUsers []string `json:"valid_users"`
}

type sambaState struct {
	Workgroup    string
	ServerString string
	Shares       []share
	Running      bool
}

func defaultSamba() sambaState {
	return sambaState{
		Workgroup:    "WORKGROUP",
		ServerString: "NAS OS Samba Server",
		Shares: []share{
			{Name: "public", Path: "/srv/data/public", Comment: "Public share", Browseable: true, GuestOK: true, ValidUsers: []string{}},
		},
		Running: true,
	}
}

func (s *Server) handleSambaConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := map[string]any{
		"workgroup":     s.samba.Workgroup,
		"server_string": s.samba.ServerString,
		"shares":        append([]share{}, s.samba.Shares...),
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSambaStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := map[string]any{"installed": true, "running": s.samba.Running, "version": "4.17.12", "shares": len(s.samba.Shares)}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSambaService(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.samba.Running = start
		s.mu.Unlock()
		status, msg := "stopped", "Samba service stopped"
		if start {
			status, msg = "running", "Samba service started"
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": msg, "status": status})
	}
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var sh share
	if err := json.NewDecoder(r.Body).Decode(&sh); err != nil || sh.Name == "" || sh.Path == "" {
		writeTypedError(w, http.StatusBadRequest, "samba.invalid", "name and path are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.samba.Shares {
		if existing.Name == sh.Name {
			writeTypedError(w, http.StatusConflict, "samba.exists", "share already exists")
			return
		}
	}
	s.samba.Shares = append(s.samba.Shares, sh)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Share created successfully"})
}

func (s *Server) handleDeleteShare(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sh := range s.samba.Shares {
		if sh.Name == name {
			s.samba.Shares = append(s.samba.Shares[:i], s.samba.Shares[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "Share deleted successfully"})
			return
		}
	}
	writeTypedError(w, http.StatusNotFound, "samba.not_found", "share not found")
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	accs := make([]*account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accs = append(accs, a)
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].User.ID < accs[j].User.ID })
	users := make([]map[string]any, 0, len(accs))
	for _, a := range accs {
		users = append(users, a.wire())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (*account, bool) {
	acc, _ := accountFrom(r.Context())
	if acc == nil || acc.User.Role != "admin" {
		writeTypedError(w, http.StatusForbidden, "", "admin access required")
		return nil, false
	}
	return acc, true
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeTypedError(w, http.StatusBadRequest, "users.invalid", "username and password are required")
		return
	}
	if body.Role == "" {
		body.Role = "user"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[body.Username]; exists {
		writeTypedError(w, http.StatusConflict, "users.exists", "user already exists")
		return
	}
	acc := s.addAccount(body.Username, body.Password, body.Email, body.Role)
	writeJSON(w, http.StatusCreated, map[string]any{"user": acc.wire()})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	me, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "username")
	if name == me.User.Username {
		writeTypedError(w, http.StatusBadRequest, "users.self", "cannot delete the current user")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[name]; !exists {
		writeTypedError(w, http.StatusNotFound, "users.not_found", "user not found")
		return
	}
	delete(s.accounts, name)
	for tok, u := range s.sessions {
		if u == name {
			delete(s.sessions, tok)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}
