// Package baastest runs an in-process stand-in for the backend-as-a-service
// used by tests: a small slice of the auth, table, storage, and function
// endpoints backed by in-memory state. It exists so the rest of the engine
// can be exercised over real HTTP without a project to talk to.
package baastest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Row is one record in a fake table.
type Row map[string]any

// User is a registered identity in the fake auth service.
type User struct {
	ID       string
	Email    string
	Password string
	Metadata map[string]string
}

// Server is the fake backend. All fields are guarded by mu; handlers and
// test bodies may touch state concurrently.
type Server struct {
	mu sync.Mutex

	users    map[string]*User // by email
	sessions map[string]*User // by access token
	refresh  map[string]*User // by refresh token
	tables   map[string][]Row
	objects  map[string][]byte // bucket/path -> content
	fns      map[string]http.HandlerFunc

	// Requests counts calls per "METHOD path" for assertions on call volume.
	requests map[string]int

	tableHook func(w http.ResponseWriter, r *http.Request) bool

	httpServer *httptest.Server
}

// New starts the fake backend.
func New() *Server {
	s := &Server{
		users:    make(map[string]*User),
		sessions: make(map[string]*User),
		refresh:  make(map[string]*User),
		tables:   make(map[string][]Row),
		objects:  make(map[string][]byte),
		fns:      make(map[string]http.HandlerFunc),
		requests: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(s.countRequests)

	r.Post("/auth/v1/signup", s.handleSignup)
	r.Post("/auth/v1/token", s.handleToken)
	r.Get("/auth/v1/user", s.handleGetUser)
	r.Put("/auth/v1/user", s.handleUpdateUser)
	r.Post("/auth/v1/logout", s.handleLogout)

	r.Get("/rest/v1/{table}", s.handleSelect)
	r.Post("/rest/v1/{table}", s.handleInsert)
	r.Patch("/rest/v1/{table}", s.handleUpdate)
	r.Delete("/rest/v1/{table}", s.handleDelete)

	r.Post("/storage/v1/object/{bucket}/*", s.handleUpload)

	r.Post("/functions/v1/{name}", s.handleFunction)

	s.httpServer = httptest.NewServer(r)
	return s
}

// URL returns the fake backend's base URL.
func (s *Server) URL() string { return s.httpServer.URL }

// Close shuts the server down.
func (s *Server) Close() { s.httpServer.Close() }

// AddUser registers an identity and returns it.
func (s *Server) AddUser(email, password string, metadata map[string]string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{ID: uuid.NewString(), Email: email, Password: password, Metadata: metadata}
	s.users[email] = u
	return u
}

// SeedRows replaces a table's contents.
func (s *Server) SeedRows(table string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append([]Row(nil), rows...)
}

// Rows returns a copy of a table's contents.
func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.tables[table]...)
}

// Object returns an uploaded object's content.
func (s *Server) Object(bucket, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[bucket+"/"+path]
	return b, ok
}

// HandleFunction installs a handler for an edge function by name.
func (s *Server) HandleFunction(name string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns[name] = h
}

// SetTableHook installs an interceptor that runs before every table
// handler. Returning true means the hook wrote the response; tests use this
// to inject failures and stalls.
func (s *Server) SetTableHook(h func(w http.ResponseWriter, r *http.Request) bool) {
	s.mu.Lock()
	s.tableHook = h
	s.mu.Unlock()
}

func (s *Server) hookIntercepts(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	h := s.tableHook
	s.mu.Unlock()
	return h != nil && h(w, r)
}

// RequestCount returns how many times "METHOD path" was called.
func (s *Server) RequestCount(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

// UserForToken resolves the identity behind an access token, if any.
func (s *Server) UserForToken(token string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.sessions[token]
	return u, ok
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func authError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"msg": msg})
}

func (s *Server) issueSession(u *User) map[string]any {
	access := "at-" + uuid.NewString()
	ref := "rt-" + uuid.NewString()
	s.sessions[access] = u
	s.refresh[ref] = u
	return map[string]any{
		"access_token":  access,
		"refresh_token": ref,
		"expires_in":    3600,
		"user": map[string]any{
			"id":            u.ID,
			"email":         u.Email,
			"user_metadata": u.Metadata,
		},
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string            `json:"email"`
		Password string            `json:"password"`
		Data     map[string]string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		authError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[body.Email]; exists {
		authError(w, http.StatusUnprocessableEntity, "User already registered")
		return
	}
	u := &User{ID: uuid.NewString(), Email: body.Email, Password: body.Password, Metadata: body.Data}
	s.users[body.Email] = u
	writeJSON(w, http.StatusOK, s.issueSession(u))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	grant := r.URL.Query().Get("grant_type")

	s.mu.Lock()
	defer s.mu.Unlock()

	switch grant {
	case "password":
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			authError(w, http.StatusBadRequest, "invalid body")
			return
		}
		u, ok := s.users[body.Email]
		if !ok || u.Password != body.Password {
			authError(w, http.StatusBadRequest, "Invalid login credentials")
			return
		}
		writeJSON(w, http.StatusOK, s.issueSession(u))
	case "refresh_token":
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			authError(w, http.StatusBadRequest, "invalid body")
			return
		}
		u, ok := s.refresh[body.RefreshToken]
		if !ok {
			authError(w, http.StatusBadRequest, "Invalid Refresh Token")
			return
		}
		delete(s.refresh, body.RefreshToken)
		writeJSON(w, http.StatusOK, s.issueSession(u))
	default:
		authError(w, http.StatusBadRequest, "unsupported grant_type")
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.sessions[bearerToken(r)]
	if !ok {
		authError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"user_metadata": u.Metadata,
	})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		authError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.sessions[bearerToken(r)]
	if !ok {
		authError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	if body.Password != "" {
		u.Password = body.Password
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"user_metadata": u.Metadata,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

// rowFilter is a parsed "column=eq.value" query parameter.
type rowFilter struct {
	column string
	value  string
}

func parseFilters(r *http.Request) []rowFilter {
	var filters []rowFilter
	for k, vs := range r.URL.Query() {
		switch k {
		case "select", "order", "limit":
			continue
		}
		for _, v := range vs {
			if val, ok := strings.CutPrefix(v, "eq."); ok {
				filters = append(filters, rowFilter{column: k, value: val})
			}
		}
	}
	return filters
}

func matches(row Row, filters []rowFilter) bool {
	for _, f := range filters {
		if fmt.Sprintf("%v", row[f.column]) != f.value {
			return false
		}
	}
	return true
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if s.hookIntercepts(w, r) {
		return
	}
	table := chi.URLParam(r, "table")
	filters := parseFilters(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Row{}
	for _, row := range s.tables[table] {
		if matches(row, filters) {
			out = append(out, row)
		}
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n < len(out) {
			out = out[:n]
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	if s.hookIntercepts(w, r) {
		return
	}
	table := chi.URLParam(r, "table")

	var rows []Row
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if _, ok := row["id"]; !ok {
			row["id"] = uuid.NewString()
		}
		s.tables[table] = append(s.tables[table], row)
	}
	writeJSON(w, http.StatusCreated, rows)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.hookIntercepts(w, r) {
		return
	}
	table := chi.URLParam(r, "table")
	filters := parseFilters(r)

	var patch Row
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := []Row{}
	for _, row := range s.tables[table] {
		if !matches(row, filters) {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		updated = append(updated, row)
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.hookIntercepts(w, r) {
		return
	}
	table := chi.URLParam(r, "table")
	filters := parseFilters(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tables[table][:0]
	for _, row := range s.tables[table] {
		if !matches(row, filters) {
			kept = append(kept, row)
		}
	}
	s.tables[table] = kept
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	path := chi.URLParam(r, "*")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "read body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+path] = data
	writeJSON(w, http.StatusOK, map[string]string{"Key": bucket + "/" + path})
}

func (s *Server) handleFunction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	h, ok := s.fns[name]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "function not found"})
		return
	}
	h(w, r)
}
