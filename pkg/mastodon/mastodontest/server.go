// Package mastodontest provides an in-process fake Mastodon instance for
// tests. It serves verify_credentials, paged account statuses with Link
// headers, and status deletion, and can be told to fail specific calls.
package mastodontest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Fixture describes one status held by the fake server
type Fixture struct {
	ID          string
	CreatedAt   time.Time
	Content     string
	InReplyToID string
	Reblog      bool
}

// Server is a fake Mastodon instance
type Server struct {
	server *httptest.Server

	Token     string
	AccountID string

	mu          sync.Mutex
	statuses    []Fixture // newest first
	deleted     map[string]bool
	deleteFails map[string][]int
	listFails   []int
	verifyFail  int
	deleteCalls []string
	listCalls   int
	omitLink    bool
	retryAfter  string
}

// NewServer starts a fake instance accepting the given bearer token
func NewServer(token string) *Server {
	s := &Server{
		Token:       token,
		AccountID:   "109",
		deleted:     make(map[string]bool),
		deleteFails: make(map[string][]int),
		retryAfter:  "1",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/verify_credentials", s.handleVerify)
	mux.HandleFunc("/api/v1/accounts/", s.handleStatuses)
	mux.HandleFunc("/api/v1/statuses/", s.handleDelete)

	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the base URL of the fake instance
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the server down
func (s *Server) Close() {
	s.server.Close()
}

// AddStatuses appends fixtures. Callers add them newest first.
func (s *Server) AddStatuses(fixtures ...Fixture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, fixtures...)
}

// GenerateStatuses adds n statuses with descending ids, one hour apart,
// the newest created at newest.
func (s *Server) GenerateStatuses(n int, newest time.Time) {
	fixtures := make([]Fixture, n)
	for i := 0; i < n; i++ {
		fixtures[i] = Fixture{
			ID:        strconv.Itoa(100000 - i),
			CreatedAt: newest.Add(-time.Duration(i) * time.Hour),
			Content:   fmt.Sprintf("<p>status number %d</p>", i),
		}
	}
	s.AddStatuses(fixtures...)
}

// FailDelete makes the next deletes of id answer with the given codes in order
func (s *Server) FailDelete(id string, codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFails[id] = append(s.deleteFails[id], codes...)
}

// FailList makes the next list requests answer with the given codes in order
func (s *Server) FailList(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFails = append(s.listFails, codes...)
}

// FailVerify makes verify_credentials answer with code
func (s *Server) FailVerify(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyFail = code
}

// OmitLinkHeader stops the server from sending Link headers
func (s *Server) OmitLinkHeader() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitLink = true
}

// SetRetryAfter sets the Retry-After value sent with 429 responses
func (s *Server) SetRetryAfter(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryAfter = v
}

// DeleteCalls returns every status id a DELETE was received for, in order
func (s *Server) DeleteCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleteCalls...)
}

// ListCalls returns how many list requests were served
func (s *Server) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// Remaining returns how many statuses have not been deleted
func (s *Server) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.statuses) - len(s.deleted)
}

// IsDeleted reports whether id was deleted
func (s *Server) IsDeleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[id]
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+s.Token {
		writeError(w, http.StatusUnauthorized, "The access token is invalid")
		return false
	}
	return true
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	s.mu.Lock()
	code := s.verifyFail
	s.mu.Unlock()
	if code != 0 {
		writeError(w, code, http.StatusText(code))
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":             s.AccountID,
		"username":       "tester",
		"acct":           "tester",
		"statuses_count": s.Remaining(),
	})
}

func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/")
	accountID, tail, _ := strings.Cut(rest, "/")
	if tail != "statuses" || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}
	if !s.authorized(w, r) {
		return
	}
	if accountID != s.AccountID {
		writeError(w, http.StatusNotFound, "Record not found")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++

	if len(s.listFails) > 0 {
		code := s.listFails[0]
		s.listFails = s.listFails[1:]
		if code == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", s.retryAfter)
		}
		writeError(w, code, http.StatusText(code))
		return
	}

	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > 40 {
		limit = 40
	}

	start := 0
	if maxID := r.URL.Query().Get("max_id"); maxID != "" {
		start = len(s.statuses)
		for i, st := range s.statuses {
			if st.ID == maxID {
				start = i + 1
				break
			}
		}
	}

	page := make([]map[string]interface{}, 0, limit)
	last := ""
	for i := start; i < len(s.statuses) && len(page) < limit; i++ {
		st := s.statuses[i]
		last = st.ID
		if s.deleted[st.ID] {
			continue
		}
		page = append(page, render(st))
	}

	if len(page) > 0 && !s.omitLink {
		next := fmt.Sprintf("%s/api/v1/accounts/%s/statuses?limit=%d&max_id=%s", s.server.URL, accountID, limit, last)
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next))
	}
	writeJSON(w, page)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.authorized(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/statuses/")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, id)

	if codes := s.deleteFails[id]; len(codes) > 0 {
		code := codes[0]
		s.deleteFails[id] = codes[1:]
		if code == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", s.retryAfter)
			writeError(w, code, "Too many requests")
			return
		}
		writeError(w, code, http.StatusText(code))
		return
	}

	for _, st := range s.statuses {
		if st.ID == id && !s.deleted[id] {
			s.deleted[id] = true
			writeJSON(w, render(st))
			return
		}
	}
	writeError(w, http.StatusNotFound, "Record not found")
}

func render(st Fixture) map[string]interface{} {
	var inReplyTo interface{}
	if st.InReplyToID != "" {
		inReplyTo = st.InReplyToID
	}
	var reblog interface{}
	if st.Reblog {
		reblog = map[string]interface{}{
			"id":         "r" + st.ID,
			"created_at": st.CreatedAt.UTC().Format(time.RFC3339Nano),
			"content":    st.Content,
		}
	}
	return map[string]interface{}{
		"id":             st.ID,
		"created_at":     st.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		"content":        st.Content,
		"visibility":     "public",
		"url":            "https://example.social/@tester/" + st.ID,
		"in_reply_to_id": inReplyTo,
		"reblog":         reblog,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
