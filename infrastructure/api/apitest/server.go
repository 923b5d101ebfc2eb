// Package apitest provides an in-process fake of the community REST API
// for client and end-to-end tests.
package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// ListShape selects how a resource's list endpoint wraps its items
type ListShape string

const (
	ShapeItems ListShape = "items" // {items, total}
	ShapeData  ListShape = "data"  // {data, total, currentPage}
	ShapeArray ListShape = "array" // bare array, no total
)

// RecordedRequest is one request the server received
type RecordedRequest struct {
	Method         string
	Path           string
	Query          string
	Authorization  string
	IdempotencyKey string
	Body           map[string]interface{}
}

type like struct {
	ID         int64
	TargetType string
	TargetID   int64
	Viewer     string
	IsLike     bool
}

type failure struct {
	status int
	times  int
}

// Server is a fake remote API. Resources are kept as wire objects; library
// items carry parentNoteId and get their children embedded on GET.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	items    map[string]map[int64]map[string]interface{}
	shapes   map[string]ListShape
	likes    map[int64]*like
	tokens   map[string]string
	failures map[string]*failure
	requests []RecordedRequest
	nextID   int64
	nextLike int64
}

// NewServer starts a fake API that is closed when the test ends
func NewServer(t testing.TB) *Server {
	s := &Server{
		items: map[string]map[int64]map[string]interface{}{
			"library":      {},
			"publications": {},
			"users":        {},
		},
		shapes: map[string]ListShape{
			"library":      ShapeData,
			"publications": ShapeArray,
			"users":        ShapeItems,
		},
		likes:    make(map[int64]*like),
		tokens:   make(map[string]string),
		failures: make(map[string]*failure),
		nextID:   1000,
		nextLike: 1,
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.record)
	router.Use(s.injectFailures)

	router.HandleFunc("/likes", s.createLike).Methods("POST")
	router.HandleFunc("/likes/{type}/{id}/count", s.countLikes).Methods("GET")
	router.HandleFunc("/likes/{type}/{id}/user-like", s.userLike).Methods("GET")
	router.HandleFunc("/likes/{id}", s.deleteLike).Methods("DELETE")

	router.HandleFunc("/{resource}", s.list).Methods("GET")
	router.HandleFunc("/{resource}", s.create).Methods("POST")
	router.HandleFunc("/{resource}/{id}", s.get).Methods("GET")
	router.HandleFunc("/{resource}/{id}", s.update).Methods("PATCH")
	router.HandleFunc("/{resource}/{id}", s.remove).Methods("DELETE")
	return router
}

// AddToken makes token authenticate viewer
func (s *Server) AddToken(token, viewer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = viewer
}

// RevokeToken makes token answer 401
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// SetListShape changes the list envelope of a resource
func (s *Server) SetListShape(resource string, shape ListShape) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shapes[resource] = shape
}

// Put stores a raw wire object, replacing any item with the same id
func (s *Server) Put(resource string, item map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := toInt64(item["id"])
	copied := make(map[string]interface{}, len(item))
	for k, v := range item {
		copied[k] = v
	}
	copied["id"] = id
	s.items[resource][id] = copied
}

// PutNote stores a library note
func (s *Server) PutNote(id int64, title string, parent *int64) {
	item := map[string]interface{}{"id": id, "title": title, "visibility": "GENERAL"}
	if parent != nil {
		item["parentNoteId"] = *parent
	} else {
		item["parentNoteId"] = nil
	}
	s.Put("library", item)
}

// PutLike stores a reaction of viewer on a target and returns its id
func (s *Server) PutLike(targetType string, targetID int64, viewer string, isLike bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLikeLocked(strings.ToUpper(targetType), targetID, viewer, isLike)
}

// Item returns a copy of a stored wire object
func (s *Server) Item(resource string, id int64) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[resource][id]
	if !ok {
		return nil, false
	}
	copied := make(map[string]interface{}, len(item))
	for k, v := range item {
		copied[k] = v
	}
	return copied, true
}

// FailNext makes the next times requests matching method and path prefix
// answer status.
func (s *Server) FailNext(method, pathPrefix string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+pathPrefix] = &failure{status: status, times: times}
}

// Requests returns every request received so far
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// RequestsTo counts requests with the given method and path
func (s *Server) RequestsTo(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := RecordedRequest{
			Method:         r.Method,
			Path:           r.URL.Path,
			Query:          r.URL.RawQuery,
			Authorization:  r.Header.Get("Authorization"),
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		}
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPatch) {
			var body map[string]interface{}
			dec := json.NewDecoder(r.Body)
			dec.UseNumber()
			if err := dec.Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json")
				return
			}
			rec.Body = body
			r = r.WithContext(withBody(r.Context(), body))
		}
		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var status int
		for key, f := range s.failures {
			method, prefix, _ := strings.Cut(key, " ")
			if method == r.Method && strings.HasPrefix(r.URL.Path, prefix) && f.times > 0 {
				f.times--
				status = f.status
				break
			}
		}
		s.mu.Unlock()
		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// viewer resolves the bearer token. ok is false when a token was sent but
// is not valid.
func (s *Server) viewer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", true
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	viewer, ok := s.tokens[token]
	return viewer, ok
}

// authorize writes 401 and returns false for invalid tokens, and for
// anonymous callers when required is set.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, required bool) (string, bool) {
	viewer, ok := s.viewer(r)
	if !ok || (required && viewer == "") {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return viewer, true
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, false); !ok {
		return
	}
	resource := mux.Vars(r)["resource"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	search := strings.ToLower(r.URL.Query().Get("search"))

	s.mu.Lock()
	store, known := s.items[resource]
	if !known {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown resource")
		return
	}
	var matched []map[string]interface{}
	for _, id := range sortedIDs(store) {
		item := store[id]
		// Library lists show root notes only.
		if resource == "library" && item["parentNoteId"] != nil {
			continue
		}
		if search != "" {
			title, _ := item["title"].(string)
			if !strings.Contains(strings.ToLower(title), search) {
				continue
			}
		}
		matched = append(matched, item)
	}
	shape := s.shapes[resource]
	s.mu.Unlock()

	total := len(matched)
	page := []map[string]interface{}{}
	if offset < total {
		end := total
		if limit > 0 && offset+limit < total {
			end = offset + limit
		}
		page = matched[offset:end]
	}

	switch shape {
	case ShapeArray:
		writeJSON(w, http.StatusOK, page)
	case ShapeData:
		current := 1
		if limit > 0 {
			current = offset/limit + 1
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": page, "total": total, "currentPage": current})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": page, "total": total})
	}
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, false); !ok {
		return
	}
	resource, id := mux.Vars(r)["resource"], pathID(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[resource][id]
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	out := make(map[string]interface{}, len(item)+1)
	for k, v := range item {
		out[k] = v
	}
	if resource == "library" {
		children := []map[string]interface{}{}
		for _, cid := range sortedIDs(s.items[resource]) {
			child := s.items[resource][cid]
			if child["parentNoteId"] != nil && toInt64(child["parentNoteId"]) == id {
				children = append(children, child)
			}
		}
		out["children"] = children
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	resource := mux.Vars(r)["resource"]
	body := bodyFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	store, known := s.items[resource]
	if !known {
		writeError(w, http.StatusNotFound, "unknown resource")
		return
	}
	if resource == "library" {
		if p, ok := body["parentNoteId"]; ok && p != nil {
			if _, exists := store[toInt64(p)]; !exists {
				writeError(w, http.StatusBadRequest, "parent not found")
				return
			}
		}
	}
	s.nextID++
	item := normalize(body)
	item["id"] = s.nextID
	if resource == "library" {
		if _, ok := item["parentNoteId"]; !ok {
			item["parentNoteId"] = nil
		}
	}
	store[s.nextID] = item
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	resource, id := mux.Vars(r)["resource"], pathID(r, "id")
	body := bodyFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[resource][id]
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	for k, v := range normalize(body) {
		if k == "id" {
			continue
		}
		item[k] = v
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, true); !ok {
		return
	}
	resource, id := mux.Vars(r)["resource"], pathID(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[resource][id]; !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if resource == "library" {
		for _, child := range s.items[resource] {
			if child["parentNoteId"] != nil && toInt64(child["parentNoteId"]) == id {
				writeError(w, http.StatusConflict, "note has children")
				return
			}
		}
	}
	delete(s.items[resource], id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createLike(w http.ResponseWriter, r *http.Request) {
	viewer, ok := s.authorize(w, r, true)
	if !ok {
		return
	}
	body := bodyFrom(r.Context())
	targetType, _ := body["targetType"].(string)
	isLike, _ := body["isLike"].(bool)
	targetID := toInt64(body["targetId"])

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[resourceOf(targetType)][targetID]; !exists {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	for id, l := range s.likes {
		if l.Viewer == viewer && l.TargetType == targetType && l.TargetID == targetID {
			delete(s.likes, id)
		}
	}
	id := s.putLikeLocked(targetType, targetID, viewer, isLike)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "isLike": isLike})
}

func (s *Server) countLikes(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, false); !ok {
		return
	}
	targetType, targetID := strings.ToUpper(mux.Vars(r)["type"]), pathID(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	likes, dislikes := 0, 0
	for _, l := range s.likes {
		if l.TargetType != targetType || l.TargetID != targetID {
			continue
		}
		if l.IsLike {
			likes++
		} else {
			dislikes++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"likes": likes, "dislikes": dislikes})
}

func (s *Server) userLike(w http.ResponseWriter, r *http.Request) {
	viewer, ok := s.authorize(w, r, false)
	if !ok {
		return
	}
	targetType, targetID := strings.ToUpper(mux.Vars(r)["type"]), pathID(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.likes {
		if viewer != "" && l.Viewer == viewer && l.TargetType == targetType && l.TargetID == targetID {
			writeJSON(w, http.StatusOK, map[string]interface{}{"id": l.ID, "isLike": l.IsLike})
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) deleteLike(w http.ResponseWriter, r *http.Request) {
	viewer, ok := s.authorize(w, r, true)
	if !ok {
		return
	}
	id := pathID(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	l, exists := s.likes[id]
	if !exists {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if l.Viewer != viewer {
		writeError(w, http.StatusForbidden, "not your reaction")
		return
	}
	delete(s.likes, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) putLikeLocked(targetType string, targetID int64, viewer string, isLike bool) int64 {
	id := s.nextLike
	s.nextLike++
	s.likes[id] = &like{ID: id, TargetType: targetType, TargetID: targetID, Viewer: viewer, IsLike: isLike}
	return id
}

func resourceOf(targetType string) string {
	if targetType == "LIBRARY" {
		return "library"
	}
	return "publications"
}

func sortedIDs(store map[int64]map[string]interface{}) []int64 {
	ids := make([]int64, 0, len(store))
	for id := range store {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

// normalize converts json.Number values so stored items encode as plain numbers.
func normalize(body map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(body))
	for k, v := range body {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				out[k] = i
				continue
			}
			f, _ := n.Float64()
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

type bodyKey struct{}

func withBody(ctx context.Context, body map[string]interface{}) context.Context {
	return context.WithValue(ctx, bodyKey{}, body)
}

func bodyFrom(ctx context.Context) map[string]interface{} {
	body, _ := ctx.Value(bodyKey{}).(map[string]interface{})
	if body == nil {
		body = map[string]interface{}{}
	}
	return body
}
