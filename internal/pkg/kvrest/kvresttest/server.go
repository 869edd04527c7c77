// Package kvresttest runs an in-memory REST key-value server for tests.
package kvresttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/kvrest"
)

const Token = "test-token"

// Server implements the subset of commands the account store uses.
// KEYS and SCAN are rejected, like the hosted stores this stands in for.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	data     map[string]string
	failNext int
	failCmd  map[string]int
	dropCmd  map[string]int
	calls    map[string]int
}

func NewServer() *Server {
	s := &Server{
		data:    make(map[string]string),
		failCmd: make(map[string]int),
		dropCmd: make(map[string]int),
		calls:   make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Client returns a kvrest client pointed at this server.
func (s *Server) Client() *kvrest.Client {
	c := kvrest.NewClient(s.URL, Token, 0)
	c.HTTPClient = s.Server.Client()
	return c
}

// FailNext makes the next n requests answer 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// FailCommand makes the next n requests for cmd answer 503.
func (s *Server) FailCommand(cmd string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCmd[strings.ToUpper(cmd)] = n
}

// DropReply makes the next n requests for cmd take effect but answer 503,
// as if the reply was lost on the way back.
func (s *Server) DropReply(cmd string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropCmd[strings.ToUpper(cmd)] = n
}

// Calls counts requests per command, including ones answered with a failure.
func (s *Server) Calls(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[strings.ToUpper(cmd)]
}

func (s *Server) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Server) SetValue(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *Server) DeleteValue(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+Token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	var args []string
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || len(args) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid command"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := strings.ToUpper(args[0])
	s.calls[cmd]++

	if s.failNext > 0 {
		s.failNext--
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.failCmd[cmd] > 0 {
		s.failCmd[cmd]--
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.dropCmd[cmd] > 0 {
		s.dropCmd[cmd]--
		s.exec(httptest.NewRecorder(), cmd, args)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	s.exec(w, cmd, args)
}

func (s *Server) exec(w http.ResponseWriter, cmd string, args []string) {
	switch cmd {
	case "PING":
		writeResult(w, "PONG")
	case "GET":
		if len(args) != 2 {
			writeError(w, "wrong number of arguments for GET")
			return
		}
		if v, ok := s.data[args[1]]; ok {
			writeResult(w, v)
			return
		}
		writeResult(w, nil)
	case "MGET":
		out := make([]*string, 0, len(args)-1)
		for _, k := range args[1:] {
			if v, ok := s.data[k]; ok {
				v := v
				out = append(out, &v)
			} else {
				out = append(out, nil)
			}
		}
		writeResult(w, out)
	case "SET":
		if len(args) != 3 {
			writeError(w, "wrong number of arguments for SET")
			return
		}
		s.data[args[1]] = args[2]
		writeResult(w, "OK")
	case "DEL":
		var n int64
		for _, k := range args[1:] {
			if _, ok := s.data[k]; ok {
				delete(s.data, k)
				n++
			}
		}
		writeResult(w, n)
	case "EVAL":
		if len(args) != 6 || args[1] != kvrest.CompareAndSetScript || args[2] != "1" {
			writeError(w, "unsupported script")
			return
		}
		key, prev, next := args[3], args[4], args[5]
		cur, ok := s.data[key]
		if (!ok && prev == "") || (ok && cur == prev) {
			s.data[key] = next
			writeResult(w, 1)
			return
		}
		writeResult(w, 0)
	default:
		writeError(w, "command not allowed: "+cmd)
	}
}

func writeResult(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, map[string]any{"result": v})
}

func writeError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
