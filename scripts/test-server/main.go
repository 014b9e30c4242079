// Command test-server is a small in-memory posts API to point load tests
// at while developing. It serves the endpoints used by
// scripts/test-server/posts.yaml.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type post struct {
	ID     int    `json:"id"`
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
}

type store struct {
	mu     sync.RWMutex
	nextID int
	posts  map[int]post
}

func newStore() *store {
	s := &store{nextID: 1, posts: make(map[int]post)}
	for i := 0; i < 10; i++ {
		s.create(post{UserID: 1, Title: "post " + strconv.Itoa(i+1)})
	}
	return s
}

func (s *store) create(p post) post {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	s.posts[p.ID] = p
	return p
}

func (s *store) list() []post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]post, 0, len(s.posts))
	for id := 1; id < s.nextID; id++ {
		if p, ok := s.posts[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *store) get(id int) (post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	return p, ok
}

func (s *store) remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.posts[id]
	delete(s.posts, id)
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func authorized(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func routes(s *store, latency time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		token := strconv.FormatInt(time.Now().UnixNano(), 36)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"token": token,
			"user":  map[string]int{"id": 1},
		})
	})

	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(latency)
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, s.list())
		case http.MethodPost:
			if !authorized(r) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var p post
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusCreated, s.create(p))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/posts/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(latency)
		id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/posts/"))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			p, ok := s.get(id)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, p)
		case http.MethodDelete:
			if !s.remove(id) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	return mux
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	latency := flag.Duration("latency", 0, "added latency per posts request")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	server := &http.Server{
		Addr:              *addr,
		Handler:           routes(newStore(), *latency),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	log.Info().Str("addr", *addr).Dur("latency", *latency).Msg("starting test server")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
