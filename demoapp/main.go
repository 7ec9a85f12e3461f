// Copyright 2025 The Deploykit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command demoapp is a small web application used to exercise deploykit.
// It stores items in SQLite and exposes health and readiness endpoints
// suitable for the HTTP health checks the supervisor performs.
//
// Configuration is via the environment:
//
//	APP_NAME     - application name reported by the API
//	DEBUG        - "true" unlocks the /env endpoint
//	DATABASE_URL - path to the SQLite database, default ./app.db
//	ADDR         - listen address, default :8000
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
)

const version = "1.0.0"

type server struct {
	name  string
	debug bool
	dburl string
	db    *sql.DB
}

type item struct {
	Id          int64    `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
}

func (s *server) writeJson(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJson(w, code, map[string]string{"detail": msg})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": s.name,
		"version": version,
	})
}

func (s *server) ready(w http.ResponseWriter, r *http.Request) {
	if e := s.db.PingContext(r.Context()); e != nil {
		s.writeError(w, http.StatusServiceUnavailable,
			"database connection failed: "+e.Error())
		return
	}
	s.writeJson(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"service":  s.name,
		"database": "connected",
	})
}

func (s *server) root(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, map[string]string{
		"message": "Welcome to " + s.name + "!",
	})
}

func (s *server) listItems(w http.ResponseWriter, r *http.Request) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, e := strconv.Atoi(r.URL.Query().Get("limit"))
	if e != nil || limit <= 0 {
		limit = 100
	}
	rows, e := s.db.QueryContext(r.Context(),
		"SELECT id, name, description, price, category FROM items "+
			"LIMIT ? OFFSET ?", limit, skip)
	if e != nil {
		s.writeError(w, http.StatusInternalServerError, e.Error())
		return
	}
	defer rows.Close()
	items := []*item{}
	for rows.Next() {
		i := &item{}
		if e = rows.Scan(&i.Id, &i.Name, &i.Description,
			&i.Price, &i.Category); e != nil {
			s.writeError(w, http.StatusInternalServerError,
				e.Error())
			return
		}
		items = append(items, i)
	}
	if e = rows.Err(); e != nil {
		s.writeError(w, http.StatusInternalServerError, e.Error())
		return
	}
	s.writeJson(w, http.StatusOK, items)
}

func (s *server) getItem(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	i := &item{}
	e := s.db.QueryRowContext(r.Context(),
		"SELECT id, name, description, price, category FROM items "+
			"WHERE id = ?", id).
		Scan(&i.Id, &i.Name, &i.Description, &i.Price, &i.Category)
	if e == sql.ErrNoRows {
		s.writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if e != nil {
		s.writeError(w, http.StatusInternalServerError, e.Error())
		return
	}
	s.writeJson(w, http.StatusOK, i)
}

func (s *server) decodeItem(w http.ResponseWriter, r *http.Request) *item {
	i := &item{}
	if e := json.NewDecoder(r.Body).Decode(i); e != nil {
		s.writeError(w, http.StatusBadRequest, e.Error())
		return nil
	}
	if i.Name == "" || i.Category == "" {
		s.writeError(w, http.StatusUnprocessableEntity,
			"name and category are required")
		return nil
	}
	return i
}

func (s *server) createItem(w http.ResponseWriter, r *http.Request) {
	i := s.decodeItem(w, r)
	if i == nil {
		return
	}
	res, e := s.db.ExecContext(r.Context(),
		"INSERT INTO items (name, description, price, category) "+
			"VALUES (?, ?, ?, ?)",
		i.Name, i.Description, i.Price, i.Category)
	if e != nil {
		s.writeError(w, http.StatusInternalServerError, e.Error())
		return
	}
	i.Id, _ = res.LastInsertId()
	s.writeJson(w, http.StatusCreated, i)
}

func (s *server) updateItem(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	i := s.decodeItem(w, r)
	if i == nil {
		return
	}
	res, e := s.db.ExecContext(r.Context(),
		"UPDATE items SET name = ?, description = ?, price = ?, "+
			"category = ? WHERE id = ?",
		i.Name, i.Description, i.Price, i.Category, id)
	if e != nil {
		s.writeError(w, http.StatusInternalServerError, e.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.writeError(w, http.StatusNotFound, "item not found")
		return
	}
	i.Id = id
	s.writeJson(w, http.StatusOK, i)
}

func (s *server) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	res, e := s.db.ExecContext(r.Context(),
		"DELETE FROM items WHERE id = ?", id)
	if e != nil {
		s.writeError(w, http.StatusInternalServerError, e.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.writeError(w, http.StatusNotFound, "item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) env(w http.ResponseWriter, r *http.Request) {
	if !s.debug {
		s.writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	s.writeJson(w, http.StatusOK, map[string]interface{}{
		"app_name":     s.name,
		"debug":        s.debug,
		"database_url": s.dburl,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
	})
}

func (s *server) info(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, map[string]string{
		"name":        s.name,
		"version":     version,
		"description": "Deployment demo application",
	})
}

// cors allows any origin; this is a demo, not a production posture.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT,
	price REAL NOT NULL DEFAULT 0,
	category TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS items_name ON items (name);
CREATE INDEX IF NOT EXISTS items_category ON items (category);
`

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/ready", s.ready).Methods("GET")
	r.HandleFunc("/", s.root).Methods("GET")
	r.HandleFunc("/items", s.listItems).Methods("GET")
	r.HandleFunc("/items", s.createItem).Methods("POST")
	r.HandleFunc("/items/{id:[0-9]+}", s.getItem).Methods("GET")
	r.HandleFunc("/items/{id:[0-9]+}", s.updateItem).Methods("PUT")
	r.HandleFunc("/items/{id:[0-9]+}", s.deleteItem).Methods("DELETE")
	r.HandleFunc("/env", s.env).Methods("GET")
	r.HandleFunc("/info", s.info).Methods("GET")
	return cors(r)
}

func main() {
	s := &server{
		name:  getenv("APP_NAME", "Deployment Demo"),
		debug: strings.EqualFold(os.Getenv("DEBUG"), "true"),
		dburl: getenv("DATABASE_URL", "./app.db"),
	}
	addr := getenv("ADDR", ":8000")

	db, e := sql.Open("sqlite3", s.dburl)
	if e != nil {
		slog.Error("failed to open database", "error", e)
		os.Exit(1)
	}
	if _, e = db.Exec(schema); e != nil {
		slog.Error("failed to create schema", "error", e)
		os.Exit(1)
	}
	s.db = db

	srv := &http.Server{Addr: addr, Handler: s.routes()}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("listening", "app", s.name, "addr", addr)
		if e := srv.ListenAndServe(); e != http.ErrServerClosed {
			slog.Error("server failed", "error", e)
			os.Exit(1)
		}
	}()

	<-sigs
	ctx, cancel := context.WithTimeout(context.Background(),
		10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	db.Close()
}
