// Package transfer serves the documents directory over HTTP(S) so text
// can be pulled off the device without cables. The editor toggles the
// server on and off; while active it lists documents, serves single
// files and bundles everything into one zip.
package transfer

import (
	"archive/zip"
	"crypto/tls"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"etyper/internal/document"
	"etyper/internal/log"
)

// Service is the collaborator contract the editor loop drives. Calls
// are fire-and-forget: a failed Start leaves the service inactive and
// the editor keeps running.
type Service interface {
	Start() error
	Stop() error
	IsActive() bool
}

// Server implements Service over a document store.
type Server struct {
	store  *document.Store
	listen string
	useTLS bool

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewServer builds an inactive server. With useTLS a self-signed
// certificate is created (and persisted) under the docs dir on the
// first start.
func NewServer(store *document.Store, listen string, useTLS bool) *Server {
	return &Server{store: store, listen: listen, useTLS: useTLS}
}

// Start binds the listener and begins serving. Starting an active
// server is an error.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return fmt.Errorf("transfer: already active")
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("transfer: listen %s: %w", s.listen, err)
	}
	if s.useTLS {
		cert, err := ensureCertificate(filepath.Join(s.store.Dir(), ".ssl"))
		if err != nil {
			ln.Close()
			return err
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.ln = ln
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("transfer server stopped", err)
		}
	}()
	log.Info("transfer server started", "listen", ln.Addr().String(), "tls", s.useTLS)
	return nil
}

// Stop closes the listener and all connections. Stopping an inactive
// server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	err := s.srv.Close()
	s.srv = nil
	s.ln = nil
	log.Info("transfer server stopped")
	return err
}

// IsActive reports whether the server is serving.
func (s *Server) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Addr returns the bound address while active, for the on-screen hint.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>etyper documents</title></head><body>
<h1>Documents</h1>
<p><a href="/download-all">Download everything (zip)</a></p>
<ul>
{{range .}}<li><a href="/dl/{{.}}">{{.}}</a></li>
{{end}}</ul>
</body></html>
`))

// Handler returns the HTTP routes. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /dl/{name}", s.handleDownload)
	mux.HandleFunc("GET /download-all", s.handleDownloadAll)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List()
	if err != nil {
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, names); err != nil {
		log.Error("render index", err)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.known(name) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	http.ServeFile(w, r, filepath.Join(s.store.Dir(), name))
}

func (s *Server) handleDownloadAll(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List()
	if err != nil {
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=documents.zip")

	zw := zip.NewWriter(w)
	defer zw.Close()
	for _, name := range names {
		f, err := os.Open(filepath.Join(s.store.Dir(), name))
		if err != nil {
			log.Error("zip entry open", err, "name", name)
			continue
		}
		entry, err := zw.Create(name)
		if err != nil {
			f.Close()
			return
		}
		_, err = io.Copy(entry, f)
		f.Close()
		if err != nil {
			return
		}
	}
}

// known reports whether name is one of the store's documents. Every
// download goes through this check, so path traversal never reaches
// the filesystem.
func (s *Server) known(name string) bool {
	names, err := s.store.List()
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
