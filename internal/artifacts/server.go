// Package artifacts serves the generated stamp images read-only over HTTP
// with a long-lived cache directive. It only ever reads files the stamp
// worker wrote; there is no other interaction with the hub.
package artifacts

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/stamphub/internal/logger"
)

const cacheControl = "public, max-age=300"

// Server is one static-file listener over the output images directory.
type Server struct {
	addr       string
	certFile   string
	keyFile    string
	dir        string
	httpServer *http.Server
}

// NewServer creates a static server for dir. certFile and keyFile may be
// empty for a plain listener.
func NewServer(addr, dir, certFile, keyFile string) (*Server, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("output images path %q is not a directory", dir)
	}
	return &Server{
		addr:     addr,
		certFile: certFile,
		keyFile:  keyFile,
		dir:      dir,
	}, nil
}

// Handler returns the routed file server with cache headers applied.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	fileServer := http.FileServer(http.Dir(s.dir))
	router.GET("/*filepath", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Cache-Control", cacheControl)
		r.URL.Path = ps.ByName("filepath")
		fileServer.ServeHTTP(w, r)
	})
	return router
}

// Serve listens until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	if s.certFile != "" {
		logger.Info("listening on %s (http -- secure)", s.addr)
		return s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
	}
	logger.Info("listening on %s (http -- insecure)", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
