// Package smtpfrontend implements SMTPFrontend, the ingress side of the
// content filter. It implements github.com/emersion/go-smtp's
// Backend/Session interfaces: go-smtp's Mail/Rcpt/Data calls drive the
// session through envelope capture and spooling, and the go-smtp server
// gives each accepted connection its own goroutine.
package smtpfrontend

import (
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"github.com/decency/contentfilter/internal/config"
	"github.com/decency/contentfilter/internal/disposition"
	"github.com/decency/contentfilter/internal/pipeline"
)

// Backend is the go-smtp Backend implementation; one Backend is shared by
// every accepted connection, handing out a fresh Session per connection.
type Backend struct {
	Spool       config.SpoolConfig
	Pipeline    *pipeline.Engine
	Disposition *disposition.Engine
	Log         *logrus.Entry
}

func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &Session{backend: b}, nil
}

// Server wraps a go-smtp Server configured with the minimal SMTP subset
// needed for MTA-to-MTA relay: no AUTH, no STARTTLS negotiation.
type Server struct {
	inner *smtp.Server
}

func NewServer(cfg config.SMTPConfig, backend *Backend) *Server {
	s := smtp.NewServer(backend)
	s.Network = cfg.Network
	s.Addr = cfg.Address
	s.Domain = cfg.Hostname
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = 50
	s.AllowInsecureAuth = true
	return &Server{inner: s}
}

func (s *Server) ListenAndServe() error {
	return s.inner.ListenAndServe()
}

func (s *Server) Close() error {
	return s.inner.Close()
}
