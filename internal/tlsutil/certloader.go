// Package tlsutil serves the probe over HTTPS with a certificate that is
// reloaded from disk when it is rotated.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CertLoader holds the current certificate for tls.Config.GetCertificate
// and reloads it when the cert or key file changes.
type CertLoader struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	notAfter time.Time
	certFile string
	keyFile  string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New loads the certificate and starts watching the directories holding
// the cert and key. Directories are watched rather than the files so that
// rotation by rename (as done by secret mounts) is seen too.
func New(certFile, keyFile string, logger *slog.Logger) (*CertLoader, error) {
	cl := &CertLoader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	if err := cl.loadCert(); err != nil {
		return nil, fmt.Errorf("initial certificate load: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	for _, dir := range uniqueDirs(certFile, keyFile) {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	cl.watcher = watcher
	go cl.watchLoop()

	logger.Info("TLS certificate loaded, watching for changes",
		"cert_file", certFile, "key_file", keyFile, "not_after", cl.NotAfter())
	return cl, nil
}

// TLSConfig returns a server config that always presents the current
// certificate.
func (cl *CertLoader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: cl.GetCertificate,
	}
}

// GetCertificate returns the current certificate. It is called on every
// handshake.
func (cl *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.cert, nil
}

// NotAfter returns the expiry of the current certificate.
func (cl *CertLoader) NotAfter() time.Time {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.notAfter
}

// Check is a readiness check that fails once the certificate has expired.
func (cl *CertLoader) Check() error {
	if na := cl.NotAfter(); cl.now().After(na) {
		return fmt.Errorf("certificate expired at %s", na.UTC().Format(time.RFC3339))
	}
	return nil
}

// Reload reads the cert and key again. On failure the current certificate
// stays in use.
func (cl *CertLoader) Reload() error {
	if err := cl.loadCert(); err != nil {
		cl.logger.Error("TLS certificate reload failed, keeping current",
			"error", err, "cert_file", cl.certFile, "key_file", cl.keyFile)
		return err
	}
	cl.logger.Info("TLS certificate reloaded", "cert_file", cl.certFile, "not_after", cl.NotAfter())
	return nil
}

// Stop terminates the file watcher. It is safe to call more than once.
func (cl *CertLoader) Stop() {
	cl.stopOnce.Do(func() {
		close(cl.stopCh)
		if cl.watcher != nil {
			cl.watcher.Close()
		}
	})
}

func (cl *CertLoader) loadCert() error {
	cert, err := tls.LoadX509KeyPair(cl.certFile, cl.keyFile)
	if err != nil {
		return err
	}
	leaf := cert.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return fmt.Errorf("parsing certificate: %w", err)
		}
	}
	cl.mu.Lock()
	cl.cert = &cert
	cl.notAfter = leaf.NotAfter
	cl.mu.Unlock()
	return nil
}

// relevant reports whether an event touches the cert or key file.
func (cl *CertLoader) relevant(name string) bool {
	name = filepath.Clean(name)
	return name == filepath.Clean(cl.certFile) || name == filepath.Clean(cl.keyFile)
}

func (cl *CertLoader) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-cl.watcher.Events:
			if !ok {
				return
			}
			if !cl.relevant(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Cert and key usually change together; reload once.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, func() {
				cl.Reload() //nolint:errcheck
			})
		case err, ok := <-cl.watcher.Errors:
			if !ok {
				return
			}
			cl.logger.Error("TLS cert file watcher error", "error", err)
		case <-cl.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func uniqueDirs(paths ...string) []string {
	var dirs []string
	seen := map[string]bool{}
	for _, p := range paths {
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}
