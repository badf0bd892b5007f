package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// generateTestCert writes a self-signed cert/key pair valid for a day into
// dir and returns the file paths.
func generateTestCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	return writeCert(t, dir, time.Now().Add(24*time.Hour))
}

func writeCert(t *testing.T, dir string, notAfter time.Time) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "probe.local"},
		DNSNames:     []string{"probe.local"},
		NotBefore:    notAfter.Add(-48 * time.Hour),
		NotAfter:     notAfter,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyFile, keyPEM, 0o644); err != nil {
		t.Fatalf("write key: %v", err)
	}

	return certFile, keyFile
}

func TestCertLoader_InitialLoad(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)
	logger := discardLogger()

	cl, err := New(certFile, keyFile, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	cert, err := cl.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if cert == nil {
		t.Fatal("expected non-nil certificate")
	}
}

func TestCertLoader_InvalidCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	os.WriteFile(certFile, []byte("invalid"), 0o644) //nolint:errcheck
	os.WriteFile(keyFile, []byte("invalid"), 0o644)  //nolint:errcheck

	logger := discardLogger()

	_, err := New(certFile, keyFile, logger)
	if err == nil {
		t.Fatal("expected error for invalid cert")
	}
}

func TestCertLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)
	logger := discardLogger()

	cl, err := New(certFile, keyFile, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	before := cl.NotAfter()
	writeCert(t, dir, time.Now().Add(72*time.Hour))

	if err := cl.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	cert, err := cl.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate after reload: %v", err)
	}
	if cert == nil {
		t.Fatal("expected non-nil certificate after reload")
	}
	if !cl.NotAfter().After(before) {
		t.Errorf("expiry not updated: before %v, after %v", before, cl.NotAfter())
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCertLoader_ReloadFailureKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	cl, err := New(certFile, keyFile, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	want, _ := cl.GetCertificate(nil)
	if err := os.WriteFile(certFile, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cl.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got, _ := cl.GetCertificate(nil); got != want {
		t.Error("failed reload replaced the certificate")
	}
}

func TestCertLoader_Check(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	cl, err := New(certFile, keyFile, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	if err := cl.Check(); err != nil {
		t.Errorf("fresh certificate should pass: %v", err)
	}
	cl.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	if err := cl.Check(); err == nil {
		t.Error("expected an expiry error")
	}
}

func TestCertLoader_TLSConfigAndStopTwice(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	cl, err := New(certFile, keyFile, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := cl.TLSConfig()
	if cfg.MinVersion != tls.VersionTLS12 || cfg.GetCertificate == nil {
		t.Errorf("unexpected tls config %+v", cfg)
	}
	cl.Stop()
	cl.Stop()
}

func TestCertLoader_WatchPicksUpRotation(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	cl, err := New(certFile, keyFile, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Stop()

	before := cl.NotAfter()
	writeCert(t, dir, time.Now().Add(96*time.Hour))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cl.NotAfter().After(before) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("certificate not reloaded after rotation")
}
