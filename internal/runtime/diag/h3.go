package diag

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"

	"github.com/orizon-lang/rcgc/internal/runtime/gc"
)

// StatsHandler serves a JSON snapshot of c's counters.
func StatsHandler(c *gc.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// H3Server serves a handler over HTTP/3.
type H3Server struct {
	srv   *http3.Server
	addr  string
	pc    net.PacketConn
	close func() error
}

func NewH3Server(addr string, tlsCfg *tls.Config, h http.Handler) *H3Server {
	return &H3Server{srv: &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: h}, addr: addr}
}

// Start binds the UDP socket and serves in the background. It returns the
// bound address.
func (s *H3Server) Start() (string, error) {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", fmt.Errorf("h3 listen %s: %w", s.addr, err)
	}
	s.pc = pc
	done := make(chan struct{})
	go func() {
		_ = s.srv.Serve(pc)
		close(done)
	}()
	s.close = func() error {
		err := s.srv.Close()
		_ = s.pc.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return err
	}
	return pc.LocalAddr().String(), nil
}

func (s *H3Server) Stop() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// H3Client returns an http.Client speaking HTTP/3. Close it with CloseH3Client.
func H3Client(tlsCfg *tls.Config, timeout time.Duration) *http.Client {
	return &http.Client{Transport: &http3.RoundTripper{TLSClientConfig: tlsCfg}, Timeout: timeout}
}

func CloseH3Client(c *http.Client) {
	if tr, ok := c.Transport.(*http3.RoundTripper); ok {
		_ = tr.Close()
	}
}

// SelfSignedTLS creates an in-memory certificate for hosts, for local
// diagnostics endpoints.
func SelfSignedTLS(hosts []string, validFor time.Duration) (*tls.Config, error) {
	if validFor <= 0 {
		validFor = 24 * time.Hour
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	pair, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
	)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS13, NextProtos: []string{"h3"}}, nil
}
