// Package certs generates and loads the mTLS material used between a host and a remote worker.
// Keys are secrets: anyone holding the host cert can run commands on the worker.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// ServerName is the DNS name in the worker cert. Hosts verify against it rather than the dialed address.
const ServerName = "bridgeworker"

const (
	CAFile        = "ca.pem"
	WorkerFile    = "worker.pem"
	WorkerKeyFile = "worker-key.pem"
	HostFile      = "host.pem"
	HostKeyFile   = "host-key.pem"
)

type Certs struct {
	CA     CACert
	Worker Cert
	Host   Cert
}

type CACert struct {
	CertPEM []byte
	KeyPEM  []byte

	x509Cert *x509.Certificate
	privKey  *rsa.PrivateKey
}

type Cert struct {
	CertPEM []byte
	KeyPEM  []byte
}

func serialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("getting random serial number: %w", err)
	}
	return n, nil
}

func buildCACert(validFor time.Duration) (CACert, error) {
	serial, err := serialNumber()
	if err != nil {
		return CACert{}, err
	}
	caCert := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "cmdbridge CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(validFor),
		IsCA:                  true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return CACert{}, fmt.Errorf("generating CA private key: %w", err)
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caCert, caCert, &caKey.PublicKey, caKey)
	if err != nil {
		return CACert{}, fmt.Errorf("creating x509 cert: %w", err)
	}

	return CACert{
		CertPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}),
		KeyPEM:   pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(caKey)}),
		x509Cert: caCert,
		privKey:  caKey,
	}, nil
}

func buildCert(ca CACert, cn string, validFor time.Duration) (Cert, error) {
	serial, err := serialNumber()
	if err != nil {
		return Cert{}, err
	}
	c := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{ServerName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Cert{}, fmt.Errorf("generating private key: %w", err)
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &c, ca.x509Cert, &certKey.PublicKey, ca.privKey)
	if err != nil {
		return Cert{}, fmt.Errorf("creating cert: %w", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(certKey)
	if err != nil {
		return Cert{}, fmt.Errorf("marshaling pkcs8: %w", err)
	}

	return Cert{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}),
	}, nil
}

// Generate creates a throwaway CA and a worker and host cert signed by it.
func Generate(validFor time.Duration) (*Certs, error) {
	ca, err := buildCACert(validFor)
	if err != nil {
		return nil, fmt.Errorf("building CA cert: %w", err)
	}
	worker, err := buildCert(ca, "worker", validFor)
	if err != nil {
		return nil, fmt.Errorf("building worker cert: %w", err)
	}
	host, err := buildCert(ca, "host", validFor)
	if err != nil {
		return nil, fmt.Errorf("building host cert: %w", err)
	}
	return &Certs{CA: ca, Worker: worker, Host: host}, nil
}

// WriteDir writes the CA cert and both key pairs to dir. The CA key is not written.
func (c *Certs) WriteDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	files := []struct {
		name string
		data []byte
		mode os.FileMode
	}{
		{CAFile, c.CA.CertPEM, 0o644},
		{WorkerFile, c.Worker.CertPEM, 0o644},
		{WorkerKeyFile, c.Worker.KeyPEM, 0o600},
		{HostFile, c.Host.CertPEM, 0o644},
		{HostKeyFile, c.Host.KeyPEM, 0o600},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, f.mode); err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
	}
	return nil
}

func certPool(caPEM []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("no CA certificates found in PEM")
	}
	return pool, nil
}

// ServerTLSConfig requires clients to present a cert signed by the CA.
func ServerTLSConfig(caPEM, certPEM, keyPEM []byte) (*tls.Config, error) {
	pool, err := certPool(caPEM)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing server key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		Certificates: []tls.Certificate{cert},
	}, nil
}

func ClientTLSConfig(caPEM, certPEM, keyPEM []byte) (*tls.Config, error) {
	pool, err := certPool(caPEM)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing client key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		RootCAs:      pool,
		ServerName:   ServerName,
		Certificates: []tls.Certificate{cert},
	}, nil
}

func readFiles(dir string, names ...string) ([][]byte, error) {
	var out [][]byte
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return nil, fmt.Errorf("reading TLS material: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// LoadServer builds the worker's TLS config from a directory written by WriteDir.
func LoadServer(dir string) (*tls.Config, error) {
	b, err := readFiles(dir, CAFile, WorkerFile, WorkerKeyFile)
	if err != nil {
		return nil, err
	}
	return ServerTLSConfig(b[0], b[1], b[2])
}

// LoadClient builds the host's TLS config from a directory written by WriteDir.
func LoadClient(dir string) (*tls.Config, error) {
	b, err := readFiles(dir, CAFile, HostFile, HostKeyFile)
	if err != nil {
		return nil, err
	}
	return ClientTLSConfig(b[0], b[1], b[2])
}
