// Package tlsutil builds TLS configurations for the HTTP server, either
// from certificate files or from Let's Encrypt via ACME.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// CertificateInfo describes a certificate's validity window
type CertificateInfo struct {
	Domain    string
	Subject   string
	Issuer    string
	DNSNames  []string
	NotBefore time.Time
	NotAfter  time.Time
	DaysLeft  int
}

// Expired reports whether the certificate is past NotAfter
func (c CertificateInfo) Expired() bool {
	return c.DaysLeft < 0
}

// LoadCertificate loads a key pair from PEM files
func LoadCertificate(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ReadCertificateInfo reads the first certificate of a PEM file
func ReadCertificateInfo(certFile string) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block in %s", certFile)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	info := describe(cert)
	return &info, nil
}

func describe(cert *x509.Certificate) CertificateInfo {
	info := CertificateInfo{
		Subject:   cert.Subject.CommonName,
		Issuer:    cert.Issuer.CommonName,
		DNSNames:  cert.DNSNames,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DaysLeft:  int(time.Until(cert.NotAfter).Hours() / 24),
	}
	if len(cert.DNSNames) > 0 {
		info.Domain = cert.DNSNames[0]
	} else {
		info.Domain = cert.Subject.CommonName
	}
	return info
}
