package tlsutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"

	"golang.org/x/crypto/acme/autocert"
)

// ACMEManager obtains and renews certificates from Let's Encrypt
type ACMEManager struct {
	manager *autocert.Manager
	cache   autocert.DirCache
	domains []string
}

// NewACMEManager creates a manager restricted to domains
func NewACMEManager(email string, domains []string, cacheDir string) *ACMEManager {
	cache := autocert.DirCache(cacheDir)
	return &ACMEManager{
		manager: &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Email:      email,
			HostPolicy: autocert.HostWhitelist(domains...),
			Cache:      cache,
		},
		cache:   cache,
		domains: domains,
	}
}

// Domains returns the configured domains
func (a *ACMEManager) Domains() []string {
	return a.domains
}

// TLSConfig returns a server config that fetches certificates on demand
func (a *ACMEManager) TLSConfig() *tls.Config {
	cfg := a.manager.TLSConfig()
	cfg.MinVersion = tls.VersionTLS12
	return cfg
}

// HTTPHandler answers HTTP-01 challenges and passes everything else to
// fallback. A nil fallback redirects to HTTPS.
func (a *ACMEManager) HTTPHandler(fallback http.Handler) http.Handler {
	return a.manager.HTTPHandler(fallback)
}

// CachedCertificates reads certificates from the cache directory without
// contacting Let's Encrypt. Domains with nothing cached are skipped.
func (a *ACMEManager) CachedCertificates(ctx context.Context) ([]CertificateInfo, error) {
	var results []CertificateInfo

	for _, domain := range a.domains {
		data, err := a.cache.Get(ctx, domain)
		if err == autocert.ErrCacheMiss {
			continue
		}
		if err != nil {
			return results, fmt.Errorf("failed to read cached certificate for %s: %w", domain, err)
		}

		// autocert stores the private key and the chain in one PEM file
		pair, err := tls.X509KeyPair(data, data)
		if err != nil || len(pair.Certificate) == 0 {
			continue
		}
		leaf, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			continue
		}

		info := describe(leaf)
		info.Domain = domain
		results = append(results, info)
	}

	return results, nil
}
