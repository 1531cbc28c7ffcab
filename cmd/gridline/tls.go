package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/gridline/internal/tlsutil"
)

// certificates with fewer days left are reported for renewal
const renewalDays = 30

var tlsCmd = &cobra.Command{
	Use:   "tls",
	Short: "TLS certificate commands",
}

var tlsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show TLS certificate status",
	RunE:  runTLSStatus,
}

func init() {
	tlsCmd.AddCommand(tlsStatusCmd)
	rootCmd.AddCommand(tlsCmd)
}

func runTLSStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tlsCfg := cfg.Server.TLS

	if !tlsCfg.ACME.Enabled {
		if tlsCfg.CertFile == "" {
			fmt.Println("TLS is not configured")
			return nil
		}

		info, err := tlsutil.ReadCertificateInfo(tlsCfg.CertFile)
		if err != nil {
			return fmt.Errorf("failed to read certificate: %w", err)
		}
		fmt.Println("TLS Certificate (manual):")
		fmt.Printf("  File: %s\n", tlsCfg.CertFile)
		fmt.Printf("  Subject: %s\n", info.Subject)
		fmt.Printf("  Issuer: %s\n", info.Issuer)
		fmt.Printf("  Valid from: %s\n", info.NotBefore.Format(time.RFC3339))
		fmt.Printf("  Valid until: %s\n", info.NotAfter.Format(time.RFC3339))
		fmt.Printf("  Days left: %d\n", info.DaysLeft)
		fmt.Printf("  Status: %s\n", certStatus(*info))
		return nil
	}

	manager := tlsutil.NewACMEManager(tlsCfg.ACME.Email, tlsCfg.ACME.Domains, tlsCfg.ACME.CacheDir)
	certs, err := manager.CachedCertificates(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read cached certificates: %w", err)
	}

	if len(certs) == 0 {
		fmt.Println("ACME certificates not found in cache.")
		fmt.Println("They are requested on the first HTTPS connection to 'gridline serve'.")
		return nil
	}

	printCertificates(os.Stdout, certs)
	return nil
}

func printCertificates(w io.Writer, certs []tlsutil.CertificateInfo) {
	fmt.Fprintln(w, "ACME Certificates:")
	for _, cert := range certs {
		fmt.Fprintf(w, "  %s:\n", cert.Domain)
		fmt.Fprintf(w, "    Valid until: %s\n", cert.NotAfter.Format(time.RFC3339))
		fmt.Fprintf(w, "    Days left: %d\n", cert.DaysLeft)
		fmt.Fprintf(w, "    Status: %s\n", certStatus(cert))
	}
}

func certStatus(info tlsutil.CertificateInfo) string {
	switch {
	case info.Expired():
		return "EXPIRED"
	case info.DaysLeft < renewalDays:
		return "RENEWAL NEEDED"
	default:
		return "OK"
	}
}
