package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/gridline/internal/config"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Rate limit commands",
}

var ratelimitShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured run limits",
	RunE:  runRatelimitShow,
}

func init() {
	ratelimitCmd.AddCommand(ratelimitShowCmd)
	rootCmd.AddCommand(ratelimitCmd)
}

func runRatelimitShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	printRateLimits(os.Stdout, cfg.RateLimit)
	return nil
}

func printRateLimits(out io.Writer, rl config.RateLimitConfig) {
	fmt.Fprintln(out, "Rate Limiting Configuration")
	fmt.Fprintln(out, "===========================")
	fmt.Fprintf(out, "Enabled: %v\n\n", rl.Enabled)

	if !rl.Enabled {
		fmt.Fprintln(out, "Rate limiting is disabled")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tRUNS/HOUR\tRUNS/DAY")
	fmt.Fprintln(w, "-----\t---------\t--------")
	limitRow(w, "Global", rl.Global)
	limitRow(w, "Per IP", rl.DefaultIP)
	limitRow(w, "Per API Key", rl.DefaultAPIKey)
	w.Flush()

	fmt.Fprintln(out, "\nPer-API-Key Overrides:")
	if len(rl.APIKeys) == 0 {
		fmt.Fprintln(out, "  None configured")
	} else {
		keys := make([]string, 0, len(rl.APIKeys))
		for k := range rl.APIKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, k := range keys {
			limitRow(w, "  "+maskKey(k), rl.APIKeys[k])
		}
		w.Flush()
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Note: To view current usage, use the API endpoint GET /api/v1/ratelimits/{level}/{key}")
}

func limitRow(w io.Writer, name string, v *config.LimitValues) {
	if v == nil {
		fmt.Fprintf(w, "%s\t-\t-\n", name)
		return
	}
	fmt.Fprintf(w, "%s\t%s\t%s\n", name, limitValue(v.RunsPerHour), limitValue(v.RunsPerDay))
}

func limitValue(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

// maskKey keeps API keys out of terminal scrollback
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}
