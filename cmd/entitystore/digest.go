package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opennetworkinglab/onos-sub118/internal/server"
	"github.com/spf13/cobra"
)

func digestCmd() *cobra.Command {
	var (
		adminAddr string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print a running node's digest summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			summary, err := fetchDigest(ctx, adminAddr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "node:           %s\n", summary.NodeID)
			fmt.Fprintf(out, "entities:       %d\n", summary.Entities)
			fmt.Fprintf(out, "live fragments: %d\n", summary.LiveFragments)
			fmt.Fprintf(out, "tombstones:     %d\n", summary.Tombstones)
			fmt.Fprintf(out, "peers:          %s\n", strings.Join(summary.Peers, ", "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&adminAddr, "admin", "a", "http://localhost:9090", "admin server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func fetchDigest(ctx context.Context, adminAddr string) (*server.DigestSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(adminAddr, "/")+"/debug/digest", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach admin server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("admin server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var summary server.DigestSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("failed to decode digest: %w", err)
	}
	return &summary, nil
}
