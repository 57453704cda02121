// dircheck is a pre-flight diagnostic for operators: it verifies RPC
// reachability, directory contract reads, sponsor wallet funding, and
// capability store writability before the API is put in front of traffic.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/agentdirectory/backend/internal/config"
	"github.com/agentdirectory/backend/internal/directory"
)

type check struct {
	Name string
	Run  func(ctx context.Context) error
}

func main() {
	fmt.Println("Agent Directory - Pre-Flight Diagnostic")
	fmt.Println("---------------------------------------")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Configuration: [FAIL] %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var dir *directory.EthClient

	checks := []check{
		{"RPC + contract binding", func(ctx context.Context) error {
			dir, err = directory.Dial(ctx, cfg.RPCURLs, cfg.ContractAddress, cfg.SponsorKey, logger)
			return err
		}},
		{"Directory reads", func(ctx context.Context) error {
			count, err := dir.Count(ctx)
			if err != nil {
				return err
			}
			fee, err := dir.RegistrationFee(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("  >> %d agents registered, fee %s wei\n", count, fee.String())
			return nil
		}},
		{"Sponsor wallet", func(ctx context.Context) error {
			if !dir.SponsorConfigured() {
				return fmt.Errorf("SPONSOR_PRIVATE_KEY not set")
			}
			balance, err := dir.SponsorBalance(ctx)
			if err != nil {
				return err
			}
			fee, err := dir.RegistrationFee(ctx)
			if err != nil {
				return err
			}
			needed := new(big.Int).Add(fee, cfg.GasBufferWei)
			fmt.Printf("  >> %s, balance %s wei\n", dir.SponsorAddress().Hex(), balance.String())
			if balance.Cmp(needed) < 0 {
				return fmt.Errorf("underfunded: need %s wei per registration", needed.String())
			}
			return nil
		}},
		{"Capability store", func(context.Context) error {
			dataDir := filepath.Dir(cfg.CapabilitiesFile)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			probe := filepath.Join(dataDir, ".dircheck")
			if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
				return err
			}
			return os.Remove(probe)
		}},
	}

	failed := false
	for _, c := range checks {
		fmt.Printf("Checking %-24s ", c.Name+"...")
		if err := c.Run(ctx); err != nil {
			fmt.Println("[FAIL]")
			fmt.Printf("  >> Error: %v\n", err)
			failed = true
			if dir == nil {
				break
			}
			continue
		}
		fmt.Println("[OK]")
	}

	fmt.Println("---------------------------------------")
	if failed {
		fmt.Println("Status: NOT ready.")
		os.Exit(1)
	}
	fmt.Println("Status: ready for traffic.")
}
