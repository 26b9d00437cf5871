package main

import (
	"context"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/unwinned/optisoft/internal/accounts"
	"github.com/unwinned/optisoft/internal/config"
	"github.com/unwinned/optisoft/internal/rundb"
	"github.com/unwinned/optisoft/internal/withdraw"
)

// hardhat development key, account #0
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestWithdrawTaskFailsWithoutWithdrawals(t *testing.T) {
	cfg := &config.Config{
		Exchange: config.ExchangeConfig{Name: "okx"},
	}
	acct, err := accounts.FromSecret(1, testKey)
	if err != nil {
		t.Fatalf("account: %v", err)
	}

	task := withdrawTask(cfg, withdraw.NewKeyedLock())
	err = task(context.Background(), acct, logrus.NewEntry(logrus.New()))
	if err == nil {
		t.Fatal("expected an error when no withdrawals are configured")
	}
	if !strings.Contains(err.Error(), "no withdrawal configurations") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecordBalancePersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	db, err := rundb.Open(filepath.Join(t.TempDir(), "run.db"))
	if err != nil {
		t.Fatalf("open rundb: %v", err)
	}
	defer db.Close()

	acct, err := accounts.FromSecret(1, testKey)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	addr := acct.Address.Hex()
	if err := db.Seed(ctx, addr, acct.PrivateKeyHex(), ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	recordBalance(ctx, db, addr, big.NewInt(1_500_000_000_000_000_000), logrus.NewEntry(logrus.New()))

	rows, err := db.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(rows) != 1 || rows[0].Balance != "1.500000" {
		t.Fatalf("balance snapshot not recorded: %+v", rows)
	}

	// nil db is tolerated for runs without persistence
	recordBalance(ctx, nil, addr, big.NewInt(1), logrus.NewEntry(logrus.New()))
}
