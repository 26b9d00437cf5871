package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/unwinned/optisoft/internal/accounts"
	"github.com/unwinned/optisoft/internal/config"
	"github.com/unwinned/optisoft/internal/dapps"
	"github.com/unwinned/optisoft/internal/exchange"
	"github.com/unwinned/optisoft/internal/rundb"
	"github.com/unwinned/optisoft/internal/runner"
	"github.com/unwinned/optisoft/internal/withdraw"
	"github.com/unwinned/optisoft/pkg/logger"
	"github.com/unwinned/optisoft/pkg/secretstore"
	"github.com/unwinned/optisoft/pkg/ui"
)

const actionFlow = "flow"

var actions = []string{actionFlow, "withdraw", "bridge", "swap"}

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to the yaml config")
		keysPath    = flag.String("keys", "data/keys.txt", "file with private keys or mnemonics, one per line")
		proxiesPath = flag.String("proxies", "data/proxies.txt", "file with proxies, one per line (optional)")
		dbPath      = flag.String("db", "new", "run database path, or 'new' to start fresh")
		action      = flag.String("action", "", "action to run (flow, withdraw, bridge, swap); empty opens the menu")
		vaultPath   = flag.String("vault", "", "optional encrypted credential vault directory")
	)
	flag.Parse()

	// .env is optional; real deployments may use the environment directly
	_ = godotenv.Load()

	if err := run(*configPath, *keysPath, *proxiesPath, *dbPath, *action, *vaultPath); err != nil {
		if logger.Logger != nil {
			logger.Logger.Fatal(err)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, keysPath, proxiesPath, dbPath, action, vaultPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
	}); err != nil {
		return err
	}
	log := logger.WithModule("main")

	if err := loadVaultCredentials(cfg, vaultPath, log); err != nil {
		return err
	}

	if proxiesPath != "" {
		if _, err := os.Stat(proxiesPath); err != nil {
			proxiesPath = ""
		}
	}
	accts, err := accounts.LoadFiles(keysPath, proxiesPath)
	if err != nil {
		return err
	}
	log.Infof("Loaded %d accounts", len(accts))

	if action == "" {
		action, err = ui.SelectAction("Optisoft", actions)
		if err != nil {
			return err
		}
	}
	if action != actionFlow {
		cfg.Flow.Tasks = []string{action}
	}
	if len(cfg.Flow.Tasks) == 0 {
		return fmt.Errorf("no tasks configured: set FLOW.tasks or pass -action")
	}

	if dbPath == "new" {
		if err := os.MkdirAll("data", 0o755); err != nil {
			return err
		}
		dbPath = rundb.NewPath("data")
	}
	db, err := rundb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Infof("Run database: %s", db.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	credLock := withdraw.NewKeyedLock()
	tasks := map[string]runner.Task{
		"withdraw": withdrawTask(cfg, credLock),
		"bridge":   bridgeTask(cfg, db),
		"swap":     swapTask(cfg, db),
	}
	return runner.New(cfg, db, tasks).Run(ctx, accts)
}

// loadVaultCredentials fills in exchange credentials from the encrypted vault
// when the config and environment left them empty.
func loadVaultCredentials(cfg *config.Config, vaultPath string, log *logrus.Entry) error {
	if vaultPath == "" || cfg.Exchange.APIKey != "" {
		return nil
	}
	key, err := secretstore.ParseKey(os.Getenv("VAULT_KEY"))
	if err != nil {
		return err
	}
	vault, err := secretstore.Open(secretstore.OpenOptions{Path: vaultPath, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		return err
	}
	defer vault.Close()

	creds, found, err := vault.Credentials(cfg.Exchange.Name)
	if err != nil {
		return err
	}
	if !found {
		log.Warnf("No credentials for %s in vault %s", cfg.Exchange.Name, vaultPath)
		return nil
	}
	cfg.Exchange.APIKey = creds.APIKey
	cfg.Exchange.SecretKey = creds.SecretKey
	cfg.Exchange.Passphrase = creds.Passphrase
	return nil
}

// withdrawTask runs every configured withdrawal for the account. Exchange
// calls for one credential set are serialized through the keyed lock.
func withdrawTask(cfg *config.Config, credLock *withdraw.KeyedLock) runner.Task {
	return func(ctx context.Context, acct *accounts.Account, log *logrus.Entry) error {
		// the menu can select withdraw after config validation already ran,
		// so an empty list must abort here before any exchange call
		if len(cfg.Exchange.Withdrawals) == 0 {
			return fmt.Errorf("no withdrawal configurations found")
		}

		release := credLock.Acquire(cfg.Exchange.APIKey)
		defer release()

		for _, wcfg := range cfg.Exchange.Withdrawals {
			gw, err := exchange.New(cfg.Exchange.Name, exchange.Credentials{
				APIKey:     cfg.Exchange.APIKey,
				SecretKey:  cfg.Exchange.SecretKey,
				Passphrase: cfg.Exchange.Passphrase,
			}, acct.Proxy.URL())
			if err != nil {
				return err
			}

			orch := withdraw.New(wcfg, gw, withdraw.DialWaiter(log), acct.Address, log)
			res, err := orch.Run(ctx)
			if err != nil {
				return err
			}
			if res.Skipped {
				continue
			}
			log.Infof("Withdrawal complete: %v %s via %s", res.Amount, wcfg.Currency, res.Network)
		}
		return nil
	}
}

func bridgeTask(cfg *config.Config, db *rundb.DB) runner.Task {
	return func(ctx context.Context, acct *accounts.Account, log *logrus.Entry) error {
		client, err := dapps.Dial(ctx, dapps.OptimismRPC, acct.PrivateKey, log)
		if err != nil {
			return err
		}
		defer client.Close()

		bridge, err := dapps.NewBridge(client, cfg.Bridge, log)
		if err != nil {
			return err
		}
		if _, err := bridge.Run(ctx); err != nil {
			return err
		}
		if bal, err := client.Balance(ctx); err == nil {
			recordBalance(ctx, db, acct.Address.Hex(), bal, log)
		}
		return nil
	}
}

func swapTask(cfg *config.Config, db *rundb.DB) runner.Task {
	return func(ctx context.Context, acct *accounts.Account, log *logrus.Entry) error {
		client, err := dapps.Dial(ctx, dapps.UnichainRPC, acct.PrivateKey, log)
		if err != nil {
			return err
		}
		defer client.Close()

		swap, err := dapps.NewSwap(client, cfg.Swap, log)
		if err != nil {
			return err
		}
		if _, err := swap.Run(ctx); err != nil {
			return err
		}
		if bal, err := client.Balance(ctx); err == nil {
			recordBalance(ctx, db, acct.Address.Hex(), bal, log)
		}
		return nil
	}
}

// recordBalance snapshots the account's native balance into the run database.
// Best-effort: a failed write never fails the task that produced it.
func recordBalance(ctx context.Context, db *rundb.DB, address string, wei *big.Int, log *logrus.Entry) {
	if db == nil {
		return
	}
	if err := db.SetBalance(ctx, address, fmt.Sprintf("%.6f", dapps.WeiToEth(wei))); err != nil {
		log.Warnf("Failed to record balance: %v", err)
	}
}
