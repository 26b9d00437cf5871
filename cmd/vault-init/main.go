// vault-init seeds the encrypted credential vault from the environment, so a
// run can start with -vault instead of carrying API keys in config or .env.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/unwinned/optisoft/pkg/secretstore"
)

func main() {
	var (
		vaultPath = flag.String("vault", "data/vault", "vault directory")
		exchange  = flag.String("exchange", "okx", "exchange name the credentials belong to")
		secretKey = flag.String("key", os.Getenv("VAULT_KEY"), "vault encryption key (32 bytes base64/hex)")
	)
	flag.Parse()

	_ = godotenv.Load()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("encryption key is required: set VAULT_KEY or pass -key"))
	}

	prefix := strings.ToUpper(strings.TrimSpace(*exchange))
	creds := secretstore.Credentials{
		APIKey:     os.Getenv(prefix + "_API_KEY"),
		SecretKey:  os.Getenv(prefix + "_SECRET_KEY"),
		Passphrase: os.Getenv(prefix + "_PASSPHRASE"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		fatal(fmt.Errorf("%s_API_KEY and %s_SECRET_KEY must be set", prefix, prefix))
	}

	vault, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *vaultPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}
	defer vault.Close()

	if err := vault.SetCredentials(*exchange, creds); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "stored %s credentials in %s\n", *exchange, *vaultPath)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
