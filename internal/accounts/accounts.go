// Package accounts loads wallet material for a run: one EVM account per line
// of the keys file, optionally paired line-by-line with a proxy.
package accounts

import (
	"bufio"
	"crypto/ecdsa"
	"encoding/hex"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"
)

// defaultDerivationPath is the first account of the standard Ethereum tree.
const defaultDerivationPath = "m/44'/60'/0'/0/0"

var proxyPattern = regexp.MustCompile(`^.+:.+@.+:\d+$`)

// Proxy is a user:pass@host:port string, possibly empty.
type Proxy string

func (p Proxy) Validate() error {
	if p == "" {
		return nil
	}
	if !proxyPattern.MatchString(string(p)) {
		return errors.Errorf("accounts: proxy format is not valid: %s", p)
	}
	return nil
}

// URL renders the proxy as an http:// URL, or "" when no proxy is set.
func (p Proxy) URL() string {
	if p == "" {
		return ""
	}
	return "http://" + string(p)
}

// Account is one wallet in the run queue. Index is the 1-based position in
// the keys file, kept stable for logging even after shuffling.
type Account struct {
	Index      int
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
	Proxy      Proxy
}

// PrivateKeyHex renders the key the way the keys file carries it.
func (a *Account) PrivateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(a.PrivateKey))
}

// FromSecret builds an account from either a raw hex private key or a BIP-39
// mnemonic phrase. Mnemonics are derived at the first standard account path.
func FromSecret(index int, secret string) (*Account, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("accounts: empty secret")
	}

	if strings.Contains(secret, " ") {
		return fromMnemonic(index, secret)
	}

	pk, err := crypto.HexToECDSA(strings.TrimPrefix(secret, "0x"))
	if err != nil {
		return nil, errors.Wrapf(err, "accounts: invalid private key at line %d", index)
	}
	return &Account{
		Index:      index,
		PrivateKey: pk,
		Address:    crypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

func fromMnemonic(index int, mnemonic string) (*Account, error) {
	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrapf(err, "accounts: invalid mnemonic at line %d", index)
	}
	path, err := hdwallet.ParseDerivationPath(defaultDerivationPath)
	if err != nil {
		return nil, errors.Wrap(err, "accounts: derivation path")
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, errors.Wrapf(err, "accounts: derive failed at line %d", index)
	}
	pk, err := w.PrivateKey(acct)
	if err != nil {
		return nil, errors.Wrapf(err, "accounts: private key at line %d", index)
	}
	return &Account{
		Index:      index,
		PrivateKey: pk,
		Address:    crypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// LoadFiles reads secrets and proxies and pairs them line-by-line. The proxy
// file is optional; when it has fewer lines than the keys file, the remaining
// accounts run without a proxy.
func LoadFiles(keysPath, proxiesPath string) ([]*Account, error) {
	secrets, err := readLines(keysPath)
	if err != nil {
		return nil, errors.Wrap(err, "accounts: reading keys file")
	}
	if len(secrets) == 0 {
		return nil, errors.Errorf("accounts: no keys found in %s", keysPath)
	}

	var proxies []string
	if proxiesPath != "" {
		proxies, err = readLines(proxiesPath)
		if err != nil {
			return nil, errors.Wrap(err, "accounts: reading proxies file")
		}
	}

	accts := make([]*Account, 0, len(secrets))
	for i, secret := range secrets {
		acct, err := FromSecret(i+1, secret)
		if err != nil {
			return nil, err
		}
		if i < len(proxies) {
			p := Proxy(proxies[i])
			if err := p.Validate(); err != nil {
				return nil, err
			}
			acct.Proxy = p
		}
		accts = append(accts, acct)
	}
	return accts, nil
}

// readLines returns non-empty trimmed lines.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
