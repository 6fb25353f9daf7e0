package config

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NativeDecimals is the wei precision of every EVM native asset.
const NativeDecimals = 18

// defaultTokenDecimals applies to the usdt_contract/usdc_contract shortcuts.
// Chains where the stablecoins use fewer decimals must declare them under
// tokens with an explicit decimals value.
const defaultTokenDecimals = 18

// ChainConfig is one entry of the chain catalog. Immutable at runtime.
type ChainConfig struct {
	Name               string                 `yaml:"-"`
	RPCURL             string                 `yaml:"rpc_url"`
	ScanURL            string                 `yaml:"scan_url"`
	NativeSymbol       string                 `yaml:"native_symbol"`
	BlockTime          int                    `yaml:"block_time"` // seconds
	ConfirmationBlocks int                    `yaml:"confirmation_blocks"`
	USDTContract       string                 `yaml:"usdt_contract"`
	USDCContract       string                 `yaml:"usdc_contract"`
	Tokens             map[string]TokenConfig `yaml:"tokens"`
}

// TokenConfig declares an additional monitored token contract.
type TokenConfig struct {
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

// Token is a resolved entry of the known-token catalog.
type Token struct {
	Symbol   string
	Address  string // lowercased hex
	Decimals int
}

func (cc *ChainConfig) setDefaults() {
	if cc.BlockTime == 0 {
		cc.BlockTime = 12
	}
	if cc.NativeSymbol == "" {
		cc.NativeSymbol = strings.ToUpper(cc.Name)
	}
}

func (cc *ChainConfig) validate() error {
	if cc.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	for _, addr := range []string{cc.USDTContract, cc.USDCContract} {
		if addr != "" && !common.IsHexAddress(addr) {
			return errors.Errorf("invalid token contract address %q", addr)
		}
	}
	for symbol, tok := range cc.Tokens {
		if !common.IsHexAddress(tok.Address) {
			return errors.Errorf("invalid address %q for token %s", tok.Address, symbol)
		}
		if tok.Decimals < 0 || tok.Decimals > 36 {
			return errors.Errorf("unsupported decimals %d for token %s", tok.Decimals, symbol)
		}
	}
	return nil
}

// KnownTokens resolves the token catalog keyed by lowercased contract
// address. The usdt_contract/usdc_contract shortcuts assume 18 decimals, as
// deployed on BSC-style chains; a tokens entry with the same symbol
// overrides both address and decimals.
func (cc *ChainConfig) KnownTokens() map[string]Token {
	catalog := make(map[string]Token)
	add := func(symbol, addr string, decimals int) {
		if addr == "" {
			return
		}
		key := strings.ToLower(addr)
		catalog[key] = Token{Symbol: symbol, Address: key, Decimals: decimals}
	}
	add("USDT", cc.USDTContract, defaultTokenDecimals)
	add("USDC", cc.USDCContract, defaultTokenDecimals)
	for symbol, tok := range cc.Tokens {
		decimals := tok.Decimals
		if decimals == 0 {
			decimals = defaultTokenDecimals
			log.WithFields(logrus.Fields{
				"chain": cc.Name,
				"token": symbol,
			}).Warnf("No decimals configured, assuming %d", defaultTokenDecimals)
		}
		// A tokens entry supersedes the shortcut for the same symbol.
		for key, existing := range catalog {
			if existing.Symbol == symbol {
				delete(catalog, key)
			}
		}
		add(symbol, tok.Address, decimals)
	}
	return catalog
}

// DecimalsFor returns the precision of a symbol on this chain.
func (cc *ChainConfig) DecimalsFor(symbol string) int {
	if symbol == cc.NativeSymbol {
		return NativeDecimals
	}
	for _, tok := range cc.KnownTokens() {
		if tok.Symbol == symbol {
			return tok.Decimals
		}
	}
	return defaultTokenDecimals
}

// BlockPeriod returns the expected block production interval.
func (cc *ChainConfig) BlockPeriod() time.Duration {
	return time.Duration(cc.BlockTime) * time.Second
}

// TxURL renders a block explorer link for a transaction hash.
func (cc *ChainConfig) TxURL(txHash string) string {
	if cc.ScanURL == "" {
		return txHash
	}
	return strings.TrimRight(cc.ScanURL, "/") + "/tx/" + txHash
}
