package contract

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/chainkit/txsim/internal/domain"
)

//go:embed abis/*.json
var builtinABIs embed.FS

// Built-in ABI names served by every Registry.
const (
	ABIERC20         = "erc20"
	ABIUniswapRouter = "uniswap_router"
	ABICurvePool     = "curve_pool"
)

// Registry parses and hands out contract ABIs by name. The common ABIs ship
// embedded in the binary; LoadDir lets an operator add or override entries
// from *.json files on disk, keyed by file stem.
type Registry struct {
	abis map[string]abi.ABI
}

// NewRegistry returns a registry populated with the embedded ABIs.
func NewRegistry() (*Registry, error) {
	r := &Registry{abis: make(map[string]abi.ABI)}

	entries, err := builtinABIs.ReadDir("abis")
	if err != nil {
		return nil, fmt.Errorf("contract: read embedded abis: %w", err)
	}
	for _, entry := range entries {
		data, err := builtinABIs.ReadFile("abis/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("contract: read embedded abi %s: %w", entry.Name(), err)
		}
		if err := r.add(entry.Name(), data); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadDir parses every *.json file in dir and registers it under its file
// stem, overriding any embedded ABI with the same name.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("contract: read abi dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("contract: read abi %s: %w", entry.Name(), err)
		}
		if err := r.add(entry.Name(), data); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the ABI registered under name.
func (r *Registry) Get(name string) (abi.ABI, error) {
	parsed, ok := r.abis[name]
	if !ok {
		return abi.ABI{}, fmt.Errorf("contract: %q: %w", name, domain.ErrUnknownABI)
	}
	return parsed, nil
}

// Names lists the registered ABI names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.abis))
	for name := range r.abis {
		names = append(names, name)
	}
	return names
}

func (r *Registry) add(filename string, data []byte) error {
	name := strings.TrimSuffix(filename, ".json")
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("contract: parse abi %s: %w", filename, err)
	}
	r.abis[name] = parsed
	return nil
}
