package genesis

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"ledgerkernel/core/resource"
)

// GenesisSpec describes the initial ledger: the fee resource and the
// key-controlled accounts funded with it.
type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime"`
	FeeToken    NativeTokenSpec   `json:"feeToken"`
	Alloc       map[string]string `json:"alloc"` // hex public key -> fee token amount

	genesisTimestamp time.Time
	accounts         []Allocation
}

type NativeTokenSpec struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Allocation is one validated entry of the alloc map.
type Allocation struct {
	PublicKey []byte
	Amount    resource.Decimal
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Accounts returns the allocations ordered by public key.
func (s *GenesisSpec) Accounts() []Allocation { return s.accounts }

// Validate checks the spec and caches the parsed allocations.
func (s *GenesisSpec) Validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if err := s.FeeToken.validate(); err != nil {
		return fmt.Errorf("feeToken: %w", err)
	}

	keys := make([]string, 0, len(s.Alloc))
	for key := range s.Alloc {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	s.accounts = s.accounts[:0]
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		pub, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(key), "0x"))
		if err != nil || len(pub) == 0 {
			return fmt.Errorf("alloc[%q]: invalid public key", key)
		}
		canonical := hex.EncodeToString(pub)
		if _, dup := seen[canonical]; dup {
			return fmt.Errorf("alloc[%q]: duplicate public key", key)
		}
		seen[canonical] = struct{}{}
		amount, err := parseAmountString(s.Alloc[key])
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", key, err)
		}
		s.accounts = append(s.accounts, Allocation{PublicKey: pub, Amount: amount})
	}
	sort.Slice(s.accounts, func(i, j int) bool {
		return bytes.Compare(s.accounts[i].PublicKey, s.accounts[j].PublicKey) < 0
	})
	return nil
}

func (t *NativeTokenSpec) validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name must be provided")
	}
	return nil
}

func parseAmountString(value string) (resource.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return resource.Decimal{}, nil
	}
	amount, err := resource.ParseDecimal(trimmed)
	if err != nil {
		return resource.Decimal{}, fmt.Errorf("invalid amount %q", value)
	}
	if amount.IsNegative() {
		return resource.Decimal{}, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
