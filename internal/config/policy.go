package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/services/claims"
	"github.com/R3E-Network/scratchcards/internal/app/services/grids"
	"github.com/R3E-Network/scratchcards/internal/app/services/prizes"
	"github.com/R3E-Network/scratchcards/internal/app/services/provisioning"
)

//go:embed policy.schema.json
var policySchemaJSON []byte

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

const policySchemaURL = "policy.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func policySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(policySchemaURL, bytes.NewReader(policySchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile(policySchemaURL)
	})
	return schema, schemaErr
}

// PolicyFile is the YAML form of a game.
type PolicyFile struct {
	PrizeAsset          string            `yaml:"prize_asset"`
	PeerWinAsset        string            `yaml:"peer_win_asset"`
	AssetDecimals       map[string]int32  `yaml:"asset_decimals"`
	DecoyAmounts        []string          `yaml:"decoy_amounts"`
	DecoyAssets         []string          `yaml:"decoy_assets"`
	PeerCellProbability *float64          `yaml:"peer_cell_probability"`
	MaxRedraws          int               `yaml:"max_redraws"`
	MaxGridAttempts     int               `yaml:"max_grid_attempts"`
	Bands               []prizes.BandSpec `yaml:"bands"`
}

// Policy is a validated game, split into what each service consumes.
type Policy struct {
	Prizes        prizes.Policy
	Game          provisioning.Game
	Grids         grids.Settings
	AssetDecimals claims.AssetDecimals
	PeerWinAsset  common.Address
}

// LoadPolicy reads and validates the policy at path. An empty path loads the
// built-in reference game.
func LoadPolicy(path string) (*Policy, error) {
	data := defaultPolicyYAML
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		data = raw
	}
	policy, err := ParsePolicy(data)
	if err != nil {
		if path == "" {
			path = "built-in policy"
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return policy, nil
}

// ParsePolicy validates YAML against the policy schema and builds the game.
// Every failure wraps card.ErrConfiguration.
func ParsePolicy(data []byte) (*Policy, error) {
	if err := validatePolicyDocument(data); err != nil {
		return nil, fmt.Errorf("%w: %v", card.ErrConfiguration, err)
	}

	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse policy: %v", card.ErrConfiguration, err)
	}
	return file.build()
}

func validatePolicyDocument(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse policy: %w", err)
	}
	// Round-trip through JSON so numbers and maps take the shapes the
	// validator expects.
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	var value interface{}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return fmt.Errorf("decode policy: %w", err)
	}
	s, err := policySchema()
	if err != nil {
		return fmt.Errorf("compile policy schema: %w", err)
	}
	return s.Validate(value)
}

func (f PolicyFile) build() (*Policy, error) {
	prizePolicy, err := prizes.PolicyFromSpecs(f.Bands)
	if err != nil {
		return nil, err
	}

	amounts := make([]decimal.Decimal, 0, len(f.DecoyAmounts))
	for _, raw := range f.DecoyAmounts {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decoy amount %q: %v", card.ErrConfiguration, raw, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("%w: decoy amount %q must be positive", card.ErrConfiguration, raw)
		}
		amounts = append(amounts, d)
	}

	game := provisioning.Game{
		PrizeAsset:   strings.ToLower(f.PrizeAsset),
		DecoyAmounts: amounts,
		DecoyAssets:  make([]string, 0, len(f.DecoyAssets)),
	}
	for _, a := range f.DecoyAssets {
		game.DecoyAssets = append(game.DecoyAssets, strings.ToLower(a))
	}
	if err := game.Validate(); err != nil {
		return nil, err
	}

	decimals, err := claims.NewAssetDecimals(f.AssetDecimals)
	if err != nil {
		return nil, err
	}

	settings := grids.DefaultSettings()
	if f.PeerCellProbability != nil {
		settings.PeerCellProbability = *f.PeerCellProbability
	}
	if f.MaxRedraws > 0 {
		settings.MaxRedraws = f.MaxRedraws
	}
	if f.MaxGridAttempts > 0 {
		settings.MaxGridAttempts = f.MaxGridAttempts
	}

	peerWinAsset := common.HexToAddress(f.PrizeAsset)
	if f.PeerWinAsset != "" {
		peerWinAsset = common.HexToAddress(f.PeerWinAsset)
	}

	return &Policy{
		Prizes:        prizePolicy,
		Game:          game,
		Grids:         settings,
		AssetDecimals: decimals,
		PeerWinAsset:  peerWinAsset,
	}, nil
}
