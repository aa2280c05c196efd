package chains

import (
	_ "embed"
	"maps"
	"math/big"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed public/chains.yaml
var chainsCfg []byte

// Chain is an opaque, process-wide identifier for a configured chain. It is
// stable for the lifetime of the process and never reused for a different
// chain within a run.
type Chain int

const (
	Unknown Chain = iota
	ETHEREUM
	POLYGON
	ARBITRUM
	OPTIMISM
	BASE
	SOLANA
)

var chainCodes = map[Chain]string{
	Unknown:  "unknown",
	ETHEREUM: "ethereum",
	POLYGON:  "polygon",
	ARBITRUM: "arbitrum",
	OPTIMISM: "optimism",
	BASE:     "base",
	SOLANA:   "solana",
}

// chainsMap resolves a short-name found in chains.yaml to its numeric Chain.
// New chains are added here, not inferred from the yaml, so that Chain
// values stay stable across config edits.
var chainsMap = map[string]Chain{
	"ethereum":  ETHEREUM,
	"eth":       ETHEREUM,
	"polygon":   POLYGON,
	"arbitrum":  ARBITRUM,
	"optimism":  OPTIMISM,
	"base":      BASE,
	"solana":    SOLANA,
}

func (c Chain) String() string {
	if code, ok := chainCodes[c]; ok {
		return code
	}
	return "unknown"
}

type BlockchainType string

const (
	Ethereum BlockchainType = "eth"
	Solana   BlockchainType = "solana"
)

type ChainConfig struct {
	ChainSettings ChainSettings `yaml:"chain-settings"`
}

type ChainSettings struct {
	Protocols []Protocol             `yaml:"protocols"`
	Default   map[string]interface{} `yaml:"default"`
}

type ChainData struct {
	ShortNames []string               `yaml:"short-names"`
	ChainId    string                 `yaml:"chain-id"`
	Settings   map[string]interface{} `yaml:"settings"`
	NetVersion string                 `yaml:"net-version"`
}

type Protocol struct {
	Chains   []ChainData            `yaml:"chains"`
	Settings map[string]interface{} `yaml:"settings"`
	Type     BlockchainType         `yaml:"type"`
}

type Settings struct {
	ExpectedBlockTime time.Duration `yaml:"expected-block-time"`
}

type ConfiguredChain struct {
	ChainId    string
	NetVersion string
	ShortNames []string
	Type       BlockchainType
	Settings   Settings
	Chain      Chain
}

var UnknownChain = &ConfiguredChain{
	ChainId:    "0x0",
	NetVersion: "0",
	ShortNames: []string{},
	Settings:   Settings{},
	Chain:      Unknown,
}

var registry map[string]*ConfiguredChain

func init() {
	result, err := configureChains()
	if err != nil {
		panic(err)
	}
	registry = result
}

func GetAllChains() map[string]*ConfiguredChain {
	return maps.Clone(registry)
}

func IsSupported(chainName string) bool {
	_, ok := registry[chainName]
	return ok
}

func GetChain(chainName string) *ConfiguredChain {
	found, ok := registry[chainName]
	if !ok {
		return UnknownChain
	}
	return found
}

func GetChainByChainIdAndVersion(chainId, netVersion string) *ConfiguredChain {
	for _, chain := range registry {
		if chain.ChainId == chainId && chain.NetVersion == netVersion {
			return chain
		}
	}
	return UnknownChain
}

func configureChains() (map[string]*ConfiguredChain, error) {
	configuredChains := make(map[string]*ConfiguredChain)

	var config ChainConfig
	if err := yaml.Unmarshal(chainsCfg, &config); err != nil {
		return nil, err
	}

	for _, protocol := range config.ChainSettings.Protocols {
		defaultSettings := deepMerge(config.ChainSettings.Default, protocol.Settings)
		for _, chain := range protocol.Chains {
			chainSettings := deepMerge(defaultSettings, chain.Settings)
			out, err := yaml.Marshal(chainSettings)
			if err != nil {
				return nil, err
			}
			settings := Settings{}
			if err = yaml.Unmarshal(out, &settings); err != nil {
				return nil, err
			}

			network, ok := chainsMap[chain.ShortNames[0]]
			if !ok {
				continue
			}
			netVersion := lo.Ternary(chain.NetVersion != "", chain.NetVersion, getNetVersion(chain.ChainId))

			configuredChain := &ConfiguredChain{
				ChainId:    chain.ChainId,
				ShortNames: chain.ShortNames,
				NetVersion: netVersion,
				Type:       protocol.Type,
				Settings:   settings,
				Chain:      network,
			}

			for _, shortName := range chain.ShortNames {
				configuredChains[shortName] = configuredChain
			}
		}
	}

	return configuredChains, nil
}

func getNetVersion(chainId string) string {
	n := new(big.Int)
	n.SetString(chainId, 0)
	return n.String()
}

func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	newMap := make(map[string]interface{})

	for key, value := range dst {
		newMap[key] = value
	}

	for key, srcVal := range src {
		if dstVal, ok := dst[key]; ok {
			if srcMap, srcMapOk := srcVal.(map[string]interface{}); srcMapOk {
				if dstMap, dstMapOk := dstVal.(map[string]interface{}); dstMapOk {
					newMap[key] = deepMerge(dstMap, srcMap)
					continue
				}
			}
		}
		newMap[key] = srcVal
	}

	return newMap
}
