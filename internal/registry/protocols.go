package registry

import "strings"

// ABIVariant selects the structural shape of a protocol's position manager.
// All downstream code branches on the variant, never on the protocol name.
type ABIVariant string

const (
	// ABIStandard is the Uniswap-V3-style shape: mint params keyed by an
	// explicit fee tier, position struct exposes fee.
	ABIStandard ABIVariant = "standard"
	// ABITickSpacing is the Slipstream-style shape: mint params keyed by tick
	// spacing directly and carrying a sqrtPriceX96 hint, position struct
	// exposes tickSpacing instead of fee.
	ABITickSpacing ABIVariant = "tickSpacingNative"
)

// ProtocolDef is the only place protocol-specific addresses and shapes live.
type ProtocolDef struct {
	Key           string
	MatchPatterns []string
	Variant       ABIVariant
	Mint          map[int64]string
	Factory       map[int64]string
	ScoreBonus    float64
}

// Support is a resolved (protocol, chain) pair ready for on-chain calls.
type Support struct {
	Def          ProtocolDef
	MintContract string
	Factory      string
}

func (s Support) Variant() ABIVariant { return s.Def.Variant }

var protocolDefs = []ProtocolDef{
	{
		Key:           "uniswap-v3",
		MatchPatterns: []string{"uniswap", "uni-v3", "uniswapv3"},
		Variant:       ABIStandard,
		Mint: map[int64]string{
			1:     "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
			10:    "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
			137:   "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
			8453:  "0x03a520b32C04BF3bEEf7BEb72E919cf822Ed34f1",
			42161: "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
		},
		Factory: map[int64]string{
			1:     "0x1F98431c8aD98523631AE4a59f267346ea31F984",
			10:    "0x1F98431c8aD98523631AE4a59f267346ea31F984",
			137:   "0x1F98431c8aD98523631AE4a59f267346ea31F984",
			8453:  "0x33128a8fC17869897dcE68Ed026d694621f6FDfD",
			42161: "0x1F98431c8aD98523631AE4a59f267346ea31F984",
		},
		ScoreBonus: 10,
	},
	{
		Key:           "pancakeswap-v3",
		MatchPatterns: []string{"pancake"},
		Variant:       ABIStandard,
		Mint: map[int64]string{
			1:     "0x46A15B0b27311cedF172AB29E4f4766fbE7F4364",
			56:    "0x46A15B0b27311cedF172AB29E4f4766fbE7F4364",
			8453:  "0x46A15B0b27311cedF172AB29E4f4766fbE7F4364",
			42161: "0x46A15B0b27311cedF172AB29E4f4766fbE7F4364",
		},
		Factory: map[int64]string{
			1:     "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865",
			56:    "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865",
			8453:  "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865",
			42161: "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865",
		},
		ScoreBonus: 7,
	},
	{
		Key:           "aerodrome-cl",
		MatchPatterns: []string{"aerodrome", "slipstream"},
		Variant:       ABITickSpacing,
		Mint: map[int64]string{
			8453: "0x827922686190790b37229fd06084350E74485b72",
		},
		Factory: map[int64]string{
			8453: "0x5e7BB104d84c7CB9B682AaC2F3d509f5F406809A",
		},
		ScoreBonus: 6,
	},
	{
		Key:           "velodrome-cl",
		MatchPatterns: []string{"velodrome"},
		Variant:       ABITickSpacing,
		Mint: map[int64]string{
			10: "0x416b433906b1B72FA758e166e239c43d68dC6F29",
		},
		Factory: map[int64]string{
			10: "0xCc0bDDB707055e04e497aB22a59c2aF4391cd12F",
		},
		ScoreBonus: 6,
	},
}

// Protocols returns the registered protocol definitions.
func Protocols() []ProtocolDef { return protocolDefs }

// Resolve maps an aggregator protocol string to a registered protocol deployed
// on the given chain. Matching is pattern-based to tolerate naming drift
// ("uniswapv3", "uniswap-v3", "Uniswap V3" all resolve the same). A protocol
// that does not match, or matches but has no mint contract on the chain,
// resolves to (Support{}, false); callers treat that as "skip", not an error.
func Resolve(protocol string, chainID int64) (Support, bool) {
	norm := strings.ToLower(strings.TrimSpace(protocol))
	if norm == "" {
		return Support{}, false
	}
	norm = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(norm)
	for _, def := range protocolDefs {
		for _, pattern := range def.MatchPatterns {
			flat := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(pattern)
			if !strings.Contains(norm, flat) {
				continue
			}
			mint, ok := def.Mint[chainID]
			if !ok {
				return Support{}, false
			}
			return Support{Def: def, MintContract: mint, Factory: def.Factory[chainID]}, true
		}
	}
	return Support{}, false
}

// feeToTickSpacing is the canonical fee-tier to tick-spacing table for
// standard-variant protocols.
var feeToTickSpacing = map[int64]int64{
	100:   1,
	500:   10,
	2500:  50,
	3000:  60,
	10000: 200,
}

// TickSpacingFor derives the pool's tick spacing: from the fee table for the
// standard variant, or the raw value for the tick-spacing-native variant.
func TickSpacingFor(variant ABIVariant, feeOrSpacing int64) int64 {
	if variant == ABITickSpacing {
		return feeOrSpacing
	}
	if spacing, ok := feeToTickSpacing[feeOrSpacing]; ok {
		return spacing
	}
	// Unknown tier: fall back to the widest common spacing rather than
	// producing unaligned ticks.
	return 200
}
