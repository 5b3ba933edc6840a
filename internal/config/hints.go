// Package config loads the analyzer hint sidecar that steers function
// discovery and jump-table resolution; it also parses mid-asm hook entries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// FunctionHint declares or constrains a function the analyzer would
// otherwise have to infer on its own.
type FunctionHint struct {
	// Size, when non-zero, fixes the function's byte length and wins over
	// inference.
	Size uint32 `toml:"size" json:"size"`
	// End, when non-zero, fixes the address one past the function's last
	// byte. Size and End are mutually exclusive; End wins if both are set.
	End uint32 `toml:"end" json:"end"`
	// Name is used for the emitted host symbol; defaults to a synthesized
	// name derived from the address when empty.
	Name string `toml:"name" json:"name"`
	// Parent, when non-zero, names the function this entry is a
	// discontiguous chunk of. The analyzer does not read it: such an entry is
	// analyzed as a function of its own and is not merged into Parent.
	Parent uint32 `toml:"parent" json:"parent"`
}

// SwitchTableHint describes the jump table dispatched by the bctr at the
// hint's address. The analyzer resolves bctr targets only from these hints;
// it does not recognize a bounds-check/table-load pattern on its own.
type SwitchTableHint struct {
	Base   uint32 `toml:"base" json:"base"`
	Count  uint32 `toml:"count" json:"count"`
	Stride uint32 `toml:"stride" json:"stride"`
}

// MidAsmHook describes a host-side patch point around a specific guest
// instruction. Hooks are parsed into Hints.MidAsmHooks; neither the analyzer
// nor the emitter reads them, so no hook is inserted into generated code.
type MidAsmHook struct {
	Name string `toml:"name" json:"name"`
	// Registers lists the guest GPR/FPR/VR names the hook reads or writes,
	// e.g. "r3", "f1", "v0".
	Registers []string `toml:"registers" json:"registers"`
	// Ret, when non-empty, overrides the function's return value after the
	// hook runs.
	Ret string `toml:"ret" json:"ret"`
	// Jump, when non-zero, overrides the branch target taken after the
	// instruction the hook wraps.
	Jump uint32 `toml:"jump" json:"jump"`
	// Before runs the hook ahead of the wrapped instruction when true;
	// otherwise it runs after.
	Before bool `toml:"before" json:"before"`
}

// SegmentSpec names one image segment as a flat, already-decompressed dump
// of guest memory and the permissions it was declared with. Parsing the
// actual XEX/ELF container is out of scope (spec.md §1); this sidecar
// format lets the CLI stand in for that loader during development and
// testing by pointing at pre-extracted segment dumps.
type SegmentSpec struct {
	Path      string `toml:"path" json:"path"`
	GuestBase uint32 `toml:"guest_base" json:"guest_base"`
	Flags     string `toml:"flags" json:"flags"` // any of "r", "w", "x"
}

// ImageConfig describes the input binary when the sidecar is standing in
// for an XEX/ELF loader.
type ImageConfig struct {
	EntryPoint        string        `toml:"entry_point" json:"entry_point"`
	ExportedFunctions []string      `toml:"exported_functions" json:"exported_functions"`
	Segments          []SegmentSpec `toml:"segments" json:"segments"`
}

// rawHints mirrors the on-disk sidecar shape. TOML and JSON both key tables
// by string, so addresses are written as "0x82001000"-style strings and
// resolved to uint32 by Load.
type rawHints struct {
	Functions                 map[string]FunctionHint    `toml:"functions" json:"functions"`
	SwitchTables              map[string]SwitchTableHint `toml:"switch_tables" json:"switch_tables"`
	MidAsmHooks               map[string]MidAsmHook      `toml:"mid_asm_hooks" json:"mid_asm_hooks"`
	InvalidInstructionHints   map[string]uint32          `toml:"invalid_instruction_hints" json:"invalid_instruction_hints"`
	KnownIndirectCallHints    []string                   `toml:"known_indirect_call_hints" json:"known_indirect_call_hints"`
	ExceptionHandlerFuncHints []string                   `toml:"exception_handler_func_hints" json:"exception_handler_func_hints"`
	LongJmpAddress            string                     `toml:"long_jmp_address" json:"long_jmp_address"`
	SetJmpAddress             string                     `toml:"set_jmp_address" json:"set_jmp_address"`
	Image                     ImageConfig                `toml:"image" json:"image"`

	// DataRegionThreshold overrides the default 16-word run of undecodable
	// instructions that ends a function and marks the range as data. Zero
	// means "use the default."
	DataRegionThreshold int `toml:"data_region_threshold" json:"data_region_threshold"`
	// MaxJumpExtension bounds how far a function may stretch to cover a
	// jump-table target. Zero means "use the default."
	MaxJumpExtension uint32 `toml:"max_jump_extension" json:"max_jump_extension"`
	// LargeFunctionThreshold overrides the default 1MiB ceiling on function
	// size before the analyzer flags it oversized. Zero means "use the
	// default."
	LargeFunctionThreshold uint32 `toml:"large_function_threshold" json:"large_function_threshold"`
}

// Hints is the resolved, address-keyed form of the analyzer sidecar file
// (spec.md §6).
type Hints struct {
	Functions                 map[uint32]FunctionHint
	SwitchTables              map[uint32]SwitchTableHint
	MidAsmHooks               map[uint32]MidAsmHook
	InvalidInstructionHints   map[uint32]uint32
	KnownIndirectCallHints    []uint32
	ExceptionHandlerFuncHints []uint32
	LongJmpAddress            uint32
	SetJmpAddress             uint32
	Image                     ResolvedImageConfig

	DataRegionThreshold    int
	MaxJumpExtension       uint32
	LargeFunctionThreshold uint32
}

// ResolvedSegmentSpec is SegmentSpec with GuestBase already parsed and the
// permission letters expanded to booleans.
type ResolvedSegmentSpec struct {
	Path                   string
	GuestBase              uint32
	Read, Write, Execute bool
}

// ResolvedImageConfig is ImageConfig with every address string parsed.
type ResolvedImageConfig struct {
	EntryPoint        uint32
	ExportedFunctions []uint32
	Segments          []ResolvedSegmentSpec
}

// Empty returns a Hints value with no entries, suitable for analyzing an
// image with no sidecar.
func Empty() *Hints {
	return &Hints{
		Functions:               map[uint32]FunctionHint{},
		SwitchTables:            map[uint32]SwitchTableHint{},
		MidAsmHooks:             map[uint32]MidAsmHook{},
		InvalidInstructionHints: map[uint32]uint32{},
	}
}

// Load reads a hints sidecar from path, selecting the TOML or JSON decoder
// by file extension. An empty path returns Empty().
func Load(path string) (*Hints, error) {
	if path == "" {
		return Empty(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading hints file %q: %w", path, err)
	}

	var raw rawHints
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parsing TOML hints %q: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parsing JSON hints %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unrecognized hints extension %q (want .toml or .json)", ext)
	}

	return resolve(raw)
}

// parseAddr accepts both "0x..." hex and plain decimal address strings.
func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("config: invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

func resolve(raw rawHints) (*Hints, error) {
	h := Empty()
	h.DataRegionThreshold = raw.DataRegionThreshold
	h.MaxJumpExtension = raw.MaxJumpExtension
	h.LargeFunctionThreshold = raw.LargeFunctionThreshold

	for k, v := range raw.Functions {
		addr, err := parseAddr(k)
		if err != nil {
			return nil, err
		}
		h.Functions[addr] = v
	}
	for k, v := range raw.SwitchTables {
		addr, err := parseAddr(k)
		if err != nil {
			return nil, err
		}
		h.SwitchTables[addr] = v
	}
	for k, v := range raw.MidAsmHooks {
		addr, err := parseAddr(k)
		if err != nil {
			return nil, err
		}
		h.MidAsmHooks[addr] = v
	}
	for k, v := range raw.InvalidInstructionHints {
		addr, err := parseAddr(k)
		if err != nil {
			return nil, err
		}
		h.InvalidInstructionHints[addr] = v
	}
	for _, s := range raw.KnownIndirectCallHints {
		addr, err := parseAddr(s)
		if err != nil {
			return nil, err
		}
		h.KnownIndirectCallHints = append(h.KnownIndirectCallHints, addr)
	}
	for _, s := range raw.ExceptionHandlerFuncHints {
		addr, err := parseAddr(s)
		if err != nil {
			return nil, err
		}
		h.ExceptionHandlerFuncHints = append(h.ExceptionHandlerFuncHints, addr)
	}
	if raw.LongJmpAddress != "" {
		addr, err := parseAddr(raw.LongJmpAddress)
		if err != nil {
			return nil, err
		}
		h.LongJmpAddress = addr
	}
	if raw.SetJmpAddress != "" {
		addr, err := parseAddr(raw.SetJmpAddress)
		if err != nil {
			return nil, err
		}
		h.SetJmpAddress = addr
	}

	img, err := resolveImage(raw.Image)
	if err != nil {
		return nil, err
	}
	h.Image = img

	return h, nil
}

func resolveImage(raw ImageConfig) (ResolvedImageConfig, error) {
	var img ResolvedImageConfig
	if raw.EntryPoint != "" {
		addr, err := parseAddr(raw.EntryPoint)
		if err != nil {
			return img, err
		}
		img.EntryPoint = addr
	}
	for _, s := range raw.ExportedFunctions {
		addr, err := parseAddr(s)
		if err != nil {
			return img, err
		}
		img.ExportedFunctions = append(img.ExportedFunctions, addr)
	}
	for _, seg := range raw.Segments {
		r := ResolvedSegmentSpec{Path: seg.Path, GuestBase: seg.GuestBase}
		for _, c := range seg.Flags {
			switch c {
			case 'r', 'R':
				r.Read = true
			case 'w', 'W':
				r.Write = true
			case 'x', 'X':
				r.Execute = true
			default:
				return img, fmt.Errorf("config: unrecognized segment flag %q in %q", c, seg.Flags)
			}
		}
		img.Segments = append(img.Segments, r)
	}
	return img, nil
}
