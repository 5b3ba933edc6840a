package ppc

import (
	"fmt"
	"sort"

	"github.com/tinyrange/ppcrecomp/internal/config"
)

const (
	defaultDataRegionThreshold    = 16
	defaultLargeFunctionThreshold = 1 << 20 // 1 MiB
	defaultMaxJumpExtension       = 1 << 16
)

// Options tunes the analyzer's discovery heuristics (spec.md §4.1
// "Algorithms"). The zero value selects every documented default.
type Options struct {
	// Force allows Load to return a FunctionGraph alongside a non-nil
	// *AnalysisError instead of only the error, so callers (the CLI's
	// --force flag) can proceed with emission despite diagnostics.
	Force bool

	DataRegionThreshold    int
	LargeFunctionThreshold uint32
	MaxJumpExtension       uint32
}

func (o Options) dataRegionThreshold() int {
	if o.DataRegionThreshold > 0 {
		return o.DataRegionThreshold
	}
	return defaultDataRegionThreshold
}

func (o Options) largeFunctionThreshold() uint32 {
	if o.LargeFunctionThreshold > 0 {
		return o.LargeFunctionThreshold
	}
	return defaultLargeFunctionThreshold
}

func (o Options) maxJumpExtension() uint32 {
	if o.MaxJumpExtension > 0 {
		return o.MaxJumpExtension
	}
	return defaultMaxJumpExtension
}

type analyzer struct {
	img   *Image
	hints *config.Hints
	opts  Options

	diagnostics []Diagnostic
	functions   map[uint32]*Function
	seeded      map[uint32]bool
	seedQueue   []uint32
	dataRegions []DataRegion
}

// Load disassembles img's executable sections, discovers function
// boundaries, builds per-function CFGs, and recovers jump tables, applying
// hints throughout (spec.md §4.1). It returns a *FunctionGraph and, if any
// diagnostics were collected, a non-nil *AnalysisError. When opts.Force is
// false the graph is nil whenever diagnostics were produced, matching "these
// block emission unless a force flag is set."
func Load(img *Image, hints *config.Hints, opts Options) (*FunctionGraph, error) {
	if hints == nil {
		hints = config.Empty()
	}

	a := &analyzer{
		img:       img,
		hints:     hints,
		opts:      opts,
		functions: map[uint32]*Function{},
		seeded:    map[uint32]bool{},
	}

	a.enqueueSeed(img.EntryPoint)
	for _, addr := range img.ExportedFunctions {
		a.enqueueSeed(addr)
	}
	for addr := range hints.Functions {
		a.enqueueSeed(addr)
	}

	a.checkOverlaps()

	for len(a.seedQueue) > 0 {
		addr := a.seedQueue[0]
		a.seedQueue = a.seedQueue[1:]
		if _, exists := a.functions[addr]; exists {
			continue
		}
		a.functions[addr] = a.analyzeFunction(addr)
	}

	graph := &FunctionGraph{DataRegions: a.dataRegions}
	for _, addr := range sortedKeys(a.functions) {
		graph.Functions = append(graph.Functions, a.functions[addr])
	}

	if len(a.diagnostics) == 0 {
		return graph, nil
	}

	err := &AnalysisError{Diagnostics: a.diagnostics}
	if opts.Force {
		return graph, err
	}
	return nil, err
}

func sortedKeys(m map[uint32]*Function) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (a *analyzer) enqueueSeed(addr uint32) {
	if addr == 0 || a.seeded[addr] {
		return
	}
	a.seeded[addr] = true
	a.seedQueue = append(a.seedQueue, addr)
}

func (a *analyzer) diag(kind DiagnosticKind, addr uint32, err error) {
	a.diagnostics = append(a.diagnostics, Diagnostic{Kind: kind, Addr: addr, Err: err})
}

// checkOverlaps flags user-declared functions whose hinted [addr, end) range
// overlaps another hinted function's range (spec.md §4.1 Failures).
func (a *analyzer) checkOverlaps() {
	type span struct{ start, end uint32 }
	var spans []span
	for addr, h := range a.hints.Functions {
		end := h.End
		if end == 0 && h.Size != 0 {
			end = addr + h.Size
		}
		if end == 0 {
			continue // size inferred later; nothing to check yet
		}
		spans = append(spans, span{addr, end})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			a.diag(DiagOverlappingFunction, spans[i].start, fmt.Errorf(
				"%w: [%#x,%#x) overlaps [%#x,%#x)",
				ErrOverlappingFunction, spans[i].start, spans[i].end, spans[i-1].start, spans[i-1].end))
		}
	}
}

type blockSweepResult struct {
	block       BasicBlock
	term        terminatorKind
	successors  []uint32 // block-local successors within the same function
	calls       []uint32 // direct-call targets, new function seeds
	jumpTable   *JumpTable
	dataRegion  *DataRegion
}

func (a *analyzer) analyzeFunction(entry uint32) *Function {
	fn := &Function{EntryAddr: entry}
	if h, ok := a.hints.Functions[entry]; ok {
		fn.Name = h.Name
	}
	if fn.Name == "" {
		fn.Name = fmt.Sprintf("sub_%08X", entry)
	}
	for _, exc := range a.hints.ExceptionHandlerFuncHints {
		if exc == entry {
			fn.IsExceptionHandler = true
		}
	}

	starts := map[uint32]bool{entry: true}
	worklist := []uint32{entry}
	blocksByStart := map[uint32]*BasicBlock{}
	var edges []Edge
	var jumpTables []JumpTable

	for len(worklist) > 0 {
		addr := worklist[0]
		worklist = worklist[1:]
		if _, done := blocksByStart[addr]; done {
			continue
		}

		res := a.sweepBlock(entry, addr)
		blocksByStart[addr] = &res.block

		if res.dataRegion != nil {
			a.dataRegions = append(a.dataRegions, *res.dataRegion)
		}
		if res.jumpTable != nil {
			jumpTables = append(jumpTables, *res.jumpTable)
		}

		for _, c := range res.calls {
			a.enqueueSeed(c)
		}

		for _, s := range res.successors {
			edges = append(edges, Edge{From: res.block.StartAddr, To: s, Kind: edgeKindFor(res.term, s, res.successors)})
			if !starts[s] {
				starts[s] = true
				worklist = append(worklist, s)
			}
		}
	}

	maxEnd := entry
	for _, b := range blocksByStart {
		if b.EndAddr > maxEnd {
			maxEnd = b.EndAddr
		}
	}
	fn.Length = maxEnd - entry

	if h, ok := a.hints.Functions[entry]; ok {
		if h.End != 0 {
			fn.Length = h.End - entry
		} else if h.Size != 0 {
			fn.Length = h.Size
		}
	}

	if fn.Length > a.opts.largeFunctionThreshold() {
		a.diag(DiagOversizeFunction, entry, fmt.Errorf("%w: %s is %d bytes", ErrOversizeFunction, fn.Name, fn.Length))
	}

	for _, addr := range sortedBlockKeys(blocksByStart) {
		fn.Blocks = append(fn.Blocks, *blocksByStart[addr])
	}
	fn.Edges = edges
	fn.JumpTables = jumpTables

	return fn
}

func sortedBlockKeys(m map[uint32]*BasicBlock) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func edgeKindFor(term terminatorKind, to uint32, successors []uint32) EdgeKind {
	switch term {
	case termUnconditionalBranch, termConditionalBranch:
		if len(successors) == 2 && to == successors[0] {
			return EdgeBranchTaken
		}
		if len(successors) == 2 {
			return EdgeBranchNotTaken
		}
		return EdgeBranchTaken
	case termIndirectDispatch:
		return EdgeJumpTable
	default:
		return EdgeFallthrough
	}
}

// sweepBlock linearly decodes instructions starting at addr until it hits a
// control-flow terminator or a data-region run. It does not stop at other
// blocks' start addresses, so a branch into the middle of an already swept
// run yields overlapping blocks.
func (a *analyzer) sweepBlock(funcEntry, addr uint32) blockSweepResult {
	block := BasicBlock{StartAddr: addr}
	consecutiveFailures := 0
	failureStart := uint32(0)
	cur := addr

	for {
		raw, ok := a.img.readWord(cur)
		if !ok {
			return blockSweepResult{block: block, term: termReturn}
		}

		ins, err := Decode(cur, raw)
		if err != nil {
			if consecutiveFailures == 0 {
				failureStart = cur
			}
			consecutiveFailures++
			if consecutiveFailures >= a.opts.dataRegionThreshold() {
				a.diag(DiagUnknownOpcode, failureStart, err)
				block.EndAddr = failureStart
				return blockSweepResult{
					block:      block,
					term:       termReturn,
					dataRegion: &DataRegion{StartAddr: failureStart, EndAddr: cur + Size},
				}
			}
			cur += Size
			continue
		}
		consecutiveFailures = 0
		block.Instrs = append(block.Instrs, ins)

		kind := classify(ins)
		switch kind {
		case termNone:
			cur += Size
			continue

		case termCall:
			block.EndAddr = cur + Size
			var callee uint32
			if ins.Op == OpB || ins.Op == OpBc {
				callee = branchTarget(ins)
			}
			cur += Size
			if callee != 0 {
				return blockSweepResult{block: block, term: kind, successors: []uint32{cur}, calls: []uint32{callee}}
			}
			continue

		case termReturn:
			block.EndAddr = cur + Size
			return blockSweepResult{block: block, term: kind}

		case termUnconditionalBranch:
			block.EndAddr = cur + Size
			return blockSweepResult{block: block, term: kind, successors: []uint32{branchTarget(ins)}}

		case termConditionalBranch:
			block.EndAddr = cur + Size
			fallthroughAddr := cur + Size
			return blockSweepResult{block: block, term: kind, successors: []uint32{branchTarget(ins), fallthroughAddr}}

		case termIndirectDispatch:
			block.EndAddr = cur + Size
			jt, targets := a.resolveJumpTable(ins)
			res := blockSweepResult{block: block, term: kind, jumpTable: jt}
			if jt != nil {
				for _, t := range targets {
					if t >= funcEntry && t < funcEntry+a.opts.maxJumpExtension() {
						res.successors = append(res.successors, t)
					}
				}
			} else if !a.isKnownIndirectCall(ins.Addr) {
				a.diag(DiagUnresolvedBranch, ins.Addr, fmt.Errorf("%w: bctr at %#08x with no switch-table hint", ErrUnresolvedBranch, ins.Addr))
			}
			return res
		}

		// Any other terminator kind continues the sweep at the next word.
		cur += Size
	}
}

func (a *analyzer) isKnownIndirectCall(addr uint32) bool {
	for _, c := range a.hints.KnownIndirectCallHints {
		if c == addr {
			return true
		}
	}
	return false
}

// resolveJumpTable looks up a switch-table hint keyed by the dispatching
// bctr's address and reads its code-pointer entries out of the image
// (spec.md §4.1 "Jump tables").
func (a *analyzer) resolveJumpTable(ins Instruction) (*JumpTable, []uint32) {
	h, ok := a.hints.SwitchTables[ins.Addr]
	if !ok {
		return nil, nil
	}
	stride := h.Stride
	if stride == 0 {
		stride = 4
	}
	jt := &JumpTable{
		GuardAddr: ins.Addr,
		Base:      h.Base,
		Count:     h.Count,
		Stride:    stride,
		BoundsReg: ins.RA,
	}
	targets := make([]uint32, 0, h.Count)
	for i := uint32(0); i < h.Count; i++ {
		addr := h.Base + i*stride
		word, ok := a.img.readWordData(addr)
		if !ok {
			a.diag(DiagMalformedJumpTable, ins.Addr, fmt.Errorf("%w: entry %d of table at %#08x unreadable", ErrMalformedJumpTable, i, h.Base))
			continue
		}
		targets = append(targets, word)
	}
	jt.Targets = targets
	return jt, targets
}
