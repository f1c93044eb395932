// Package rewriter implements the sequence/timestamp/picture-id rewriter of
// spec §4.1: a single generic state machine that keeps a per-subscriber
// output counter strictly monotone (modulo wrap) while its input switches
// between simulcast/SVC layers, drops packets, or jumps across a codec
// switch gap.
//
// The wrap-handling core (ExpandCounter) is a direct generalization of the
// teacher's rollover-counter expansion
// (pkg/peer/subscription/rewriter/expand.go); everything above it — the
// drop-aware compaction and the reinit/offset API — is new, since the
// teacher's rewriter keys continuity off an SSRC change rather than
// explicit drop/reinit calls.
package rewriter

import "golang.org/x/exp/constraints"

// Width is the bit width of the modular value space being rewritten: 16 for
// RTP sequence numbers, 32 for RTP timestamps, 15 for VP9 picture ids (§4.1).
type Width uint8

const (
	Width16 Width = 16
	Width32 Width = 32
	Width15 Width = 15
)

func (w Width) modulus() uint64 {
	return 1 << uint(w)
}

// maxDroppedEntries caps the membership-test set for drop_value (§4.1).
const maxDroppedEntries = 1000

// Rewriter rewrites a single monotone counter (sequence number, timestamp,
// or picture id) across layer switches, drops, and codec-switch gaps.
//
// Not safe for concurrent use; callers own one Rewriter per (subscriber,
// counter kind) and drive it from a single goroutine, per the event-loop
// model of §5.
type Rewriter struct {
	width Width

	// latestExpandedInput is the "latest observed" pointer ExpandCounter
	// needs to detect rollover/rollunder.
	latestExpandedInput uint64
	// maxInputSeen is the highest expanded input value observed via either
	// generate or drop_value, used to reject stale drop_value calls.
	maxInputSeen    uint64
	haveMaxInputSeen bool

	// initialized is false until the first Generate call after
	// construction or after a reinit, at which point firstIncomingExtended
	// and base get established.
	initialized           bool
	firstIncomingExtended uint64
	base                  uint64
	dropCount             uint64

	// maxOutput is the highest output value ever produced; -1 (via
	// haveMaxOutput=false) before the first packet.
	maxOutput    uint64
	haveMaxOutput bool
	// lastFullOutput is the most recent unwrapped (non-modular) output,
	// exposed via GenerateExtended.
	lastFullOutput uint64

	// reinitPending/pendingOffset implement reinit()/offset() (§4.1): the
	// next generate() call re-establishes base at maxOutput+1+pendingOffset
	// instead of continuing the current delta.
	reinitPending bool
	pendingOffset uint64

	// pendingDrops holds expanded values dropped while initialized is false
	// (before the first base, or a new one after Reinit, is established) so they still count
	// towards the compaction once the new epoch starts.
	pendingDrops []uint64

	droppedOrder []uint64
	droppedSet   map[uint64]struct{}
}

// New creates a Rewriter for a counter of the given bit width.
func New(width Width) *Rewriter {
	return &Rewriter{
		width:      width,
		droppedSet: make(map[uint64]struct{}),
	}
}

// Reinit marks that the next input starts a new source: the next call to
// Generate will synchronize the base so its output equals
// maxOutputBeforeReinit + 1 + any pending Offset (§4.1).
func (r *Rewriter) Reinit() {
	r.reinitPending = true
	r.initialized = false
}

// Offset shifts the base by n, used when an adjacent codec switch
// introduces a frame gap that must be reflected downstream (§4.1).
func (r *Rewriter) Offset(n uint64) {
	if r.initialized && !r.reinitPending {
		r.base += n
		if r.haveMaxOutput {
			r.maxOutput += n
		}
		return
	}
	r.pendingOffset += n
}

// DropValue records that input v was intentionally dropped: Generate(v)
// will return false, and the compaction keeps downstream output contiguous
// (§4.1, §8 "drop-aware base").
func (r *Rewriter) DropValue(v uint64) {
	expanded := ExpandCounter(v, uint64(r.width), &r.latestExpandedInput)

	if r.haveMaxInputSeen && expanded <= r.maxInputSeen {
		// Stale/duplicate drop notification; only values higher than the
		// previously seen max input are recorded (§4.1).
		return
	}
	r.maxInputSeen = expanded
	r.haveMaxInputSeen = true

	if !r.initialized {
		r.pendingDrops = append(r.pendingDrops, expanded)
		r.remember(expanded)
		return
	}

	r.dropCount++
	r.remember(expanded)
}

func (r *Rewriter) remember(expanded uint64) {
	if _, ok := r.droppedSet[expanded]; ok {
		return
	}
	r.droppedSet[expanded] = struct{}{}
	r.droppedOrder = append(r.droppedOrder, expanded)
	if len(r.droppedOrder) > maxDroppedEntries {
		oldest := r.droppedOrder[0]
		r.droppedOrder = r.droppedOrder[1:]
		delete(r.droppedSet, oldest)
	}
}

// Generate returns the rewritten value for v, or false if v was previously
// marked dropped (§4.1).
func (r *Rewriter) Generate(v uint64) (uint64, bool) {
	expanded := ExpandCounter(v, uint64(r.width), &r.latestExpandedInput)

	if !r.haveMaxInputSeen || expanded > r.maxInputSeen {
		r.maxInputSeen = expanded
		r.haveMaxInputSeen = true
	}

	if _, dropped := r.droppedSet[expanded]; dropped {
		return 0, false
	}

	if !r.initialized {
		if r.haveMaxOutput {
			r.base = r.maxOutput + 1 + r.pendingOffset
		} else {
			r.base = r.pendingOffset
		}
		r.pendingOffset = 0
		r.firstIncomingExtended = expanded
		r.dropCount = uint64(len(r.pendingDrops))
		r.pendingDrops = nil
		r.initialized = true
		r.reinitPending = false
	}

	delta := expanded - r.firstIncomingExtended
	output := r.base + delta - r.dropCount

	if !r.haveMaxOutput || output > r.maxOutput {
		r.maxOutput = output
		r.haveMaxOutput = true
	}
	r.lastFullOutput = output

	return output % r.width.modulus(), true
}

// GenerateExtended behaves like Generate but returns the unwrapped
// (non-modular) output, useful for timestamps that downstream code wants to
// keep as a 64-bit running counter.
func (r *Rewriter) GenerateExtended(v uint64) (uint64, bool) {
	if _, ok := r.Generate(v); !ok {
		return 0, false
	}
	return r.lastFullOutput, true
}

// Less implements the half-space wrap-aware comparison of §4.1:
// a < b iff (b - a) mod MAX <= MAX/2.
func Less[T constraints.Unsigned](a, b, modulus T) bool {
	diff := (b - a) % modulus
	return diff != 0 && diff <= modulus/2
}

// ExpandCounter expands a truncated counter (sequence number, timestamp, or
// any modular counter) into an unwrapped counter using the latest observed
// value, applying the half-space wrap rule of §4.1. It mutates *latest so
// repeated calls track rollover/rollunder correctly. Ported near-verbatim
// from the teacher's pkg/peer/subscription/rewriter/expand.go.
func ExpandCounter(truncated, width uint64, latest *uint64) uint64 {
	mask := uint64(1)<<width - 1
	reallyBig := uint64(1) << (width - 1)

	truncatedLatest := *latest & mask
	latestROC := *latest >> width

	var roc uint64
	switch {
	case truncatedLatest > truncated && truncatedLatest-truncated > reallyBig:
		roc = latestROC + 1
	case latestROC > 0 && truncated > truncatedLatest && truncated-truncatedLatest > reallyBig:
		roc = latestROC - 1
	default:
		roc = latestROC
	}

	expanded := roc<<width | (truncated & mask)

	if expanded > *latest {
		*latest = expanded
	}

	return expanded
}
