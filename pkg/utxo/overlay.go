package utxo

import "github.com/gochain/gochain/pkg/block"

// View is the read interface the validator and mempool depend on, letting
// them check a transaction against either the committed Set or a layered
// Overlay without caring which (§4.3).
type View interface {
	Get(outpoint block.OutPoint) (Entry, bool)
}

// SpentChecker is implemented by views that, beyond reporting whether an
// outpoint is currently spendable, can also say whether it was spent
// within the view itself (as opposed to never having existed at all).
// The validator uses this to tell a double-spend within the current
// block or mempool overlay apart from a reference to an output that was
// never created (§4.3, §7 ErrDoubleSpend vs ErrInputMissing). The
// committed Set does not implement it: once an output is spent there and
// the spending block is applied, the Set has no memory of it ever having
// existed, so that distinction is only meaningful within an overlay's
// own lifetime.
type SpentChecker interface {
	WasSpent(outpoint block.OutPoint) bool
}

// Overlay is a copy-on-write layer over a base View: outputs spent or
// added through the overlay are tracked locally and never touch the base,
// so the mempool can validate a chain of dependent, still-unconfirmed
// transactions against a consistent view without mutating the committed
// UTXO set (§4.5 parent/child handling).
type Overlay struct {
	base    View
	spent   map[block.OutPoint]struct{}
	added   map[block.OutPoint]Entry
}

// NewOverlay wraps base in a fresh, empty overlay.
func NewOverlay(base View) *Overlay {
	return &Overlay{
		base:  base,
		spent: make(map[block.OutPoint]struct{}),
		added: make(map[block.OutPoint]Entry),
	}
}

// Get resolves outpoint: an overlay-added output takes precedence, an
// overlay-spent output is hidden even if still present in base, and
// anything else falls through to base.
func (o *Overlay) Get(outpoint block.OutPoint) (Entry, bool) {
	if _, spent := o.spent[outpoint]; spent {
		return Entry{}, false
	}
	if e, ok := o.added[outpoint]; ok {
		return e, true
	}
	return o.base.Get(outpoint)
}

// WasSpent reports whether outpoint was consumed by a transaction applied
// to this overlay or to any overlay it is layered on top of. It does not
// report on outpoints the base Set has never seen at all; those are
// simply absent, and Get already returns (Entry{}, false) for them.
func (o *Overlay) WasSpent(outpoint block.OutPoint) bool {
	if _, spent := o.spent[outpoint]; spent {
		return true
	}
	if _, added := o.added[outpoint]; added {
		return false
	}
	if sc, ok := o.base.(SpentChecker); ok {
		return sc.WasSpent(outpoint)
	}
	return false
}

// Apply layers a transaction's effects onto the overlay: its inputs become
// spent and its outputs become visible to subsequent Get calls, without
// touching the base view. height is used to stamp newly-visible outputs.
func (o *Overlay) Apply(tx *block.Transaction, height uint64) {
	txid := tx.TxID()
	for _, in := range tx.Inputs {
		delete(o.added, in.Prev)
		o.spent[in.Prev] = struct{}{}
	}
	for vout := range tx.Outputs {
		outpoint := block.OutPoint{TxID: txid, Vout: uint32(vout)}
		o.added[outpoint] = Entry{
			Output:     tx.Outputs[vout],
			Height:     height,
			IsCoinbase: tx.IsCoinbase(),
		}
	}
}

// Child returns a fresh overlay layered on top of this one, letting a
// caller validate a speculative transaction without polluting the parent
// overlay's own state.
func (o *Overlay) Child() *Overlay {
	return NewOverlay(o)
}
