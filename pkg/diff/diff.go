// Package diff classifies the change between two full document snapshots.
//
// It is a best-effort, single-writer classifier: the caller is expected to diff
// against the current latest version, and two independently produced snapshots
// are never merged.
package diff

import "doc-sync/pkg/db"

// Result describes one edit.
type Result struct {
	Position int
	Kind     db.OperationKind
	// Content is the full new snapshot, or the previous snapshot when the
	// document was cleared.
	Content db.Content
	// BlockID and ContentType describe the block at Position.
	BlockID     string
	ContentType string
}

// Diff derives the operation that turns previous into next. A nil previous
// means the document has no history yet. ok is false when nothing changed.
func Diff(previous *db.Content, next db.Content) (res Result, ok bool) {
	if previous == nil {
		return describe(Result{Position: 0, Kind: db.OpInsert, Content: next}, next, 0), true
	}

	prev := *previous
	switch {
	case prev.IsEmpty() && next.IsEmpty():
		return Result{}, false
	case prev.IsEmpty():
		return describe(Result{Position: 0, Kind: db.OpInsert, Content: next}, next, 0), true
	case next.IsEmpty():
		return describe(Result{Position: 0, Kind: db.OpDelete, Content: prev}, prev, 0), true
	}

	position, changed := firstDifference(prev, next)
	if !changed {
		return Result{}, false
	}

	res = Result{Position: position, Content: next}
	switch {
	case next.Len() > prev.Len():
		res.Kind = db.OpInsert
		if next.Blocks[position].IsImage() {
			res.Kind = db.OpImageInsert
		}
		return describe(res, next, position), true

	case next.Len() < prev.Len():
		res.Kind = db.OpDelete
		return describe(res, prev, position), true
	}

	before, after := prev.Blocks[position], next.Blocks[position]
	switch {
	case after.IsImage():
		res.Kind = db.OpImageInsert
	case before.IsImage():
		res.Kind = db.OpImageDelete
	case after.TextLength() >= before.TextLength():
		res.Kind = db.OpInsert
	default:
		res.Kind = db.OpDelete
	}
	return describe(res, next, position), true
}

// firstDifference returns the first index where the block lists diverge.
// When one list is a prefix of the other, that index is the shorter length.
func firstDifference(prev, next db.Content) (int, bool) {
	shorter := prev.Len()
	if next.Len() < shorter {
		shorter = next.Len()
	}
	for i := 0; i < shorter; i++ {
		if !prev.Blocks[i].Equal(next.Blocks[i]) {
			return i, true
		}
	}
	if prev.Len() == next.Len() {
		return 0, false
	}
	return shorter, true
}

// describe records the block at position, which for deletes is the removed block.
func describe(res Result, source db.Content, position int) Result {
	if position < source.Len() {
		block := source.Blocks[position]
		res.BlockID = block.ID
		res.ContentType = block.Type
	}
	return res
}
