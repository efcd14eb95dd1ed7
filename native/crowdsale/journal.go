package crowdsale

// journal records the inverse of every mutation made during one ledger call
// so a failure after the first write can put everything back.
type journal struct {
	undo []func()
}

func newJournal() *journal { return &journal{} }

func (j *journal) append(fn func()) {
	if j == nil || fn == nil {
		return
	}
	j.undo = append(j.undo, fn)
}

// revert replays the recorded inverses newest first and empties the journal.
func (j *journal) revert() {
	if j == nil {
		return
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func (j *journal) length() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}
