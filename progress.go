package slyconv

import (
	"log"
)

// Progress reports the number of processed items of a task to the log.
type Progress struct {
	Name  string
	Total int
	done  int
}

// NewProgress returns a Progress for total items.
func NewProgress(name string, total int) *Progress {
	return &Progress{Name: name, Total: total}
}

// Done records n more processed items and logs the new state.
func (p *Progress) Done(n int) {
	p.done += n
	pct := 100.0
	if p.Total > 0 {
		pct = 100 * float64(p.done) / float64(p.Total)
	}
	log.Printf("%s: %d/%d (%.1f%%)", p.Name, p.done, p.Total, pct)
}

// Count returns the number of processed items.
func (p *Progress) Count() int {
	return p.done
}
