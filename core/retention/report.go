package retention

import "time"

// Report is the outcome of one sweep.
type Report struct {
	StartedAt     time.Time    `json:"startedAt"`
	FinishedAt    time.Time    `json:"finishedAt"`
	Skipped       bool         `json:"skipped"`
	SettingsError error        `json:"-"`
	Schemas       *SchemaPhase `json:"schemas,omitempty"`
	Entities      *EntityPhase `json:"entities,omitempty"`
}

// Failed reports whether any part of the sweep returned an error.
func (r Report) Failed() bool {
	if r.SettingsError != nil {
		return true
	}
	if r.Schemas != nil && r.Schemas.Err != nil {
		return true
	}
	return r.Entities != nil && (r.Entities.Err != nil || len(r.Entities.Failures) > 0)
}

// SchemaPhase reports the schema deletion phase.
type SchemaPhase struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted []string  `json:"deleted"`
	Err     error     `json:"-"`
}

// EntityPhase reports the record deletion phase, per collection.
type EntityPhase struct {
	Cutoff   time.Time           `json:"cutoff"`
	Deleted  map[string]int64    `json:"deleted"`
	Failures []CollectionFailure `json:"failures,omitempty"`
	Err      error               `json:"-"`
}

// Total is the number of records deleted across all collections.
func (p *EntityPhase) Total() int64 {
	var total int64
	for _, n := range p.Deleted {
		total += n
	}
	return total
}

// CollectionFailure records a collection that could not be pruned.
type CollectionFailure struct {
	Collection string `json:"collection"`
	Err        error  `json:"-"`
}
