package audit

import "time"

// Entry represents one recorded guard finding. Offsets are byte offsets into
// the text as it existed when the finding was detected; once any guard masks
// the text they no longer align with the final output. Snippet preserves the
// matched region from the pre-mask snapshot for that reason.
type Entry struct {
	Guard       string    `json:"guard"`
	Entity      string    `json:"entity"`
	Start       int       `json:"start"`
	End         int       `json:"end"`
	Snippet     string    `json:"snippet,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink is an append-only recorder of guard findings. Entries are write-once
// and never read back by the pipeline.
type Sink interface {
	Record(entry Entry) error
	Close() error
}
