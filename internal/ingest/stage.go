package ingest

import "fmt"

// Stage is the position of an item in the ingestion state machine.
type Stage int

const (
	StageReceived Stage = iota
	StageEmbedded
	StageDescribed
	StageReDescribedEmbedded
	StageStored
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageReceived:            "received",
	StageEmbedded:            "embedded",
	StageDescribed:           "described",
	StageReDescribedEmbedded: "redescribed_embedded",
	StageStored:              "stored",
	StageDone:                "done",
	StageFailed:              "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Terminal reports whether no further transition can follow s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Transition is reported to an Observer on every state change.
type Transition struct {
	Item string
	From Stage
	To   Stage
	// Err is set when To is StageFailed.
	Err error
}

// Observer receives transitions. It is called synchronously from the
// ingesting goroutine and must not block.
type Observer func(Transition)

// ItemError reports why an item failed. Stage is the last stage the item
// reached before failing.
type ItemError struct {
	Item  string
	Stage Stage
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("ingest %s: failed after %s: %v", e.Item, e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
