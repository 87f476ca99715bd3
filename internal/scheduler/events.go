package scheduler

import (
	"labrun/pkg/measure"
)

// Bus topics published for every run.
//
// Lifecycle topics carry a *Experiment and fire exactly once each (at most
// one terminal topic per run). Stream topics repeat while the run is live.
const (
	TopicQueued        = "run.queued"
	TopicRunning       = "run.running"
	TopicFinished      = "run.finished"
	TopicFailed        = "run.failed"
	TopicAborted       = "run.aborted"        // abort requested
	TopicAbortReturned = "run.abort_returned" // worker fully returned after abort

	TopicProgress = "run.progress"
	TopicStatus   = "run.status"
	TopicLog      = "run.log"
	TopicResults  = "run.results"
)

// ProgressUpdate is the Data of TopicProgress events.
type ProgressUpdate struct {
	Experiment *Experiment
	Percent    float64
}

// StatusUpdate is the Data of TopicStatus events.
type StatusUpdate struct {
	Experiment *Experiment
	Status     measure.Status
}

// LogRecord is the Data of TopicLog events.
type LogRecord struct {
	Experiment *Experiment
	Message    string
}

// Row is the Data of TopicResults events; the same row has already been
// appended to the experiment's results sink by the worker.
type Row struct {
	Experiment *Experiment
	Data       map[string]any
}

// eventKind discriminates messages on the worker→monitor channel.
type eventKind int

const (
	kindStatus eventKind = iota
	kindProgress
	kindLog
	kindResults
	kindCustom
)

// event is one message on the worker→monitor channel.
type event struct {
	kind eventKind

	status   measure.Status // kindStatus
	progress float64        // kindProgress
	message  string         // kindLog
	row      map[string]any // kindResults
	topic    string         // kindCustom
	payload  any            // kindCustom
}
