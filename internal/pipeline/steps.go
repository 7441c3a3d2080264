// Package pipeline drives a run through the fixed publish step sequence,
// persisting a step outcome after every step so a process restart resumes
// exactly at the next unstarted step.
package pipeline

import (
	"github.com/jonathan/blog-autopilot/internal/retry"
)

// Step names, in pipeline order.
const (
	StepResearch        = "RESEARCH"
	StepOutline         = "OUTLINE"
	StepDraft           = "DRAFT"
	StepRewriteSEO      = "REWRITE_SEO"
	StepImageSelect     = "IMAGE_SELECT"
	StepQualityGate     = "QUALITY_GATE"
	StepMediaUpload     = "MEDIA_UPLOAD"
	StepPostCreate      = "POST_CREATE"
	StepScheduleConfirm = "SCHEDULE_CONFIRM"
	StepDone            = "DONE"
)

// Sequence is the fixed ordered step list every run walks through.
var Sequence = []string{
	StepResearch,
	StepOutline,
	StepDraft,
	StepRewriteSEO,
	StepImageSelect,
	StepQualityGate,
	StepMediaUpload,
	StepPostCreate,
	StepScheduleConfirm,
}

// stepClass returns the retry class for a step. Steps that call the
// network get the larger attempt ceiling.
func stepClass(step string) retry.StepClass {
	if step == StepImageSelect {
		return retry.ClassLocal
	}
	return retry.ClassNetwork
}

// stepIndex returns the position of step in Sequence, or -1.
func stepIndex(step string) int {
	for i, s := range Sequence {
		if s == step {
			return i
		}
	}
	return -1
}
