// SPDX-License-Identifier: Apache-2.0

package review

import "fmt"

// Stage names one step of the review workflow.
type Stage string

const (
	StageInitialize         Stage = "initialize"
	StageDocumentDiscovery  Stage = "document_discovery"
	StageRequirementMapping Stage = "requirement_mapping"
	StageEvidenceExtraction Stage = "evidence_extraction"
	StageCrossValidation    Stage = "cross_validation"
	StageReportGeneration   Stage = "report_generation"
	StageHumanReview        Stage = "human_review"
	StageCompletion         Stage = "completion"
)

// Stages is the workflow order. Each stage depends on every stage before it.
var Stages = []Stage{
	StageInitialize,
	StageDocumentDiscovery,
	StageRequirementMapping,
	StageEvidenceExtraction,
	StageCrossValidation,
	StageReportGeneration,
	StageHumanReview,
	StageCompletion,
}

// ParseStage returns the Stage named s.
func ParseStage(s string) (Stage, error) {
	for _, stage := range Stages {
		if string(stage) == s {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Predecessors returns the stages that must be complete before s may run.
func (s Stage) Predecessors() []Stage {
	idx := s.Index()
	if idx <= 0 {
		return nil
	}
	out := make([]Stage, idx)
	copy(out, Stages[:idx])
	return out
}

// Downstream returns the stages after s, which are invalidated when s reruns.
func (s Stage) Downstream() []Stage {
	idx := s.Index()
	if idx < 0 || idx == len(Stages)-1 {
		return nil
	}
	out := make([]Stage, len(Stages)-idx-1)
	copy(out, Stages[idx+1:])
	return out
}

// Previous returns the stage before s, or s itself for the first stage.
func (s Stage) Previous() Stage {
	idx := s.Index()
	if idx <= 0 {
		return s
	}
	return Stages[idx-1]
}
