package orchestrator

import "github.com/paperflow/pipeline/pkg/models"

// ParallelGroup is the set of stages that run concurrently once
// PAPER_PROCESSOR completes, bounded by MaxConcurrentAgents (spec §4.D).
var ParallelGroup = []models.AgentID{
	models.AgentMetadataEnhancer,
	models.AgentContentSummarizer,
	models.AgentConceptExplainer,
}

// SequentialTail is the rest of the stage graph, run strictly in order
// after the parallel group joins at QUALITY_CHECKER (spec §4.D diagram).
var SequentialTail = []models.AgentID{
	models.AgentQualityChecker,
	models.AgentCitationFormatter,
	models.AgentCitationVerifier,
	models.AgentPerplexityResearcher,
	models.AgentRelatedPaperDiscovery,
}

// FatalStages abort the whole run on failure (spec §4.D "Stage failure
// policy"). Every other known stage is best-effort.
var FatalStages = map[models.AgentID]bool{
	models.AgentPaperProcessor:    true,
	models.AgentContentSummarizer: true,
	models.AgentConceptExplainer:  true,
	models.AgentQualityChecker:    true,
}

// IsFatal reports whether a stage's failure must abort the run.
func IsFatal(agentID models.AgentID) bool { return FatalStages[agentID] }

// ProgressTable is the fixed per-stage progress_percent table (spec §4.D).
// "finalize" (100) is applied directly by the run loop, not looked up here.
var ProgressTable = map[models.AgentID]int{
	models.AgentPaperProcessor:        15,
	models.AgentMetadataEnhancer:      25,
	models.AgentContentSummarizer:     45,
	models.AgentConceptExplainer:      55,
	models.AgentQualityChecker:        65,
	models.AgentCitationFormatter:     72,
	models.AgentCitationVerifier:      78,
	models.AgentPerplexityResearcher:  88,
	models.AgentRelatedPaperDiscovery: 95,
}

// FinalizeProgress is the terminal progress_percent a COMPLETED run reports.
const FinalizeProgress = 100

// stageEnabled reports whether agentID is not in the run's disabled-stage
// list (spec §4.D: "disabled stages are skipped and contribute no progress
// change").
func stageEnabled(disabled []models.AgentID, agentID models.AgentID) bool {
	for _, d := range disabled {
		if d == agentID {
			return false
		}
	}
	return true
}
