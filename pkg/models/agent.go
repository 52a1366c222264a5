package models

// AgentID enumerates the fixed set of pipeline stages/agents. Order here has
// no significance; stage ordering lives in pkg/orchestrator.
type AgentID string

const (
	AgentPaperProcessor        AgentID = "PAPER_PROCESSOR"
	AgentMetadataEnhancer      AgentID = "METADATA_ENHANCER"
	AgentContentSummarizer     AgentID = "CONTENT_SUMMARIZER"
	AgentConceptExplainer      AgentID = "CONCEPT_EXPLAINER"
	AgentQualityChecker        AgentID = "QUALITY_CHECKER"
	AgentCitationFormatter     AgentID = "CITATION_FORMATTER"
	AgentCitationVerifier      AgentID = "CITATION_VERIFIER"
	AgentPerplexityResearcher  AgentID = "PERPLEXITY_RESEARCHER"
	AgentRelatedPaperDiscovery AgentID = "RELATED_PAPER_DISCOVERY"
)

// AllAgentIDs lists every known agent, used for startup validation of the
// per-agent configuration tables (retry policy, circuit breaker, worker pool).
var AllAgentIDs = []AgentID{
	AgentPaperProcessor,
	AgentMetadataEnhancer,
	AgentContentSummarizer,
	AgentConceptExplainer,
	AgentQualityChecker,
	AgentCitationFormatter,
	AgentCitationVerifier,
	AgentPerplexityResearcher,
	AgentRelatedPaperDiscovery,
}

// Valid reports whether id is one of the known agents.
func (id AgentID) Valid() bool {
	for _, a := range AllAgentIDs {
		if a == id {
			return true
		}
	}
	return false
}
