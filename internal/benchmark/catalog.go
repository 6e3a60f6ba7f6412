package benchmark

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document ids of the internal knowledge base.
const (
	DocOnboarding       = "internal_onboarding"
	DocIncidentResponse = "incident_response"
	DocAPIStandards     = "api_standards"
	DocObservability    = "logging_observability"
	DocRAGPlaybook      = "rag_assistant_playbook"
	DocSecurity         = "security_basics"
	DocAWSRAGBasics     = "aws_rag_basics"
	DocAWSObservability = "aws_observability_genai"
)

// DefaultCatalog returns the built-in question set for the internal docs.
func DefaultCatalog() Catalog {
	one := func(q, doc string) Entry { return Entry{Query: q, Sources: []string{doc}} }
	return Catalog{
		one("Where are services located in the repo and what is the local setup?", DocOnboarding),
		one("What environments do we have and what should never be done in prod?", DocOnboarding),
		one("What is SEV-1 and what should happen in the first 15 minutes?", DocIncidentResponse),
		one("What do we write after an incident and what follow-ups are required?", DocIncidentResponse),
		one("What is our standard error response format?", DocAPIStandards),
		one("When should we version an API and what should we log for each request?", DocAPIStandards),
		one("What fields must be included in structured logs for tracing?", DocObservability),
		one("For RAG systems, what retrieval details should we log?", DocObservability),
		one("What is the common failure mode in RAG assistants and how do we mitigate it?", DocRAGPlaybook),
		one("Why should we track Recall@k, MRR, and nDCG for retrieval?", DocRAGPlaybook),
		one("What should we never log and what principle should access follow?", DocSecurity),
		one("How do security incidents relate to the SEV process and documentation?", DocSecurity),
		{
			Query:    "Explain what RAG is and why it improves factual accuracy.",
			Sources:  []string{DocAWSRAGBasics},
			Fallback: DocRAGPlaybook,
		},
		{
			Query:    "What does observability mean for GenAI systems?",
			Sources:  []string{DocAWSObservability},
			Fallback: DocObservability,
		},
		one("If prod is risky, what environment should we test destructive changes in?", DocOnboarding),
		one("During a major incident, who leads and what are the first actions?", DocIncidentResponse),
		one("What should every API log include for tracing and debugging?", DocAPIStandards),
		one("What is the current standard error shape returned by our APIs?", DocAPIStandards),
		one("Which IDs must be present for distributed tracing across services?", DocObservability),
		one("For RAG debugging, what should we capture about retrieval results?", DocObservability),
		one("What is least privilege and where should secrets be stored?", DocSecurity),
		one("What do we require after an incident to prevent repeat failures?", DocIncidentResponse),
	}
}

// catalogFile is the on-disk catalog layout.
type catalogFile struct {
	Queries []Entry `yaml:"queries"`
}

// LoadCatalog reads a YAML catalog:
//
//	queries:
//	  - query: What is SEV-1?
//	    sources: [incident_response]
//	    fallback: rag_assistant_playbook
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(f.Queries) == 0 {
		return nil, errors.New("catalog has no queries")
	}
	for i, e := range f.Queries {
		if e.Query == "" {
			return nil, fmt.Errorf("catalog entry %d: query is required", i)
		}
		if len(e.Sources) == 0 && e.Fallback == "" {
			return nil, fmt.Errorf("catalog entry %d: sources or fallback is required", i)
		}
	}
	return Catalog(f.Queries), nil
}
