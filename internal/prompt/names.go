// Package prompt stores versioned, labelled prompt texts.
package prompt

import "strings"

// Known prompt names.
const (
	SystemMessage = "system_message"
	LeadDiscovery = "lead_discovery"
	KnowledgeBase = "knowledge_base"

	// LabelLatest always points at the newest version of a prompt.
	LabelLatest = "latest"
)

var aliases = map[string]string{
	"system message": SystemMessage,
	"lead discovery": LeadDiscovery,
	"knowledge base": KnowledgeBase,
	"use_rag_prompt": KnowledgeBase,
}

// KnownNames lists the prompts the chat flow reads.
func KnownNames() []string {
	return []string{SystemMessage, LeadDiscovery, KnowledgeBase}
}

// Canonical resolves a prompt name or admin display label to its stored name.
func Canonical(name string) (string, bool) {
	n := strings.TrimSpace(name)
	switch n {
	case SystemMessage, LeadDiscovery, KnowledgeBase:
		return n, true
	}
	if c, ok := aliases[strings.ToLower(n)]; ok {
		return c, true
	}
	return "", false
}
