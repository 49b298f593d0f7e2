package models

import (
	"strings"
)

// Placeholders understood by query templates.
const (
	PlaceholderProcessor = "#####"
	PlaceholderClient    = "@@@@@"
	PlaceholderStart     = "!!!!!"
	PlaceholderStop      = "$$$$$"
)

// CollectionPrefix is prepended to a query name to form its collection.
const CollectionPrefix = "raw_"

// QueryTemplate is an AQL expression with placeholders for processor,
// client and window bounds.
type QueryTemplate struct {
	Name       string        `json:"name" yaml:"name"`
	Expression string        `json:"expression" yaml:"expression"`
	Class      DurationClass `json:"class" yaml:"class"`
}

// Resolve substitutes all four placeholders.
func (t QueryTemplate) Resolve(processor, client string, w TimeWindow) string {
	r := strings.NewReplacer(
		PlaceholderProcessor, processor,
		PlaceholderClient, "'"+client+"'",
		PlaceholderStart, FormatBound(w.Start),
		PlaceholderStop, FormatBound(w.Stop),
	)
	return r.Replace(t.Expression)
}

// QueryTask is one search to run: a resolved template for a single window.
// It is immutable once built.
type QueryTask struct {
	EventProcessor string
	// Client is the identifier as QRadar knows it; it goes into the query.
	Client string
	// ClientDatabase is Client stripped of characters the document store
	// rejects in database names.
	ClientDatabase string
	QueryName      string
	Collection     string
	Expression     string
	Window         TimeWindow
	Class          DurationClass
}

// NewQueryTask resolves tmpl for the given processor, client and window.
func NewQueryTask(processor, client string, tmpl QueryTemplate, w TimeWindow) QueryTask {
	return QueryTask{
		EventProcessor: processor,
		Client:         client,
		ClientDatabase: SanitizeClient(client),
		QueryName:      tmpl.Name,
		Collection:     CollectionName(tmpl.Name),
		Expression:     tmpl.Resolve(processor, client, w),
		Window:         w,
		Class:          tmpl.Class,
	}
}

// SanitizeClient removes spaces and dots from a client name.
func SanitizeClient(client string) string {
	return strings.NewReplacer(" ", "", ".", "").Replace(client)
}

// CollectionName returns the collection results of query are stored in.
func CollectionName(query string) string {
	return CollectionPrefix + query
}

// Inputs are the static lists the orchestrator iterates over.
type Inputs struct {
	// Processors keeps the order processors were listed in.
	Processors []string
	// Clients maps each processor to its sorted client list.
	Clients   map[string][]string
	Templates []QueryTemplate
}
