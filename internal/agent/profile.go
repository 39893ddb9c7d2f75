// Package agent implements the bounded tool-calling loop that turns a
// routed message into a reply. Each specialist profile scopes the loop
// to a tool set, a primary tool, and a termination policy.
package agent

// Profile defines one specialist's loop configuration.
type Profile struct {
	// Name is the specialist identifier ("business", "property", "general").
	Name string

	// Instructions is the specialist system prompt.
	Instructions string

	// Tools lists the tool names available to this specialist.
	Tools []string

	// PrimaryTool is the tool whose success satisfies the specialist's
	// main job; once it succeeds, further tool use is withdrawn.
	PrimaryTool string

	// WithdrawAfter is the iteration index at which tools are withdrawn
	// regardless of outcomes, forcing the model to answer with what it
	// has.
	WithdrawAfter int

	// TerminalOnToolError ends the run on a handler exception instead of
	// feeding the error back for another attempt. Account-scoped
	// specialists use this: retrying a broken data backend wastes the
	// caller's time.
	TerminalOnToolError bool
}

const maxIterations = 10

// toolFailureCeiling is the per-tool-name failure limit within one run.
// Unparseable arguments count against it.
const toolFailureCeiling = 2

const businessInstructions = `You are Porter, a commercial real estate assistant, answering a question
about the caller's own account data.

Use the business_lookup tool to fetch their records. If the data they asked
about isn't available, use record_missing_info to file a follow-up, then say
so plainly.

Keep replies short and concrete; this is a text message conversation.
Never paste raw data records; summarize the numbers that answer the question.`

const propertyInstructions = `You are Porter, a commercial real estate assistant, answering a question
about a specific property or area.

Use the property_search tool to find listings and availability. Lead with the
most relevant result. If nothing turns up, say so and suggest how the caller
could narrow or broaden the search.

Keep replies short and concrete; this is a text message conversation.
Never paste raw listing data; describe the results in a sentence or two.`

const generalInstructions = `You are Porter, a commercial real estate assistant, handling a general
question or conversation.

Use the market_search tool when the caller wants market information: trends,
rates, news, area statistics. Greetings and small talk need no tools at all.

Keep replies short and friendly; this is a text message conversation.`

// builtinProfiles returns the three specialist profiles.
func builtinProfiles() map[string]*Profile {
	return map[string]*Profile{
		"business": {
			Name:                "business",
			Instructions:        businessInstructions,
			Tools:               []string{"business_lookup", "record_missing_info"},
			PrimaryTool:         "business_lookup",
			WithdrawAfter:       2,
			TerminalOnToolError: true,
		},
		"property": {
			Name:                "property",
			Instructions:        propertyInstructions,
			Tools:               []string{"property_search", "record_missing_info"},
			PrimaryTool:         "property_search",
			WithdrawAfter:       2,
			TerminalOnToolError: true,
		},
		"general": {
			Name:                "general",
			Instructions:        generalInstructions,
			Tools:               []string{"market_search", "property_search"},
			PrimaryTool:         "market_search",
			WithdrawAfter:       3,
			TerminalOnToolError: false,
		},
	}
}
