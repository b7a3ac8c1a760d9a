/*
Package governance implements Unified Logic: a deterministic decision table
that turns a submitted proposal into exactly one approved, needs_review, or
rejected verdict.

	confidence >= 0.95 && risk == low   -> approved
	risk != low                         -> needs_review (any confidence)
	confidence <  0.70 && risk == low   -> rejected
	otherwise                           -> needs_review

Every decision is appended to the Immutable Log before event.
governance_decision is published, so an observer never sees a decision that
isn't already durably recorded. Ties and ambiguous bands resolve toward
needs_review rather than approved — the table never guesses in the
proposal's favor.
*/
package governance
