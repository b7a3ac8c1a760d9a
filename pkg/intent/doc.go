/*
Package intent implements the Intent Governance Router: a static
classification table that assigns every requested intent an autonomy tier
(0 through 4) and routes it to human review, direct execution, governance,
or an emergency handler accordingly.

Tier assignment and mission-alignment priority are both static-table
lookups with a conservative default for unrecognized intent types (tier 1,
priority 0.3), then boosted by context flags and clamped to [0,1]. Tier 4
(emergency) intents receive heavier audit: an event.emergency publication
at critical priority, on top of the single Immutable Log routing entry
every tier gets.
*/
package intent
