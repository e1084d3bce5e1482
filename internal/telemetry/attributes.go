package telemetry

// End-user attributes
const (
	// AttrEndUserID identifies the caller of a request (semantic convention enduser.id)
	AttrEndUserID = "enduser.id"
)

// Custom dimension attributes set by the demo routes
const (
	AttrCustomDimension  = "custom_dimension"
	AttrCustomDimension1 = "custom_dimension1"
	AttrCustomDimension2 = "custom_dimension2"
)

// Custom event attributes.
// AttrCustomEventName is the attribute the hosted backend uses to surface a
// log record as a custom event rather than a trace line.
const (
	AttrCustomEventName = "microsoft.custom_event.name"
)

// Traffic driver attributes
const (
	AttrTrafficRoute  = "traffic.route"
	AttrTrafficStatus = "traffic.status_code"
	AttrTrafficRound  = "traffic.round"
)

// Error attributes
const (
	AttrError = "error"
)
