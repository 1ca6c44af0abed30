package ir

// Version constants recorded with every stored run.
const (
	// TraceVersion is the trace record schema version.
	TraceVersion = "1"

	// RuntimeVersion is the tagflow runtime version.
	RuntimeVersion = "0.1.0"
)
