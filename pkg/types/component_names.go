package types

type ComponentName string

const (
	ComponentNameAuthn     ComponentName = "authn"
	ComponentNameForwarder ComponentName = "forwarder"
	ComponentNameIssuer    ComponentName = "issuer"
	ComponentNameMetrics   ComponentName = "metrics"
	ComponentNameRouter    ComponentName = "router"
	ComponentNameSessions  ComponentName = "sessions"
	ComponentNameSweeper   ComponentName = "sweeper"
)
