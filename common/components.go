package common

const (
	// RPC name to identify the json-rpc component
	RPC = "rpc"
	// AUTO_FINALISER name to identify the component that finalises ready interactions
	AUTO_FINALISER = "auto-finaliser" //nolint:stylecheck
)
