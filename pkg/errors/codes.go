package errors

type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeNetwork          Code = "NETWORK"
	CodeProtocolDecode   Code = "PROTOCOL_DECODE"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeInvalidReference Code = "INVALID_REFERENCE"
)
