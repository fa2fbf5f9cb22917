package web3

import (
	"strings"
)

// DeploymentRequest is the immutable input of a deployment: the contract ABI
// (JSON), its creation bytecode (hex, always 0x-prefixed once constructed) and
// the ordered constructor arguments.
type DeploymentRequest struct {
	ABI      string
	Bytecode string
	Args     []any
}

// NewDeploymentRequest normalises the bytecode prefix and copies the argument
// slice so later mutation by the caller cannot leak into the request.
func NewDeploymentRequest(abiJSON, bytecode string, args ...any) DeploymentRequest {
	var copied []any
	if len(args) > 0 {
		copied = make([]any, len(args))
		copy(copied, args)
	}
	return DeploymentRequest{
		ABI:      abiJSON,
		Bytecode: NormalizeBytecode(bytecode),
		Args:     copied,
	}
}

// NormalizeBytecode ensures the hex payload starts with a lowercase 0x prefix.
func NormalizeBytecode(bytecode string) string {
	code := strings.TrimSpace(bytecode)
	if strings.HasPrefix(code, "0x") || strings.HasPrefix(code, "0X") {
		code = code[2:]
	}
	return "0x" + code
}
