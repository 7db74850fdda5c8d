package graph

import "errors"

// ErrMaxStepsExceeded is the cause of a MAX_STEPS_EXCEEDED EngineError.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// Engine error codes.
const (
	CodeMissingReducer     = "MISSING_REDUCER"
	CodeMissingStore       = "MISSING_STORE"
	CodeNoStartNode        = "NO_START_NODE"
	CodeNodeNotFound       = "NODE_NOT_FOUND"
	CodeDuplicateNode      = "DUPLICATE_NODE"
	CodeMaxStepsExceeded   = "MAX_STEPS_EXCEEDED"
	CodeNoRoute            = "NO_ROUTE"
	CodeStoreError         = "STORE_ERROR"
	CodeNodeTimeout        = "NODE_TIMEOUT"
	CodeInvalidOption      = "INVALID_OPTION"
	CodeRunNotFound        = "RUN_NOT_FOUND"
	CodeCheckpointNotFound = "CHECKPOINT_NOT_FOUND"
	CodeCheckpointSave     = "CHECKPOINT_SAVE_FAILED"
	CodeNodeFailed         = "NODE_FAILED"
)

// EngineError is an error raised by the engine itself rather than by a node.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// ErrorCode extracts the code of an EngineError or NodeError anywhere in
// err's chain. It returns "" when there is none.
func ErrorCode(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.Code
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}

func wrapNodeError(nodeID string, err error) error {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		if nodeErr.NodeID == "" {
			nodeErr.NodeID = nodeID
		}
		return err
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return err
	}
	return &NodeError{
		Message: err.Error(),
		Code:    CodeNodeFailed,
		NodeID:  nodeID,
		Cause:   err,
	}
}
