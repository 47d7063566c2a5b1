// Tool execution boundary: panic recovery and correlation IDs.
//
// Information Hiding:
// - Error classification logic hidden

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ExecuteTool invokes tool's handler and never lets a panic escape: it is
// recovered and wrapped into the same tagged failure shape a returned
// error would produce. This is the boundary the turn loop calls at —
// callers never see an unhandled exception from a tool. correlationID
// identifies this dispatch in the logs the caller emits around it.
func ExecuteTool(ctx context.Context, tool Tool, args json.RawMessage) (result ToolResult, correlationID string) {
	correlationID = uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			result = FailureResultf("tool panicked: %v", r)
		}
	}()

	if err := tool.Validate(args); err != nil {
		return FailureResult(fmt.Errorf("validation failed: %w", err)), correlationID
	}

	res, err := tool.Execute(ctx, args)
	if err != nil {
		return FailureResult(err), correlationID
	}
	return res, correlationID
}
