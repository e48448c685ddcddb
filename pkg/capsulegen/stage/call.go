package stage

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/llm"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
	"github.com/caplearn/capsulegen/pkg/capsulegen/recovery"
)

// callAndExtract performs the resilient provider call for one stage and
// runs the recovery cascade over the raw output. Token usage is returned
// whenever a response was received, even if recovery then failed.
func callAndExtract[T any](ctx context.Context, e *Executor, name Name, req llm.Request, opts llm.CallOptions) (*recovery.Extraction[T], llm.Usage, int, error) {
	res, err := e.Caller.Call(ctx, req, opts)
	if err != nil {
		return nil, llm.Usage{}, 0, err
	}

	usage := res.Response.Usage
	ext, err := recovery.Extract[T](res.Response.Text)
	if err != nil {
		// Unparseable output still counts against the provider's circuit.
		e.Caller.NoteFailure(ctx)
		return nil, usage, res.Attempts, err
	}
	observability.LogRecovery(e.Logger, string(name), string(ext.Strategy), ext.Repaired)
	if ext.Strategy != recovery.StrategyDirect {
		e.Spans.AddSpanEvent(ctx, "output recovered",
			attribute.String("strategy", string(ext.Strategy)),
			attribute.Bool("repaired", ext.Repaired),
		)
	}
	return ext, usage, res.Attempts, nil
}

// spanErr converts a stage error for span recording, keeping a nil
// *generr.Error from surfacing as a non-nil error interface.
func spanErr(err *generr.Error) error {
	if err == nil {
		return nil
	}
	return err
}

// stageRetriable reports whether re-running a stage may clear the error.
// Both retriable and repairable kinds qualify: a fresh generation against
// the same prompt can fix malformed or schema-invalid output.
func stageRetriable(err error) bool {
	ge := generr.FromError(err, nil)
	return ge.Retriable() || ge.Repairable()
}
