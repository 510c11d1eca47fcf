// Package logging provides structured logging for blueprint.
//
// It wraps zap with a Trace level below Debug, stdout and OpenTelemetry
// outputs, context field injection (trace and span ids, run id, request id),
// secret redaction and level-aware sampling where errors are never sampled.
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, run.ID)
//	logger.Info(ctx, "stage completed", zap.String("stage", "review"))
package logging
