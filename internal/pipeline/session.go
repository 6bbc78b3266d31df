package pipeline

import (
	"context"

	"go.uber.org/zap"
)

// withSession opens a session, runs fn and always closes the session.
// Close errors are logged; they do not change the result of fn.
func withSession(ctx context.Context, factory SessionFactory, logger *zap.Logger, fn func(Session) error) error {
	sess, err := factory.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("Failed to close session", zap.Error(cerr))
		}
	}()
	return fn(sess)
}
