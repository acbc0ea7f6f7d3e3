package glacier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/backend"
	s3backend "github.com/marmos91/dittostore/pkg/backend/s3"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/state"
)

// ============================================================================
// Periodic Action
// ============================================================================

// RunPeriodicAction settles the pending actions of the backend:
//   - queued deletions are flushed to the store
//   - stored objects are confirmed once they left the standard class
//
// Each settled action is reported through p.PendingActionSucceeded. When no
// action remains after the sweep, p.AllPendingActionSucceeded is called.
// Actions that fail stay queued with their attempt counter increased.
//
// p is called concurrently.
func (b *Backend) RunPeriodicAction(ctx context.Context, p progress.Periodic) error {
	actions, err := b.pending.List(ctx, b.Name())
	if err != nil {
		return fmt.Errorf("failed to list pending actions of %s: %w", b.Name(), err)
	}

	logger.Debug("Periodic action: backend=%s pending=%d", b.Name(), len(actions))

	backend.ForEach(ctx, b.opts.Workers, actions, func(ctx context.Context, a state.PendingAction) {
		settled, err := b.settle(ctx, a)
		switch {
		case err != nil:
			b.retryLater(ctx, a, err)
		case settled:
			if err := b.pending.Remove(ctx, b.Name(), a.URL); err != nil {
				logger.Warn("Failed to drop settled action: backend=%s url=%s error=%v", b.Name(), a.URL, err)
				return
			}
			p.PendingActionSucceeded(a.URL)
		}
	}, func(a state.PendingAction, err error) {
		b.retryLater(ctx, a, err)
	})

	if err := ctx.Err(); err != nil {
		return err
	}

	remaining, err := b.pending.List(ctx, b.Name())
	if err != nil {
		return fmt.Errorf("failed to list pending actions of %s: %w", b.Name(), err)
	}
	if len(remaining) == 0 {
		p.AllPendingActionSucceeded(b.Name())
	}
	return nil
}

// settle runs one action. It returns false without error when the action is
// not due yet.
func (b *Backend) settle(ctx context.Context, a state.PendingAction) (bool, error) {
	switch a.Kind {
	case state.ActionDelete:
		if err := b.objects.DeleteObject(ctx, "periodic", a.Key); err != nil {
			return false, err
		}
		logger.Info("Deferred deletion flushed: backend=%s key=%s", b.Name(), a.Key)
		return true, nil

	case state.ActionTier:
		status, err := b.objects.Executor().Status(ctx, b.objects.Config(), a.Key, b.opts.StandardStorageClass)
		if err != nil {
			if s3backend.IsNotFound(err) {
				// Deleted before it was archived
				logger.Info("Pending object vanished: backend=%s key=%s", b.Name(), a.Key)
				return true, nil
			}
			return false, err
		}
		if status.StorageClass == "" || strings.EqualFold(status.StorageClass, b.opts.StandardStorageClass) {
			return false, nil
		}
		logger.Debug("Object archived: backend=%s key=%s class=%s", b.Name(), a.Key, status.StorageClass)
		return true, nil

	default:
		return false, errors.New("unknown pending action kind: " + string(a.Kind))
	}
}

func (b *Backend) retryLater(ctx context.Context, a state.PendingAction, cause error) {
	a.Attempts++
	logger.Warn("Pending action failed: backend=%s kind=%s url=%s attempts=%d error=%v",
		b.Name(), a.Kind, a.URL, a.Attempts, cause)
	if err := b.pending.Add(context.WithoutCancel(ctx), a); err != nil {
		logger.Error("Failed to requeue pending action: backend=%s url=%s error=%v", b.Name(), a.URL, err)
	}
}
