package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/models"
)

// commit submits chunks in order within one transaction. The first failing
// chunk aborts the transaction and is reported as a *TransactionError.
// Callers mutate their caches only after commit returns nil.
func (s *Session) commit(ctx context.Context, chunks []models.Chunk) error {
	cctx, cancel := s.callCtx(ctx)
	tx, err := s.txs.Begin(cctx)
	cancel()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for i, chunk := range chunks {
		cctx, cancel := s.callCtx(ctx)
		err := tx.Save(cctx, chunk)
		cancel()
		if err != nil {
			s.abort(ctx, tx, err)
			return &TransactionError{Index: i, Type: chunk.Type, Err: err}
		}
	}

	cctx, cancel = s.callCtx(ctx)
	err = tx.Commit(cctx)
	cancel()
	if err != nil {
		s.abort(ctx, tx, err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// abort is attempted even when ctx is already done.
func (s *Session) abort(ctx context.Context, tx Tx, cause error) {
	actx, cancel := s.callCtx(context.WithoutCancel(ctx))
	defer cancel()
	s.log.Warn("aborting transaction", zap.Error(cause))
	if err := tx.Abort(actx); err != nil {
		s.log.Warn("abort transaction", zap.Error(err))
	}
}
