package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// tombstones lists the soft-deleted tables the cleaner purges.
var tombstones = []string{"containers", "items"}

// StartTombstoneCleaner purges soft-deleted containers and items older than
// retention every interval until ctx is done. Dependent rows go with them
// through ON DELETE CASCADE.
func StartTombstoneCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				for _, table := range tombstones {
					purgeTombstones(ctx, db, table, cutoff, log)
				}
			}
		}
	}()
}

func purgeTombstones(ctx context.Context, db *sql.DB, table string, cutoff time.Time, log *zap.Logger) {
	res, err := db.ExecContext(ctx, `
        DELETE FROM `+table+`
         WHERE deleted = true
           AND deleted_at < $1
    `, cutoff)
	if err != nil {
		log.Error("failed to clean tombstones", zap.String("table", table), zap.Error(err))
		return
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		log.Info("cleaned tombstones", zap.String("table", table), zap.Int64("removed", rows))
	}
}
