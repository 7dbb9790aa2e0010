package probe

import (
	"context"
	"time"

	"github.com/wpdocker/wp-docker/cmd/internal/database"
	"go.uber.org/zap"
)

var (
	probeInterval = 3 * time.Second
)

// Start blocks until the database answers or the context is done
func Start(ctx context.Context, log *zap.SugaredLogger, db database.DatabaseProber) error {
	log.Info("start probing database")

	for {
		err := db.Probe(ctx)
		if err == nil {
			log.Info("database is reachable")
			return nil
		}
		log.Errorw("database is not yet reachable, waiting and retrying...", "error", err)

		select {
		case <-ctx.Done():
			log.Info("received stop signal, shutting down")
			return ctx.Err()
		case <-time.After(probeInterval):
		}
	}
}
