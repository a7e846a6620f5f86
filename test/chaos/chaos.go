package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateBackends kills a random connection of the current database now
// and then, until ctx is done or stop closes. It returns how many it killed.
// The pool under test sees broken connections and must recover on retry.
func TerminateBackends(ctx context.Context, pool *pgxpool.Pool, every time.Duration, stop <-chan struct{}) int {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	killed := 0
	for {
		select {
		case <-ctx.Done():
			return killed
		case <-stop:
			return killed
		case <-ticker.C:
			if rand.Intn(3) != 0 {
				continue
			}
			var n int
			err := pool.QueryRow(ctx, `
				SELECT COUNT(*) FROM (
					SELECT pg_terminate_backend(pid) FROM pg_stat_activity
					WHERE datname = current_database() AND pid <> pg_backend_pid()
					  AND backend_type = 'client backend'
					ORDER BY random() LIMIT 1) t`).Scan(&n)
			if err == nil {
				killed += n
			}
		}
	}
}
