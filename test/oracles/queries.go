package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_unique_email",
			SQL: `SELECT lower(email), COUNT(*) FROM users
                  GROUP BY lower(email) HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_password_accounts_have_hash",
			SQL:  `SELECT id, email FROM users WHERE provider = 'email' AND password_hash = ''`,
		},
		{
			Name: "O3_oauth_accounts_confirmed",
			SQL:  `SELECT id, email FROM users WHERE provider <> 'email' AND email_confirmed_at IS NULL`,
		},
		{
			Name: "O4_confirmation_after_creation",
			SQL: `SELECT id, email, created_at, email_confirmed_at FROM users
                  WHERE email_confirmed_at < created_at - interval '1 second'`,
		},
		{
			Name: "O5_normalized_email",
			SQL:  `SELECT id, email FROM users WHERE email <> lower(btrim(email))`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
