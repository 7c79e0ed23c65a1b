package health

import (
	"context"
	"fmt"
	"os"
)

// Pinger is satisfied by stores that can probe their backing connection,
// such as the PostgreSQL session ledger.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerChecker probes the session ledger's database connection.
func LedgerChecker(p Pinger) Checker {
	return Checker{
		Name: "ledger",
		Check: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("ledger unreachable: %w", err)
			}
			return nil
		},
	}
}

// SpoolDirChecker verifies the recording spool directory exists and is
// writable by creating and removing a probe file.
func SpoolDirChecker(dir string) Checker {
	return Checker{
		Name: "spool",
		Check: func(_ context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("spool dir: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("spool path %q is not a directory", dir)
			}
			f, err := os.CreateTemp(dir, ".probe-*")
			if err != nil {
				return fmt.Errorf("spool dir not writable: %w", err)
			}
			name := f.Name()
			_ = f.Close()
			_ = os.Remove(name)
			return nil
		},
	}
}
