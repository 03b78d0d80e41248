package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ehr/notes/internal/platform/db"
)

const (
	defaultPostgresImage = "postgres:16-alpine"
	containerUser        = "notes"
	containerPassword    = "notes"
	containerDatabase    = "notes_cache"
	readyTimeout         = 30 * time.Second
)

// postgresContainer is a throwaway Postgres started through the docker CLI.
type postgresContainer struct {
	id      string
	connStr string
}

// startPostgresContainer runs INTEGRATION_POSTGRES_IMAGE (postgres:16-alpine
// by default) on a free local port and waits until it answers a ping.
func startPostgresContainer(ctx context.Context) (*postgresContainer, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("find free port: %w", err)
	}
	image := os.Getenv("INTEGRATION_POSTGRES_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--name", fmt.Sprintf("notes-rendercache-%d", port),
		"-p", fmt.Sprintf("127.0.0.1:%d:5432", port),
		"-e", "POSTGRES_USER="+containerUser,
		"-e", "POSTGRES_PASSWORD="+containerPassword,
		"-e", "POSTGRES_DB="+containerDatabase,
		image,
	).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker run %s: %w: %s", image, err, strings.TrimSpace(string(out)))
	}

	pc := &postgresContainer{
		id: strings.TrimSpace(string(out)),
		connStr: fmt.Sprintf("postgres://%s:%s@127.0.0.1:%d/%s?sslmode=disable",
			containerUser, containerPassword, port, containerDatabase),
	}
	if err := pc.waitReady(ctx); err != nil {
		pc.Stop()
		return nil, err
	}
	return pc, nil
}

func (pc *postgresContainer) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:            pc.connStr,
			MaxConns:       1,
			ConnectTimeout: 2 * time.Second,
		})
		if err == nil {
			pool.Close()
			return nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("postgres not ready after %v: %w", readyTimeout, lastErr)
}

// Stop removes the container. --rm on run means stop is enough.
func (pc *postgresContainer) Stop() {
	_ = exec.Command("docker", "stop", pc.id).Run()
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
