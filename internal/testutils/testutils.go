//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// Tile is an archive served by a TileServer.
type Tile struct {
	// Name is the archive file name, e.g. N00E006.SRTMGL1.hgt.zip.
	Name string
	// Entries are the archive members in order.
	Entries []string
}

// ZipTile builds a zip archive holding entries with deterministic content.
func ZipTile(t *testing.T, entries ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, name := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		data := make([]byte, 4096)
		for j := range data {
			data[j] = byte((i + j) % 256)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// TileServer serves tile archives the way the Earthdata pool does: the tile
// URL redirects to /protected/<name>, which demands basic auth.
type TileServer struct {
	*httptest.Server
	Username string
	Password string
}

// StartTileServer starts a TileServer for tiles.
func StartTileServer(t *testing.T, username, password string, tiles []Tile) *TileServer {
	t.Helper()

	archives := make(map[string][]byte, len(tiles))
	for _, tile := range tiles {
		archives[tile.Name] = ZipTile(t, tile.Entries...)
	}

	ts := &TileServer{Username: username, Password: password}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Base(r.URL.Path)
		data, ok := archives[name]
		if !ok {
			http.NotFound(w, r)
			return
		}

		if !strings.HasPrefix(r.URL.Path, "/protected/") {
			http.Redirect(w, r, "/protected/"+name, http.StatusFound)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != ts.Username || pass != ts.Password {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, "login required")
			return
		}
		w.Write(data)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// URL returns the public link of a tile.
func (ts *TileServer) URL(name string) string {
	return ts.Server.URL + "/tiles/" + name
}

// MinioEnv describes a running Minio instance with one bucket.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container == nil {
		return nil
	}
	return e.Container.Terminate(ctx)
}

// OpenBucket opens the environment's bucket through gocloud.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// StartMinio starts Minio, creates bucket and points the AWS credential
// variables at it for the rest of the test.
func StartMinio(t *testing.T, ctx context.Context, bucket string) *MinioEnv {
	t.Helper()

	netName := fmt.Sprintf("demfetch-minio-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: netName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{netName},
			NetworkAliases: map[string][]string{netName: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio: %v", err)
	}

	makeBucket(t, ctx, netName, bucket)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("minio host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("minio port: %v", err)
	}
	endpoint := host + ":" + port.Port()

	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	return &MinioEnv{
		Container: container,
		Endpoint:  endpoint,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucket, endpoint),
	}
}

// makeBucket runs a one-shot mc container on the Minio network.
func makeBucket(t *testing.T, ctx context.Context, netName, bucket string) {
	t.Helper()

	script := fmt.Sprintf("mc alias set local http://minio:9000 %s %s && mc mb --ignore-existing local/%s",
		minioUser, minioPassword, bucket)

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{netName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd:        []string{script},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("create bucket %s: %v", bucket, err)
	}
	defer mc.Terminate(ctx)
}
