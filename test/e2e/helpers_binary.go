//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

const e2eSnapshot = `[
  {"id": "a1", "name": "Black Lotus", "set": "lea", "set_name": "Limited Edition Alpha",
   "collector_number": "232", "rarity": "rare", "games": ["paper"],
   "prices": {"usd": "10000.00", "usd_foil": null}},
  {"id": "a2", "name": "Lightning Bolt", "set": "lea", "set_name": "Limited Edition Alpha",
   "collector_number": "161", "rarity": "common", "games": ["paper"],
   "prices": {"usd": "0.50", "usd_foil": "3.00"}},
  {"id": "b1", "name": "Counterspell", "set": "leb", "set_name": "Limited Edition Beta",
   "collector_number": "55", "rarity": "uncommon", "games": ["paper"],
   "prices": {"usd": "2.00", "usd_foil": null}}
]`

const e2eInventory = `Name,Number,Qty,Foil,scryfall_id
Black Lotus,232,1,FALSE,a1
Lightning Bolt,161,4,FALSE,a2
`

// cardvaultEnv holds the on-disk layout shared by CLI invocations and the server.
type cardvaultEnv struct {
	dataDir string
	apiKey  string
}

func newCardvaultEnv(t *testing.T) *cardvaultEnv {
	t.Helper()
	requireCardvault(t)

	dataDir := t.TempDir()
	inventoryDir := filepath.Join(dataDir, "organized_sets")
	if err := os.MkdirAll(inventoryDir, 0755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dataDir, "default-cards.json"), e2eSnapshot)
	mustWrite(t, filepath.Join(inventoryDir, "limited_edition_alpha_with_scryfall.csv"), e2eInventory)

	return &cardvaultEnv{dataDir: dataDir, apiKey: "e2e-test-api-key"}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// environ configures the binary entirely through environment variables.
// A zero port keeps the default.
func (e *cardvaultEnv) environ(port int) []string {
	env := append(os.Environ(),
		"CARDVAULT_CONFIG_PATH="+filepath.Join(e.dataDir, "nonexistent.yaml"),
		"CARDVAULT_DB_PATH="+filepath.Join(e.dataDir, "cards.db"),
		"CARDVAULT_SNAPSHOT_PATH="+filepath.Join(e.dataDir, "default-cards.json"),
		"CARDVAULT_INVENTORY_DIR="+filepath.Join(e.dataDir, "organized_sets"),
		"CARDVAULT_BACKUP_DIR="+filepath.Join(e.dataDir, "backups"),
		"CARDVAULT_API_KEY="+e.apiKey,
		"CARDVAULT_STATS_CACHE_TTL=50ms",
	)
	if port > 0 {
		env = append(env, fmt.Sprintf("CARDVAULT_PORT=%d", port))
	}
	return env
}

// runCLI runs a one-shot subcommand and returns its stdout.
func (e *cardvaultEnv) runCLI(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command(cardvaultBin, args...)
	cmd.Env = e.environ(0)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("cardvault %v: %v\nstderr: %s", args, err, stderr.String())
	}
	return stdout.String()
}

// cardvaultServer manages a running `cardvault serve` process.
type cardvaultServer struct {
	env     *cardvaultEnv
	cmd     *exec.Cmd
	address string
}

// startServer launches `cardvault serve` and waits until /health answers.
func (e *cardvaultEnv) startServer(t *testing.T, wantStatus int) *cardvaultServer {
	t.Helper()

	port := freePort(t)
	lf, err := os.Create(filepath.Join(e.dataDir, fmt.Sprintf("serve-%d.log", port)))
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}

	cmd := exec.Command(cardvaultBin, "serve")
	cmd.Env = e.environ(port)
	cmd.Stdout = lf
	cmd.Stderr = lf
	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start cardvault: %v", err)
	}

	s := &cardvaultServer{env: e, cmd: cmd, address: fmt.Sprintf("127.0.0.1:%d", port)}
	t.Cleanup(func() {
		s.stop()
		lf.Close()
	})

	if err := s.waitHealth(wantStatus, 10*time.Second); err != nil {
		t.Fatalf("cardvault not ready: %v", err)
	}
	return s
}

func (s *cardvaultServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
		s.cmd = nil
	}
}

// restart stops the server and starts a new one on the same data directory.
func (s *cardvaultServer) restart(t *testing.T) *cardvaultServer {
	t.Helper()
	s.stop()
	time.Sleep(200 * time.Millisecond)
	return s.env.startServer(t, http.StatusOK)
}

func (s *cardvaultServer) baseURL() string {
	return fmt.Sprintf("http://%s/api/v1", s.address)
}

func (s *cardvaultServer) waitHealth(want int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(s.baseURL() + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == want {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("health did not return %d after %s", want, timeout)
}

// do issues a request and decodes a JSON body into out when out is non-nil.
func (s *cardvaultServer) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.baseURL()+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if method != http.MethodGet {
		req.Header.Set("Authorization", "Bearer "+s.env.apiKey)
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
