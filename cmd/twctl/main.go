// Command twctl is a thin CLI over threatwatchd's operator HTTP surface
// (internal/ops): triggering an out-of-cadence fetch, inspecting engine and
// sink counters, listing configured sources, and forcing a source reload.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	defaultAddr := getenv("TWCTL_ADDR", "http://localhost:9090")
	defaultToken := os.Getenv("TWCTL_TOKEN")

	if len(args) == 0 {
		printUsage()
		return nil
	}

	client := &apiClient{
		baseURL: strings.TrimRight(defaultAddr, "/"),
		token:   strings.TrimSpace(defaultToken),
		http:    httputil.NewClient(15 * time.Second),
	}

	switch args[0] {
	case "stats":
		return handleStats(ctx, client)
	case "sources":
		return handleSources(ctx, client)
	case "sinks":
		return handleSinks(ctx, client)
	case "resources":
		return handleResources(ctx, client)
	case "trigger":
		return handleTrigger(ctx, client, args[1:])
	case "reload":
		return handleReload(ctx, client)
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Println(`Usage:
  twctl stats
  twctl sources
  twctl sinks
  twctl resources
  twctl trigger <source-id>
  twctl reload

Configuration (env):
  TWCTL_ADDR   operator HTTP base URL (default http://localhost:9090)
  TWCTL_TOKEN  bearer token for /debug/* (must match OPS_DEBUG_TOKEN)`)
}

func handleStats(ctx context.Context, client *apiClient) error {
	data, err := client.request(ctx, http.MethodGet, "/debug/stats", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleSources(ctx context.Context, client *apiClient) error {
	data, err := client.request(ctx, http.MethodGet, "/debug/sources", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleSinks(ctx context.Context, client *apiClient) error {
	data, err := client.request(ctx, http.MethodGet, "/debug/sinks", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleResources(ctx context.Context, client *apiClient) error {
	data, err := client.request(ctx, http.MethodGet, "/debug/resources", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleTrigger(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("trigger requires a source id")
	}
	_, err := client.request(ctx, http.MethodPost, "/debug/trigger/"+args[0], nil)
	if err != nil {
		return err
	}
	fmt.Printf("triggered %s\n", args[0])
	return nil
}

func handleReload(ctx context.Context, client *apiClient) error {
	_, err := client.request(ctx, http.MethodPost, "/debug/reload", nil)
	if err != nil {
		return err
	}
	fmt.Println("reloaded")
	return nil
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) request(ctx context.Context, method, path string, payload io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s (status %d)", method, path, strings.TrimSpace(string(data)), resp.StatusCode)
	}
	return data, nil
}

func prettyPrint(data []byte) {
	if len(data) == 0 {
		fmt.Println("(empty)")
		return
	}
	fmt.Println(string(data))
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
