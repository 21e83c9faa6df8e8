// ABOUTME: Admin CLI for nlweb-gateway provider catalog management
// ABOUTME: Talks to the gateway HTTP API with JWT bearer authentication

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"

	"github.com/nlweb/nlweb-gateway/internal/schema"
)

const banner = `
       _          __
 _ __ | |_      _____| |__
| '_ \| \ \ /\ / / _ \ '_ \
| | | | |\ V  V /  __/ |_) |
|_| |_|_| \_/\_/ \___|_.__/   admin
`

// credentials is the shape of ~/.config/nlweb/credentials.toml.
type credentials struct {
	Gateway struct {
		URL   string `toml:"url"`
		Token string `toml:"token"`
	} `toml:"gateway"`
}

// loadCredentials reads the credentials file if present. A missing file is
// not an error; environment variables take precedence anyway.
func loadCredentials() credentials {
	var creds credentials
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return creds
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	path := filepath.Join(configDir, "nlweb", "credentials.toml")
	_, _ = toml.DecodeFile(path, &creds)
	return creds
}

func gatewayURL(creds credentials) string {
	if env := os.Getenv("NLWEB_GATEWAY_URL"); env != "" {
		return strings.TrimSuffix(env, "/")
	}
	if creds.Gateway.URL != "" {
		return strings.TrimSuffix(creds.Gateway.URL, "/")
	}
	return "http://localhost:8080"
}

func gatewayToken(creds credentials) string {
	if env := os.Getenv("NLWEB_TOKEN"); env != "" {
		return env
	}
	return creds.Gateway.Token
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	creds := loadCredentials()
	c := &client{
		baseURL: gatewayURL(creds),
		token:   gatewayToken(creds),
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "providers":
		err = cmdProviders(c, args)
	case "register":
		err = cmdRegister(c, args)
	case "deregister":
		err = cmdDeregister(c, args)
	case "health":
		err = cmdHealth(c, args)
	case "who":
		err = cmdWho(c, args)
	case "ask":
		err = cmdAsk(c, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: nlweb-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  providers                        List registered providers")
	fmt.Println("  register --name N --caps A,B --endpoint URL [--id ID]")
	fmt.Println("                                   Register a provider")
	fmt.Println("  deregister <id>                  Deregister a provider")
	fmt.Println("  health <id> <state>              Set provider health (HEALTHY/DEGRADED/UNREACHABLE/UNKNOWN)")
	fmt.Println("  who <query>                      Show which providers would answer a query")
	fmt.Println("  ask <query>                      Run a query through the gateway")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  NLWEB_GATEWAY_URL   Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  NLWEB_TOKEN         JWT token for the admin API")
	fmt.Println()
	yellow.Println("Credentials file (~/.config/nlweb/credentials.toml):")
	fmt.Println("  [gateway]")
	fmt.Println("  url = \"http://localhost:8080\"")
	fmt.Println("  token = \"eyJhbG...\"")
	fmt.Println()
}

// client is a thin HTTP wrapper over the gateway API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

// do sends a JSON request and decodes the response into out (if non-nil).
// Non-2xx responses are surfaced with the server's error message.
func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp schema.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s (%s)", errResp.Error, errResp.Code)
		}
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// providerInfo mirrors the gateway's provider admin JSON shape.
type providerInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
	Health       string   `json:"health"`
	LastSeen     string   `json:"lastSeen"`
}

func cmdProviders(c *client, args []string) error {
	path := "/api/providers"
	if len(args) > 0 && args[0] != "" {
		path += "?capability=" + args[0]
	}

	var providers []providerInfo
	if err := c.do(http.MethodGet, path, nil, &providers); err != nil {
		return err
	}

	if len(providers) == 0 {
		fmt.Println("No providers registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCAPABILITIES\tHEALTH\tENDPOINT")
	for _, p := range providers {
		health := p.Health
		switch p.Health {
		case "HEALTHY":
			health = color.GreenString(p.Health)
		case "DEGRADED":
			health = color.YellowString(p.Health)
		case "UNREACHABLE":
			health = color.RedString(p.Health)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, strings.Join(p.Capabilities, ","), health, p.Endpoint)
	}
	return w.Flush()
}

func cmdRegister(c *client, args []string) error {
	var req schema.RegisterProviderRequest
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--id":
			if i+1 >= len(args) {
				return fmt.Errorf("--id requires a value")
			}
			req.ID = args[i+1]
			i++
		case "--name":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			req.Name = args[i+1]
			i++
		case "--caps":
			if i+1 >= len(args) {
				return fmt.Errorf("--caps requires a value")
			}
			req.Capabilities = strings.Split(args[i+1], ",")
			i++
		case "--endpoint":
			if i+1 >= len(args) {
				return fmt.Errorf("--endpoint requires a value")
			}
			req.Endpoint = args[i+1]
			i++
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}

	if req.Name == "" || len(req.Capabilities) == 0 || req.Endpoint == "" {
		return fmt.Errorf("--name, --caps, and --endpoint are required")
	}

	var registered providerInfo
	if err := c.do(http.MethodPost, "/api/providers", req, &registered); err != nil {
		return err
	}

	color.Green("Registered provider %s (%s)\n", registered.ID, registered.Name)
	return nil
}

func cmdDeregister(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: nlweb-admin deregister <id>")
	}
	if err := c.do(http.MethodDelete, "/api/providers/"+args[0], nil, nil); err != nil {
		return err
	}
	color.Green("Deregistered provider %s\n", args[0])
	return nil
}

func cmdHealth(c *client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: nlweb-admin health <id> <state>")
	}
	body := map[string]string{"health": strings.ToUpper(args[1])}
	if err := c.do(http.MethodPut, "/api/providers/"+args[0]+"/health", body, nil); err != nil {
		return err
	}
	color.Green("Provider %s marked %s\n", args[0], strings.ToUpper(args[1]))
	return nil
}

func cmdWho(c *client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: nlweb-admin who <query>")
	}
	query := strings.Join(args, " ")

	var resp schema.WhoResponse
	req := schema.WhoRequest{Version: schema.ProtocolVersion, Query: query}
	if err := c.do(http.MethodPost, "/nlweb/who", req, &resp); err != nil {
		return err
	}

	if len(resp.Matches) == 0 {
		fmt.Println("No providers match this query.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tNAME\tSCORE\tMATCHED")
	for _, m := range resp.Matches {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n",
			m.ProviderID, m.Name, m.Score, strings.Join(m.MatchedCapabilities, ","))
	}
	return w.Flush()
}

func cmdAsk(c *client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: nlweb-admin ask <query>")
	}
	query := strings.Join(args, " ")

	var resp schema.AskResponse
	req := schema.AskRequest{Version: schema.ProtocolVersion, Query: query}
	if err := c.do(http.MethodPost, "/nlweb/ask", req, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	switch resp.Status {
	case schema.StatusOK:
		color.Green("Status: %s\n", resp.Status)
	case schema.StatusPartial:
		color.Yellow("Status: %s (failed: %s)\n", resp.Status, strings.Join(resp.ProvidersFailed, ", "))
	default:
		color.Red("Status: %s (failed: %s)\n", resp.Status, strings.Join(resp.ProvidersFailed, ", "))
	}
	cyan.Printf("Consulted: %s\n\n", strings.Join(resp.ProvidersConsulted, ", "))

	if len(resp.Items) == 0 {
		fmt.Println("No results.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TITLE\tCONFIDENCE\tPROVIDER")
	for _, item := range resp.Items {
		fmt.Fprintf(w, "%s\t%.2f\t%s\n", item.Title, item.Confidence, item.SourceProvider)
	}
	return w.Flush()
}
