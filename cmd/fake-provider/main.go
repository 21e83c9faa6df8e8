// ABOUTME: Fake capability provider for local gateway testing
// ABOUTME: Serves canned items on the sub-query contract and self-registers

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nlweb/nlweb-gateway/internal/schema"
)

func main() {
	var (
		name     = flag.String("name", "fake-provider", "provider display name")
		id       = flag.String("id", "", "provider id (random when empty)")
		caps     = flag.String("caps", "weather", "comma-separated capability tags")
		addr     = flag.String("addr", "127.0.0.1:0", "listen address")
		gateway  = flag.String("gateway", "http://localhost:8080", "gateway base URL for self-registration")
		register = flag.Bool("register", true, "register with the gateway on startup")
		delay    = flag.Duration("delay", 0, "artificial response delay")
		partial  = flag.Bool("partial", false, "mark responses as truncated")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *id == "" {
		*id = "fake-" + uuid.New().String()[:8]
	}
	capabilities := strings.Split(*caps, ",")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}
	endpoint := fmt.Sprintf("http://%s/ask", ln.Addr().String())

	mux := http.NewServeMux()
	mux.HandleFunc("/ask", func(w http.ResponseWriter, r *http.Request) {
		var sub struct {
			Query         string `json:"query"`
			CorrelationID string `json:"correlationId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if *delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(*delay):
			}
		}

		logger.Info("answering sub-query", "query", sub.Query, "correlation_id", sub.CorrelationID)

		items := make([]schema.ResultItem, 0, len(capabilities))
		for i, c := range capabilities {
			payload, _ := json.Marshal(map[string]string{"answer": fmt.Sprintf("%s result for %q", c, sub.Query)})
			items = append(items, schema.ResultItem{
				ID:            fmt.Sprintf("%s-%s-%d", *id, c, i),
				Title:         fmt.Sprintf("%s: %s", *name, c),
				Payload:       payload,
				PayloadSchema: "fake/v1",
				Confidence:    0.9 - 0.1*float64(i),
			})
		}

		json.NewEncoder(w).Encode(map[string]any{
			"items":   items,
			"partial": *partial,
		})
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("fake provider listening", "endpoint", endpoint, "capabilities", capabilities)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	if *register {
		if err := selfRegister(ctx, *gateway, *id, *name, capabilities, endpoint); err != nil {
			logger.Error("registration failed", "error", err)
			_ = srv.Close()
			os.Exit(1)
		}
		logger.Info("registered with gateway", "gateway", *gateway, "provider_id", *id)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	if *register {
		if err := selfDeregister(*gateway, *id); err != nil {
			logger.Warn("deregistration failed", "error", err)
		}
	}
}

// selfRegister announces this provider to the gateway's admin API.
func selfRegister(ctx context.Context, gatewayURL, id, name string, capabilities []string, endpoint string) error {
	body, err := json.Marshal(schema.RegisterProviderRequest{
		ID:           id,
		Name:         name,
		Capabilities: capabilities,
		Endpoint:     endpoint,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL+"/api/providers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := os.Getenv("NLWEB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// selfDeregister removes this provider from the gateway on shutdown.
func selfDeregister(gatewayURL, id string) error {
	req, err := http.NewRequest(http.MethodDelete, gatewayURL+"/api/providers/"+id, nil)
	if err != nil {
		return err
	}
	if token := os.Getenv("NLWEB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}
