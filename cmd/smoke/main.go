// Command smoke exercises a running server end to end: gRPC health, account
// registration, token rotation and one message through the pull path.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"pagehall.org/internal/obs"
)

type client struct {
	base string
	http *http.Client
}

type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

func main() {
	logger, err := obs.NewLogger("info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(logger); err != nil {
		logger.Fatal("smoke test failed", zap.Error(err))
	}
	logger.Info("smoke test passed")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	grpcAddr := envOr("PAGEHALL_SMOKE_GRPC_ADDR", "localhost:9090")
	if err := checkHealth(ctx, grpcAddr); err != nil {
		return fmt.Errorf("grpc health at %s: %w", grpcAddr, err)
	}
	log.Info("grpc health serving", zap.String("addr", grpcAddr))

	c := &client{base: strings.TrimRight(envOr("PAGEHALL_SMOKE_URL", "http://localhost:8080"), "/"), http: &http.Client{Timeout: 5 * time.Second}}
	suffix := uuid.NewString()[:8]

	sender, err := c.account(ctx, "smoke-sender-"+suffix)
	if err != nil {
		return err
	}
	recipient, err := c.account(ctx, "smoke-recipient-"+suffix)
	if err != nil {
		return err
	}

	var rotated tokens
	if code, err := c.post(ctx, "/refresh", "", map[string]string{"refreshToken": sender.RefreshToken}, &rotated); err != nil || code != http.StatusOK {
		return fmt.Errorf("refresh: status %d: %v", code, err)
	}
	if code, _ := c.post(ctx, "/refresh", "", map[string]string{"refreshToken": sender.RefreshToken}, nil); code != http.StatusUnauthorized {
		return fmt.Errorf("reused refresh token accepted: status %d", code)
	}
	log.Info("refresh rotation verified")

	msg := map[string]string{"recipientId": recipient.User.ID, "title": "smoke", "body": "hello from smoke " + suffix}
	if code, err := c.post(ctx, "/api/CreateMessage", sender.AccessToken, msg, nil); err != nil || code != http.StatusOK {
		return fmt.Errorf("create message: status %d: %v", code, err)
	}

	var pending struct {
		Data []struct {
			Record struct {
				ID string `json:"id"`
			} `json:"record"`
		} `json:"Data"`
		Count int `json:"count"`
	}
	if code, err := c.get(ctx, "/api/messages/pending", recipient.AccessToken, &pending); err != nil || code != http.StatusOK {
		return fmt.Errorf("pending: status %d: %v", code, err)
	}
	if pending.Count != 1 {
		return fmt.Errorf("expected one pending message, got %d", pending.Count)
	}
	if code, err := c.post(ctx, "/api/deliveries/"+pending.Data[0].Record.ID+"/ack", recipient.AccessToken, nil, nil); err != nil || code != http.StatusOK {
		return fmt.Errorf("ack: status %d: %v", code, err)
	}
	log.Info("message delivered", zap.String("record", pending.Data[0].Record.ID))
	return nil
}

func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %v", resp.GetStatus())
	}
	return nil
}

func (c *client) account(ctx context.Context, name string) (tokens, error) {
	creds := map[string]string{"userName": name, "password": "smoke-pass-1", "fullName": name}
	if code, err := c.post(ctx, "/register", "", creds, nil); err != nil || code != http.StatusCreated {
		return tokens{}, fmt.Errorf("register %s: status %d: %v", name, code, err)
	}
	var t tokens
	if code, err := c.post(ctx, "/login", "", map[string]string{"userName": name, "password": creds["password"]}, &t); err != nil || code != http.StatusOK {
		return tokens{}, fmt.Errorf("login %s: status %d: %v", name, code, err)
	}
	return t, nil
}

func (c *client) post(ctx context.Context, path, token string, body, out any) (int, error) {
	return c.do(ctx, http.MethodPost, path, token, body, out)
}

func (c *client) get(ctx context.Context, path, token string, out any) (int, error) {
	return c.do(ctx, http.MethodGet, path, token, nil, out)
}

func (c *client) do(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
