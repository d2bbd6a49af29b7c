package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type client struct {
	base string
	http *http.Client
}

func main() {
	base := os.Getenv("GUARDIAN_SMOKE_URL")
	if base == "" {
		base = "http://localhost:6123"
	}
	username, password := os.Getenv("GUARDIAN_SMOKE_USERNAME"), os.Getenv("GUARDIAN_SMOKE_PASSWORD")
	if username == "" || password == "" {
		log.Fatal("GUARDIAN_SMOKE_USERNAME and GUARDIAN_SMOKE_PASSWORD are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := client{base: base + "/guardian-auth/v1", http: &http.Client{Timeout: 5 * time.Second}}

	var pair tokenPair
	if status, env := c.call(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username, "password": password,
	}, &pair); status != http.StatusOK {
		log.Fatalf("login: status=%d code=%d msg=%s", status, env.Code, env.Msg)
	}

	var me struct {
		ID string `json:"id"`
	}
	if status, env := c.call(ctx, http.MethodGet, "/auth/me", pair.AccessToken, nil, &me); status != http.StatusOK {
		log.Fatalf("me: status=%d code=%d", status, env.Code)
	}

	refresh := map[string]string{"refresh_token": pair.RefreshToken}
	if status, env := c.call(ctx, http.MethodPost, "/auth/refresh", "", refresh, nil); status != http.StatusOK {
		log.Fatalf("refresh: status=%d code=%d", status, env.Code)
	}
	if status, env := c.call(ctx, http.MethodPost, "/auth/logout", pair.AccessToken, refresh, nil); status != http.StatusOK {
		log.Fatalf("logout: status=%d code=%d", status, env.Code)
	}
	if status, _ := c.call(ctx, http.MethodPost, "/auth/refresh", "", refresh, nil); status != http.StatusUnauthorized {
		log.Fatalf("revoked refresh token still accepted: status=%d", status)
	}

	fmt.Printf("✅ guardian smoke test passed: admin=%s\n", me.ID)
}

func (c client) call(ctx context.Context, method, path, token string, body, out any) (int, envelope) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			log.Fatalf("marshal %s: %v", path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			log.Fatalf("decode %s data: %v", path, err)
		}
	}
	return resp.StatusCode, env
}
