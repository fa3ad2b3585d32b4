// Package main provides a minimal CLI client for genforge-service.
//
// genforge-client submits a prompt to a running genforge-service over its
// HTTP API and prints the SSE progress stream to stdout until the
// generation reaches a terminal status.
//
// Usage:
//
//	genforge-client "build me a todo api"
//	genforge-client --addr http://localhost:8420 --api-key secret "a blog backend"
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type submitResponse struct {
	GenerationID       string `json:"generation_id"`
	ProjectID          string `json:"project_id"`
	Status             string `json:"status"`
	SSEToken           string `json:"sse_token"`
	AutoCreatedProject bool   `json:"auto_created_project"`
	ProjectName        string `json:"project_name"`
	ProjectDomain      string `json:"project_domain"`
}

type wireEvent struct {
	GenerationID string  `json:"generation_id"`
	Stage        string  `json:"stage"`
	Progress     float64 `json:"progress"`
	Message      string  `json:"message"`
	Status       string  `json:"status"`
}

func main() {
	var (
		addr   string
		apiKey string
	)
	fs := flag.NewFlagSet("genforge-client", flag.ExitOnError)
	fs.StringVar(&addr, "addr", "http://localhost:8420", "genforge-service address")
	fs.StringVar(&apiKey, "api-key", "", "API key, if the service requires one")
	fs.Parse(os.Args[1:])

	prompt := strings.Join(fs.Args(), " ")
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: genforge-client [--addr URL] [--api-key KEY] \"<prompt>\"")
		os.Exit(1)
	}

	if err := run(addr, apiKey, prompt); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, apiKey, prompt string) error {
	sub, err := submit(addr, apiKey, prompt)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	if sub.AutoCreatedProject {
		fmt.Printf("created project %q (%s)\n", sub.ProjectName, sub.ProjectDomain)
	}
	fmt.Printf("generation %s submitted (project %s)\n", sub.GenerationID, sub.ProjectID)

	return stream(addr, apiKey, sub.GenerationID, sub.SSEToken)
}

func submit(addr, apiKey, prompt string) (*submitResponse, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, addr+"/api/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func stream(addr, apiKey, generationID, token string) error {
	streamURL := addr + "/api/v1/generations/" + url.PathEscape(generationID) + "/stream?token=" + url.QueryEscape(token)
	req, err := http.NewRequest(http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev wireEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		fmt.Printf("[%5.1f%%] %-24s %s\n", ev.Progress*100, ev.Stage, ev.Message)
		if ev.Status == "completed" || ev.Status == "failed" {
			fmt.Printf("final status: %s\n", ev.Status)
			return nil
		}
	}
	return scanner.Err()
}
