package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	baseURL := os.Getenv("GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	query := os.Getenv("SMOKE_QUERY")
	if query == "" {
		query = "SELECT ?s WHERE { ?s ?p ?o }"
	}

	// Wait for gateway to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting gateway smoke test...")

	fmt.Println("1. Health...")
	if !sendRequest(baseURL, "GET", "/healthz", nil) {
		fmt.Println("FAILED: Health")
		os.Exit(1)
	}
	fmt.Println("PASSED: Health")

	fmt.Println("2. Cluster info...")
	if !sendRequest(baseURL, "GET", "/cluster/info", nil) {
		fmt.Println("FAILED: Cluster info")
		os.Exit(1)
	}
	fmt.Println("PASSED: Cluster info")

	fmt.Println("3. SPARQL query...")
	if !sendRequest(baseURL, "POST", "/sparql", map[string]string{"query": query}) {
		fmt.Println("FAILED: SPARQL query")
		os.Exit(1)
	}
	fmt.Println("PASSED: SPARQL query")
}

func sendRequest(baseURL, method, endpoint string, payload any) bool {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return false
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return false
	}
	fmt.Printf("Response: %s\n", string(respBody))

	return true
}
