// Command smoke walks the chat gateway's HTTP surface against a running
// server and prints every response.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	baseURL = flag.String("base", "http://localhost:3000", "gateway base URL")
	token   = flag.String("token", "", "optional bearer token")
	model   = flag.String("model-type", "local", "model_type sent with chat turns")
)

// Pretty print JSON helper
func prettyPrint(body []byte) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func do(req *http.Request) (*http.Response, []byte, error) {
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp, body, err
}

func sendJSON(method, path string, body interface{}) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, *baseURL+path, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req)
}

func sendForm(path string, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequest(http.MethodPost, *baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(req)
}

func must(resp *http.Response, body []byte, err error) []byte {
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 300 {
		color.Red("Status: %s", resp.Status)
	} else {
		color.Green("Status: %s", resp.Status)
	}
	prettyPrint(body)
	return body
}

func main() {
	flag.Parse()
	color.Cyan("Starting chat gateway smoke test against %s\n", *baseURL)

	color.Yellow("\n1. Health")
	must(sendJSON(http.MethodGet, "/health", nil))

	color.Yellow("\n2. New session via POST /chat")
	body := must(sendForm("/chat", url.Values{
		"message":    {"Say hello in one short sentence."},
		"model_type": {*model},
		"session_id": {"1"},
	}))

	var created struct {
		Data struct {
			SessionId string `json:"session_id"`
		} `json:"data"`
	}
	json.Unmarshal(body, &created)
	sessionID := created.Data.SessionId
	if sessionID == "" {
		color.Red("No session id returned, stopping")
		os.Exit(1)
	}

	color.Yellow("\n3. Streamed follow-up via POST /chat/stream")
	stream(url.Values{
		"message":               {"Now say goodbye."},
		"model_type":            {*model},
		"session_id":            {sessionID},
		"mention_session_ids[]": {sessionID},
	})

	color.Yellow("\n4. Session messages")
	must(sendJSON(http.MethodGet, "/chat/"+sessionID, nil))

	color.Yellow("\n5. Rename")
	must(sendJSON(http.MethodPost, "/chat/rename", map[string]string{"session_id": sessionID, "new_name": "Smoke test"}))

	color.Yellow("\n6. History")
	must(sendJSON(http.MethodPost, "/chat/history", map[string]interface{}{"session_ids": []string{sessionID}}))

	color.Yellow("\n7. Clear")
	must(sendJSON(http.MethodPost, "/clear", map[string]string{"session_id": sessionID}))

	color.Yellow("\n8. Delete")
	must(sendJSON(http.MethodDelete, "/chat/delete/"+sessionID, nil))

	color.Cyan("\nSmoke test finished")
}

// stream prints each server-sent event as it arrives.
func stream(form url.Values) {
	req, err := http.NewRequest(http.MethodPost, *baseURL+"/chat/stream", strings.NewReader(form.Encode()))
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	color.Green("Status: %s", resp.Status)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			color.Red("bad event: %s", line)
			continue
		}
		switch ev["type"] {
		case "chunk":
			fmt.Print(ev["text"])
		case "error":
			color.Red("\n[error] %v", ev["message"])
		default:
			color.Blue("\n[%v] %v", ev["type"], ev["session_id"])
		}
	}
	if err := scanner.Err(); err != nil {
		color.Red("stream read failed: %v", err)
	}
}
