// glyphnet is the command-line client for a running fabric daemon.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/glyphnet/internal/crypto"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "tx":
		cmdTx(os.Args[2:])
	case "thread":
		cmdThread(os.Args[2:])
	case "listen":
		cmdListen(os.Args[2:])
	case "hash-token":
		cmdHashToken(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		usage()
	}
}

func usage() {
	fmt.Println("Usage: glyphnet <health|tx|thread|listen|hash-token> [args]")
	fmt.Println("  health                         check daemon liveness")
	fmt.Println("  tx <recipient> <glyphs...>     send a glyph capsule")
	fmt.Println("  thread <topic> [limit]         read thread history")
	fmt.Println("  listen <topic>                 stream a topic over WS")
	fmt.Println("  hash-token <token>             print the argon2 digest for config")
	os.Exit(1)
}

func baseURL() string {
	if v := os.Getenv("GLYPHNET_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://localhost:8490"
}

func token() string {
	if v := os.Getenv("GLYPHNET_TOKEN"); v != "" {
		return v
	}
	return "dev-token"
}

func cmdHealth() {
	resp, err := http.Get(baseURL() + "/api/glyphnet/health")
	if err != nil {
		fatal("health request failed: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
}

func cmdTx(args []string) {
	if len(args) < 2 {
		fatal("usage: glyphnet tx <recipient> <glyphs...>")
	}
	glyphs := make([]any, 0, len(args)-1)
	for _, g := range args[1:] {
		glyphs = append(glyphs, g)
	}

	body, _ := json.Marshal(map[string]any{
		"recipient": args[0],
		"capsule":   map[string]any{"glyphs": glyphs},
		"token":     token(),
	})
	resp, err := http.Post(baseURL()+"/api/glyphnet/tx", "application/json", bytes.NewReader(body))
	if err != nil {
		fatal("tx failed: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func cmdThread(args []string) {
	if len(args) < 1 {
		fatal("usage: glyphnet thread <topic> [limit]")
	}
	url := fmt.Sprintf("%s/api/glyphnet/thread?topic=%s", baseURL(), args[0])
	if len(args) > 1 {
		url += "&limit=" + args[1]
	}
	resp, err := http.Get(url)
	if err != nil {
		fatal("thread request failed: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
}

func cmdListen(args []string) {
	if len(args) < 1 {
		fatal("usage: glyphnet listen <topic>")
	}
	wsURL := strings.Replace(baseURL(), "http", "ws", 1) + "/ws/gip"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fatal("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "topic": args[0]}); err != nil {
		fatal("subscribe: %v", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fatal("connection closed: %v", err)
		}
		fmt.Println(string(data))
	}
}

func cmdHashToken(args []string) {
	if len(args) < 1 {
		fatal("usage: glyphnet hash-token <token>")
	}
	fmt.Println(base64.StdEncoding.EncodeToString(crypto.HashToken(args[0])))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
