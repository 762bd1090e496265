// Command client is a terminal chat client. It logs in (or signs up) over
// the REST API, connects to the websocket endpoint, and reconciles presence,
// messages, and typing signals into a chatclient.Store while offering a
// small command REPL.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tanvir/relaychat/internal/chat"
	"github.com/tanvir/relaychat/internal/chatclient"
	"github.com/tanvir/relaychat/internal/model"
)

func main() {
	serverURL := flag.String("server", "http://localhost:5000", "server base URL")
	signup := flag.Bool("signup", false, "create a new account instead of logging in")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	rl, err := readline.New("> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "readline:", err)
		os.Exit(1)
	}
	defer rl.Close()

	app := &app{
		serverURL: strings.TrimRight(*serverURL, "/"),
		http:      &http.Client{Timeout: 10 * time.Second},
		rl:        rl,
		logger:    logger,
	}

	if err := app.authenticate(*signup); err != nil {
		fmt.Fprintln(os.Stderr, "authentication failed:", err)
		os.Exit(1)
	}

	if err := app.connect(); err != nil {
		fmt.Fprintln(os.Stderr, "connection failed:", err)
		os.Exit(1)
	}
	defer app.client.Close()

	fmt.Printf("connected as %s — /users, /online, /msg <user> <text>, /history <user>, /quit\n", app.user.Username)
	app.repl()
}

type app struct {
	serverURL string
	http      *http.Client
	rl        *readline.Instance
	logger    *slog.Logger

	token  string
	user   *model.User
	store  *chatclient.Store
	client *chatclient.Client
}

type authResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func (a *app) authenticate(signup bool) error {
	var payload map[string]string
	path := "/api/auth/login"

	if signup {
		a.rl.SetPrompt("username: ")
		username, err := a.rl.Readline()
		if err != nil {
			return err
		}
		a.rl.SetPrompt("email: ")
		email, err := a.rl.Readline()
		if err != nil {
			return err
		}
		password, err := a.rl.ReadPassword("password: ")
		if err != nil {
			return err
		}
		path = "/api/auth/signup"
		payload = map[string]string{
			"username": strings.TrimSpace(username),
			"email":    strings.TrimSpace(email),
			"password": string(password),
		}
	} else {
		a.rl.SetPrompt("email: ")
		email, err := a.rl.Readline()
		if err != nil {
			return err
		}
		password, err := a.rl.ReadPassword("password: ")
		if err != nil {
			return err
		}
		payload = map[string]string{
			"email":    strings.TrimSpace(email),
			"password": string(password),
		}
	}
	a.rl.SetPrompt("> ")

	var result authResponse
	if err := a.post(path, payload, &result); err != nil {
		return err
	}
	a.token = result.Token
	a.user = result.User
	return nil
}

func (a *app) connect() error {
	a.store = chatclient.NewStore(a.user.ID)

	var users struct {
		Users []model.User `json:"users"`
	}
	if err := a.get("/api/auth/users", &users); err != nil {
		return err
	}
	a.store.SetUsers(users.Users)

	wsURL := strings.Replace(a.serverURL, "http", "ws", 1) + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := chatclient.Dial(ctx, wsURL, a.token, a.store, a.logger)
	if err != nil {
		return err
	}
	a.client = client
	client.OnEvent = a.onEvent
	return nil
}

// onEvent prints noteworthy events above the prompt. The Store has already
// reconciled them by the time this runs.
func (a *app) onEvent(env chat.Envelope) {
	switch env.Event {
	case chat.EventMessageReceived:
		var m chat.MessagePayload
		if json.Unmarshal(env.Data, &m) == nil {
			fmt.Printf("\r%s: %s\n", a.username(m.SenderID.String()), m.Content)
			_ = a.client.MarkRead(m.ID)
		}
	case chat.EventUserOnline:
		var p chat.PresenceChange
		if json.Unmarshal(env.Data, &p) == nil {
			fmt.Printf("\r* %s is online\n", a.username(p.UserID.String()))
		}
	case chat.EventUserOffline:
		var p chat.PresenceChange
		if json.Unmarshal(env.Data, &p) == nil {
			fmt.Printf("\r* %s went offline\n", a.username(p.UserID.String()))
		}
	case chat.EventTypingStarted:
		var p chat.TypingChange
		if json.Unmarshal(env.Data, &p) == nil {
			fmt.Printf("\r* %s is typing…\n", a.username(p.UserID.String()))
		}
	case chat.EventMessageError:
		fmt.Printf("\r! %s\n", a.store.LastError())
	}
	a.rl.Refresh()
}

func (a *app) repl() {
	for {
		line, err := a.rl.Readline()
		if err != nil { // io.EOF or interrupt
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit":
			return

		case "/users":
			for _, u := range a.store.Users() {
				marker := " "
				if a.store.IsOnline(u.ID) {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, u.Username)
			}

		case "/online":
			for _, id := range a.store.OnlineUsers() {
				fmt.Println(a.username(id))
			}

		case "/msg":
			username, text, ok := strings.Cut(rest, " ")
			if !ok || strings.TrimSpace(text) == "" {
				fmt.Println("usage: /msg <user> <text>")
				continue
			}
			peer := a.userID(username)
			if peer == "" {
				fmt.Println("unknown user:", username)
				continue
			}
			_ = a.client.StartTyping(peer)
			if err := a.client.SendMessage(peer, text); err != nil {
				fmt.Println("send failed:", err)
			}
			_ = a.client.StopTyping(peer)

		case "/history":
			peer := a.userID(strings.TrimSpace(rest))
			if peer == "" {
				fmt.Println("unknown user:", rest)
				continue
			}
			if err := a.fetchHistory(peer); err != nil {
				fmt.Println("history failed:", err)
				continue
			}
			for _, m := range a.store.Conversation(peer) {
				fmt.Printf("[%s] %s: %s\n",
					m.CreatedAt.Local().Format("15:04"),
					a.username(m.SenderID.String()),
					m.Content,
				)
			}

		default:
			fmt.Println("commands: /users /online /msg /history /quit")
		}
	}
}

func (a *app) fetchHistory(peerID string) error {
	var page struct {
		Messages []model.Message `json:"messages"`
	}
	if err := a.get("/api/messages/"+peerID, &page); err != nil {
		return err
	}
	a.store.AddHistory(peerID, page.Messages)
	return nil
}

// username resolves an ID to a display name, falling back to the raw ID.
func (a *app) username(id string) string {
	if a.user != nil && id == a.user.ID {
		return a.user.Username
	}
	for _, u := range a.store.Users() {
		if u.ID == id {
			return u.Username
		}
	}
	return id
}

func (a *app) userID(username string) string {
	for _, u := range a.store.Users() {
		if strings.EqualFold(u.Username, username) {
			return u.ID
		}
	}
	return ""
}

func (a *app) post(path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, a.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, result)
}

func (a *app) get(path string, result any) error {
	req, err := http.NewRequest(http.MethodGet, a.serverURL+path, nil)
	if err != nil {
		return err
	}
	return a.do(req, result)
}

func (a *app) do(req *http.Request, result any) error {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s", apiErr.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
