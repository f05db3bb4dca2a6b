// ABOUTME: Operator CLI for relay-hub agent, mailbox, and task management
// ABOUTME: Talks to the hub HTTP API; output formatted with tabwriter and color

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
           _                            _           _
  _ __ ___| | __ _ _   _      __ _  __| |_ __ ___ (_)_ __
 | '__/ _ \ |/ _' | | | |    / _' |/ _' | '_ ' _ \| | '_ \
 | | |  __/ | (_| | |_| |   | (_| | (_| | | | | | | | | | |
 |_|  \___|_|\__,_|\__, |    \__,_|\__,_|_| |_| |_|_|_| |_|
                   |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("RELAY_HUB_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8420"
	}
	client := &apiClient{baseURL: strings.TrimRight(baseURL, "/")}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "agents":
		err = cmdAgents(client, args)
	case "register":
		err = cmdRegister(client, args)
	case "status":
		err = cmdStatus(client, args)
	case "send":
		err = cmdSend(client, args)
	case "inbox":
		err = cmdInbox(client, args)
	case "read":
		err = cmdRead(client, args)
	case "reply":
		err = cmdReply(client, args)
	case "share":
		err = cmdShare(client, args)
	case "task":
		err = cmdTask(client, args)
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
	fmt.Println("Usage: relay-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  agents [cap,cap...]                   List agents, optionally capability-filtered")
	fmt.Println("  register <id> <name> <type> [caps]    Register an agent (caps comma-separated)")
	fmt.Println("  status <id> <idle|busy|offline>       Update an agent's presence")
	fmt.Println("  send <from> <to> <subject> [body]     Send a notification message")
	fmt.Println("  inbox <id> [--unread]                 Show an agent's mailbox")
	fmt.Println("  read <agent-id> <message-id>          Mark a message read")
	fmt.Println("  reply <message-id> <from> [body]      Reply to a message")
	fmt.Println("  share <from> <to> <path> [note]       Share a workspace file path")
	fmt.Println("  task create <creator> <assignees> <name> [description]")
	fmt.Println("  task show <task-id>")
	fmt.Println("  task status <task-id> <agent-id> <status> [note]")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  RELAY_HUB_URL   Hub base URL (default http://localhost:8420)")
}

// apiClient wraps JSON calls to the hub HTTP API.
type apiClient struct {
	baseURL string
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, resp.Status)
		}
		return fmt.Errorf("hub returned %s", resp.Status)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type agentView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
}

type messageView struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Type      string    `json:"type"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"replyTo"`
}

func cmdAgents(c *apiClient, args []string) error {
	path := "/api/agents"
	if len(args) > 0 {
		path += "?capabilities=" + args[0]
	}

	var agents []agentView
	if err := c.do(http.MethodGet, path, nil, &agents); err != nil {
		return err
	}

	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tCAPABILITIES")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Name, a.Type, colorStatus(a.Status), strings.Join(a.Capabilities, ","))
	}
	return w.Flush()
}

func colorStatus(status string) string {
	switch status {
	case "idle":
		return color.GreenString(status)
	case "busy":
		return color.YellowString(status)
	case "offline":
		return color.RedString(status)
	}
	return status
}

func cmdRegister(c *apiClient, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: register <id> <name> <type> [caps]")
	}

	var caps []string
	if len(args) > 3 {
		caps = strings.Split(args[3], ",")
	}

	body := map[string]any{
		"id":           args[0],
		"name":         args[1],
		"type":         args[2],
		"capabilities": caps,
	}
	if err := c.do(http.MethodPost, "/api/agents", body, nil); err != nil {
		return err
	}
	color.Green("Registered %s\n", args[0])
	return nil
}

func cmdStatus(c *apiClient, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: status <id> <idle|busy|offline>")
	}

	body := map[string]string{"status": args[1]}
	if err := c.do(http.MethodPost, "/api/agents/"+args[0]+"/status", body, nil); err != nil {
		return err
	}
	color.Green("Status of %s set to %s\n", args[0], args[1])
	return nil
}

func cmdSend(c *apiClient, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: send <from> <to> <subject> [body]")
	}

	content := map[string]any{}
	if len(args) > 3 {
		content["text"] = strings.Join(args[3:], " ")
	}

	body := map[string]any{
		"from":    args[0],
		"to":      args[1],
		"type":    "notification",
		"subject": args[2],
		"content": content,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(http.MethodPost, "/api/messages", body, &resp); err != nil {
		return err
	}
	color.Green("Sent %s\n", resp.ID)
	return nil
}

func cmdInbox(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: inbox <id> [--unread]")
	}

	path := "/api/agents/" + args[0] + "/messages"
	if len(args) > 1 && args[1] == "--unread" {
		path += "?unread=true"
	}

	var messages []messageView
	if err := c.do(http.MethodGet, path, nil, &messages); err != nil {
		return err
	}

	if len(messages) == 0 {
		fmt.Println("Mailbox is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFROM\tTYPE\tKIND\tSUBJECT\tTIME")
	for _, m := range messages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.From, m.Type, m.Kind, m.Subject, m.Timestamp.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdRead(c *apiClient, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: read <agent-id> <message-id>")
	}

	body := map[string]string{"agentId": args[0]}
	if err := c.do(http.MethodPost, "/api/messages/"+args[1]+"/read", body, nil); err != nil {
		return err
	}
	color.Green("Marked %s read for %s\n", args[1], args[0])
	return nil
}

func cmdReply(c *apiClient, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: reply <message-id> <from> [body]")
	}

	content := map[string]any{}
	if len(args) > 2 {
		content["text"] = strings.Join(args[2:], " ")
	}

	body := map[string]any{"from": args[1], "content": content}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(http.MethodPost, "/api/messages/"+args[0]+"/reply", body, &resp); err != nil {
		return err
	}
	color.Green("Replied with %s\n", resp.ID)
	return nil
}

func cmdShare(c *apiClient, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: share <from> <to> <path> [note]")
	}

	body := map[string]any{
		"from": args[0],
		"to":   args[1],
		"path": args[2],
	}
	if len(args) > 3 {
		body["description"] = strings.Join(args[3:], " ")
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(http.MethodPost, "/api/files/share", body, &resp); err != nil {
		return err
	}
	color.Green("Shared %s with %s (%s)\n", args[2], args[1], resp.ID)
	return nil
}

func cmdTask(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: task <create|show|status> ...")
	}

	switch args[0] {
	case "create":
		return cmdTaskCreate(c, args[1:])
	case "show":
		return cmdTaskShow(c, args[1:])
	case "status":
		return cmdTaskStatus(c, args[1:])
	}
	return fmt.Errorf("unknown task subcommand: %s", args[0])
}

func cmdTaskCreate(c *apiClient, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: task create <creator> <assignees> <name> [description]")
	}

	description := ""
	if len(args) > 3 {
		description = strings.Join(args[3:], " ")
	}

	body := map[string]any{
		"creator":     args[0],
		"assignees":   strings.Split(args[1], ","),
		"name":        args[2],
		"description": description,
	}
	var resp struct {
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
		Deliveries []deliveryView `json:"deliveries"`
	}
	if err := c.do(http.MethodPost, "/api/tasks", body, &resp); err != nil {
		return err
	}

	color.Green("Created task %s\n", resp.Task.ID)
	printDeliveries(resp.Deliveries)
	return nil
}

func cmdTaskShow(c *apiClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: task show <task-id>")
	}

	var resp struct {
		Task struct {
			ID          string   `json:"id"`
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Creator     string   `json:"creator"`
			Assignees   []string `json:"assignees"`
		} `json:"task"`
		Status map[string]struct {
			Status    string    `json:"status"`
			Message   string    `json:"message"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"status"`
	}
	if err := c.do(http.MethodGet, "/api/tasks/"+args[0], nil, &resp); err != nil {
		return err
	}

	fmt.Printf("Task:        %s\n", resp.Task.ID)
	fmt.Printf("Name:        %s\n", resp.Task.Name)
	if resp.Task.Description != "" {
		fmt.Printf("Description: %s\n", resp.Task.Description)
	}
	fmt.Printf("Creator:     %s\n", resp.Task.Creator)
	fmt.Printf("Assignees:   %s\n", strings.Join(resp.Task.Assignees, ", "))
	fmt.Println()

	if len(resp.Status) == 0 {
		fmt.Println("No status reports yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATUS\tNOTE\tTIME")
	for agentID, entry := range resp.Status {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			agentID, entry.Status, entry.Message, entry.Timestamp.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdTaskStatus(c *apiClient, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: task status <task-id> <agent-id> <status> [note]")
	}

	note := ""
	if len(args) > 3 {
		note = strings.Join(args[3:], " ")
	}

	body := map[string]any{
		"agentId": args[1],
		"status":  args[2],
		"message": note,
	}
	var resp struct {
		Deliveries []deliveryView `json:"deliveries"`
	}
	if err := c.do(http.MethodPost, "/api/tasks/"+args[0]+"/status", body, &resp); err != nil {
		return err
	}

	color.Green("Recorded %s for %s\n", args[2], args[1])
	printDeliveries(resp.Deliveries)
	return nil
}

type deliveryView struct {
	Recipient string `json:"recipient"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

func printDeliveries(deliveries []deliveryView) {
	for _, d := range deliveries {
		if d.Error != "" {
			color.Red("  %s: delivery failed: %s\n", d.Recipient, d.Error)
		} else {
			fmt.Printf("  %s: notified (%s)\n", d.Recipient, d.MessageID)
		}
	}
}
