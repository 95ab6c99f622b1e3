// Command mainloopctl is the thin operator CLI for a running mainloopd: it
// enqueues a task, lists a user's inbox, and responds to an inbox item, all
// by talking to internal/httpapi over HTTP rather than touching storage or
// the durable engine directly — the same boundary any other client of the
// daemon goes through.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "enqueue":
		err = cmdEnqueue(os.Args[2:])
	case "inbox":
		err = cmdInbox(os.Args[2:])
	case "respond":
		err = cmdRespond(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mainloopctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  mainloopctl enqueue -addr <daemon-addr> -user <user_id> <description>
  mainloopctl inbox   -addr <daemon-addr> -user <user_id>
  mainloopctl respond -addr <daemon-addr> -item <item_id> -by <responder> <response-text>`)
}

// cmdEnqueue spawns a worker task by sending a "/new <description>" chat
// message, reusing the same classifier grammar a real chat client drives.
func cmdEnqueue(args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "mainloopd address")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || fs.NArg() == 0 {
		return fmt.Errorf("enqueue requires -user and a description")
	}
	description := fs.Arg(0)
	for _, a := range fs.Args()[1:] {
		description += " " + a
	}

	body := map[string]string{"text": "/new " + description}
	return postJSON(*addr+"/api/users/"+*user+"/messages", body, os.Stdout)
}

func cmdInbox(args []string) error {
	fs := flag.NewFlagSet("inbox", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "mainloopd address")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("inbox requires -user")
	}
	resp, err := http.Get(*addr + "/api/users/" + *user + "/inbox")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp, os.Stdout)
}

func cmdRespond(args []string) error {
	fs := flag.NewFlagSet("respond", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "mainloopd address")
	item := fs.String("item", "", "queue item id")
	by := fs.String("by", "", "responder identity")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *item == "" || fs.NArg() == 0 {
		return fmt.Errorf("respond requires -item and response text")
	}
	response := fs.Arg(0)
	for _, a := range fs.Args()[1:] {
		response += " " + a
	}

	body := map[string]string{"response": response, "responded_by": *by}
	return postJSON(*addr+"/api/queue-items/"+*item+"/respond", body, os.Stdout)
}

func postJSON(url string, body any, w io.Writer) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp, w)
}

func printResponse(resp *http.Response, w io.Writer) error {
	dec := json.NewDecoder(resp.Body)
	var v any
	if err := dec.Decode(&v); err != nil && err != io.EOF {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if resp.StatusCode >= 400 {
		_ = enc.Encode(v)
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return enc.Encode(v)
}
