package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/migadu/popclient/pop3"
)

func handleBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	quoted := fs.Bool("q", false, "Print the request Go-quoted so CRLF is visible")
	fs.Usage = func() {
		fmt.Printf(`Print the request line for a POP3 command without connecting

Usage:
  popclient build [-q] <verb> [arg]

Verbs: user, pass, stat, list, retr, quit
`)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	request, err := buildRequest(fs.Args())
	if err != nil {
		return err
	}
	if *quoted {
		fmt.Println(strconv.Quote(request))
		return nil
	}
	_, err = os.Stdout.WriteString(request)
	return err
}

// buildRequest encodes a command given as a verb and its arguments.
func buildRequest(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: missing verb", pop3.ErrInvalidArgument)
	}
	verb, err := pop3.ParseVerb(args[0])
	if err != nil {
		return "", err
	}
	return pop3.EncodeCommand(pop3.Command{Verb: verb, Args: args[1:]})
}
