package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/migadu/popclient/config"
	"github.com/migadu/popclient/email"
	"github.com/migadu/popclient/helpers"
	"github.com/migadu/popclient/session"
)

type fetchOptions struct {
	retr uint64 // Message to retrieve, 0 for none
	raw  bool   // Print the retrieved message verbatim
}

func handleFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	addr := fs.String("addr", "", "POP3 server, host or host:port (overrides config)")
	useTLS := fs.Bool("tls", false, "Use implicit TLS (overrides config)")
	insecure := fs.Bool("insecure", false, "Skip certificate verification (overrides config)")
	user := fs.String("user", "", "User name (overrides config)")
	pass := fs.String("pass", "", "Password (overrides config)")
	debug := fs.Bool("debug", false, "Copy raw POP3 traffic to stderr (overrides config)")
	retr := fs.Uint64("retr", 0, "Retrieve this message after listing")
	raw := fs.Bool("raw", false, "Print the retrieved message verbatim")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if isFlagSet(fs, "addr") {
		cfg.POP3.Addr = *addr
	}
	if isFlagSet(fs, "tls") {
		cfg.POP3.TLS = *useTLS
	}
	if isFlagSet(fs, "insecure") {
		cfg.POP3.InsecureSkipVerify = *insecure
	}
	if isFlagSet(fs, "user") {
		cfg.POP3.Username = *user
	}
	if isFlagSet(fs, "pass") {
		cfg.POP3.Password = *pass
	}
	if isFlagSet(fs, "debug") {
		cfg.POP3.Debug = *debug
	}
	if cfg.POP3.Addr == "" {
		return fmt.Errorf("no POP3 server address, use -addr or pop3.addr")
	}

	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return runFetch(ctx, cfg.POP3, fetchOptions{retr: *retr, raw: *raw}, os.Stdout)
}

// runFetch performs one complete POP3 session and reports to w.
func runFetch(ctx context.Context, cfg config.POP3Config, opts fetchOptions, w io.Writer) error {
	sess := session.New(cfg)
	defer sess.Close()

	greeting, err := sess.Connect(ctx, cfg.Addr, cfg.TLS)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Connected to %s: %s\n", cfg.Addr, greeting)

	if cfg.Username != "" {
		if _, err := sess.User(ctx, cfg.Username); err != nil {
			return fmt.Errorf("USER rejected: %w", err)
		}
		if _, err := sess.Pass(ctx, cfg.Password); err != nil {
			return fmt.Errorf("PASS rejected: %w", err)
		}
	}

	stat, err := sess.Stat(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Maildrop: %d messages (%s)\n", stat.Count, helpers.FormatOctets(stat.Octets))

	list, err := sess.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, l := range list.Listings {
		fmt.Fprintf(tw, "%d\t%s\t\n", l.ID, helpers.FormatOctets(l.Size))
	}
	tw.Flush()

	if opts.retr != 0 {
		if err := printMessage(ctx, sess, opts, w); err != nil {
			return err
		}
	}

	if _, err := sess.Quit(ctx); err != nil {
		return fmt.Errorf("QUIT failed: %w", err)
	}
	return nil
}

func printMessage(ctx context.Context, sess *session.Session, opts fetchOptions, w io.Writer) error {
	if opts.raw {
		msg, err := sess.Retr(ctx, opts.retr)
		if err != nil {
			return err
		}
		_, err = w.Write(msg.Body)
		return err
	}

	e, err := sess.Fetch(ctx, opts.retr)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	printSummary(w, e)
	return nil
}

func printSummary(w io.Writer, e *email.Email) {
	fmt.Fprintf(w, "From:    %s\n", e.From)
	fmt.Fprintf(w, "To:      %s\n", e.To)
	fmt.Fprintf(w, "Subject: %s\n", e.Subject)
	if e.Date != "" {
		fmt.Fprintf(w, "Date:    %s\n", e.Date)
	}
	fmt.Fprintf(w, "Hash:    %s\n", e.ContentHash)
	for _, a := range e.Attachments() {
		name := a.Filename
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "Attachment: %s %s %s\n", name, a.ContentType, helpers.FormatOctets(uint64(len(a.Data))))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.TrimRight(e.PlainText(), "\r\n"))
}
