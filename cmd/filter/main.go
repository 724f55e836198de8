// Command filter is the MTA-invoked companion to the Vaulty server. It is
// registered with Postfix as a content filter: invoked once per message,
// with the message on stdin and the envelope sender/recipients on argv.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/aksiksi/vaulty/internal/config"
	"github.com/aksiksi/vaulty/internal/filter"
	"github.com/aksiksi/vaulty/internal/logger"
)

// recipientList implements flag.Value to collect repeated --recipients flags.
type recipientList []string

func (r *recipientList) String() string { return "" }
func (r *recipientList) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	var sender string
	var recipients recipientList

	flag.StringVar(&sender, "sender", "", "envelope sender address")
	flag.Var(&recipients, "recipients", "envelope recipient address (repeatable)")
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("vaulty-filter: config: " + err.Error() + "\n")
		os.Exit(filter.ExitTempfail)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	if sender == "" {
		// DSN / bounce message: exit cleanly without reading stdin.
		os.Exit(filter.ExitOK)
	}

	raw, err := io.ReadAll(io.LimitReader(os.Stdin, cfg.Server.MaxEmailSize+1))
	if err != nil {
		log.Error("failed to read stdin", "error", err)
		fmt.Println("5.6.0 failed to read mail body")
		os.Exit(filter.ExitUnavailable)
	}
	if int64(len(raw)) > cfg.Server.MaxEmailSize {
		fmt.Println("5.6.0 mail exceeds maximum size")
		os.Exit(filter.ExitUnavailable)
	}

	opts := filter.Options{
		ServerAddr:   cfg.Filter.ServerAddr,
		User:         cfg.Filter.User,
		Pass:         cfg.Filter.Pass,
		ReplySuccess: cfg.Filter.ReplySuccess,
	}
	if opts.User == "" {
		opts.User = cfg.Server.AuthUser
	}
	if opts.Pass == "" {
		opts.Pass = cfg.Server.AuthPass
	}

	code := filter.Run(context.Background(), log, opts, sender, []string(recipients), raw)
	os.Exit(code)
}
