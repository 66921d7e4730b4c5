package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/igolaizola/zelatari"
	"github.com/igolaizola/zelatari/pkg/logger"
	"github.com/igolaizola/zelatari/pkg/mtproto"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func main() {
	// Create signal based context
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, os.Kill)
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
			cancel()
		}
		signal.Stop(c)
	}()

	// Load variables from .env when present
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(err)
	}

	// Launch command
	cmd := newCommand()
	if err := cmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *ffcli.Command {
	fs := flag.NewFlagSet("zelatari", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "zelatari [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newRunCommand(),
			newVersionCommand(),
		},
	}
}

func newVersionCommand() *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "zelatari version",
		ShortHelp:  "print version",
		Exec: func(context.Context, []string) error {
			fmt.Println(zelatari.Version())
			return nil
		},
	}
}

// repeatedFlag collects every occurrence of a flag.
type repeatedFlag []string

func (f *repeatedFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *repeatedFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func newRunCommand() *ffcli.Command {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	db := fs.String("db", "zelatari.db", "history database path")
	token := fs.String("telegram-token", "", "telegram bot token")
	chat := fs.Int64("telegram-chat", 0, "telegram chat id for logs and commands")
	var channels repeatedFlag
	fs.Var(&channels, "channel", "signal channel as id=Label[:family], repeatable")
	mtprotoID := fs.Int("mtproto-id", 0, "telegram api id of the reader account")
	mtprotoHash := fs.String("mtproto-hash", "", "telegram api hash of the reader account")
	mtprotoPhone := fs.String("mtproto-phone", "", "phone of the reader account")
	mtprotoSession := fs.String("mtproto-session", "zelatari.session", "session file of the reader account")
	maxSignals := fs.Int("max-signals", 10, "max simultaneous signals")
	mergeTTL := fs.Duration("merge-ttl", 180*time.Second, "two-message merge window")
	pollInterval := fs.Duration("poll-interval", 5*time.Second, "price polling cadence")
	maxPriceFails := fs.Int("max-price-fails", 5, "consecutive price failures before a signal is dropped")
	webAddr := fs.String("web-addr", ":8080", "dashboard api address, empty disables")
	var webOrigins repeatedFlag
	fs.Var(&webOrigins, "web-origin", "allowed dashboard origin, repeatable")
	providers := fs.String("providers", "binance,bingx", "price sources in priority order")
	minTPGap := fs.Float64("min-tp-gap", 0.5, "min gap in percent between entry and a take profit")
	historyDays := fs.Int("history-days", 30, "history retention in days")
	dry := fs.Bool("dry", false, "enable dry mode")
	logLevel := fs.String("log-level", "info", "log level")
	logFormat := fs.String("log-format", "text", "log format: text or json")
	logFile := fs.String("log-file", "", "log file (optional)")
	logMaxAge := fs.Int("log-max-age", 0, "days to keep rotated log files, 0 keeps all")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "zelatari run [flags]",
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ff.PlainParser),
			ff.WithEnvVarPrefix("ZELATARI"),
		},
		ShortHelp: "run zelatari bot",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			if *db == "" {
				return errors.New("missing db path")
			}
			if *dry && !strings.HasSuffix(*db, ".dry.db") {
				*db = fmt.Sprintf("%s.dry.db", strings.TrimSuffix(*db, ".db"))
			}
			if *token == "" {
				return errors.New("missing telegram token")
			}
			if *chat == 0 {
				return errors.New("missing telegram chat")
			}
			if *mtprotoID != 0 && *mtprotoPhone == "" {
				return errors.New("missing mtproto phone")
			}
			chans, families, err := parseChannels(channels)
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Config{
				Level:      *logLevel,
				Format:     *logFormat,
				File:       *logFile,
				MaxAgeDays: *logMaxAge,
			})
			if err != nil {
				return err
			}
			bot, err := zelatari.New(zelatari.Config{
				DB:       *db,
				Token:    *token,
				ChatID:   *chat,
				Channels: chans,
				Families: families,
				MTProto: mtproto.Config{
					ID:      *mtprotoID,
					Hash:    *mtprotoHash,
					Phone:   *mtprotoPhone,
					Session: *mtprotoSession,
				},
				Providers:     strings.Split(*providers, ","),
				MaxSignals:    *maxSignals,
				MergeTTL:      *mergeTTL,
				PollInterval:  *pollInterval,
				MaxPriceFails: *maxPriceFails,
				MinTPGap:      *minTPGap,
				HistoryDays:   *historyDays,
				WebAddr:       *webAddr,
				WebOrigins:    webOrigins,
				Dry:           *dry,
			}, log)
			if err != nil {
				return err
			}
			return bot.Run(ctx)
		},
	}
}

// parseChannels reads repeated id=Label[:family] values into the
// channel map and the per-label format family bindings.
func parseChannels(values []string) (map[int64]string, map[string]string, error) {
	channels := make(map[int64]string)
	families := make(map[string]string)
	for _, v := range values {
		idPart, label, ok := strings.Cut(v, "=")
		if !ok {
			return nil, nil, fmt.Errorf("invalid channel %q, want id=Label[:family]", v)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid channel id %q: %w", idPart, err)
		}
		var family string
		if l, f, ok := strings.Cut(label, ":"); ok {
			label, family = l, strings.TrimSpace(f)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, nil, fmt.Errorf("invalid channel %q, empty label", v)
		}
		channels[id] = label
		if family != "" {
			families[label] = family
		}
	}
	return channels, families, nil
}
