package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/risk-gate/cmd/common"
	"github.com/ducminhle1904/risk-gate/internal/audit"
	"github.com/ducminhle1904/risk-gate/internal/breaker"
	"github.com/ducminhle1904/risk-gate/internal/config"
	"github.com/ducminhle1904/risk-gate/internal/killswitch"
	"github.com/ducminhle1904/risk-gate/internal/notifications"
	"github.com/ducminhle1904/risk-gate/internal/reservation"
	"github.com/ducminhle1904/risk-gate/internal/state"
)

const usage = `usage: riskctl [-config FILE] [-env FILE] COMMAND [ARGS]

commands:
  status                      show kill switch, breaker and reservations
  init                        create missing halt-flag records
  engage -reason R            engage the kill switch
  disengage                   resume trading (asks for the confirmation phrase)
  trip -reason R              open the circuit breaker manually
  reset                       close the circuit breaker (asks for the confirmation phrase)
  reservations [SYMBOL...]    list pending reservations
  reclaim SYMBOL...           reverse expired reservations now
  freshness FILE              check a csv/xlsx dataset for stale rows
  orderid                     print the client order id of an order
`

type app struct {
	ctx    context.Context
	cfg    *config.Config
	in     *bufio.Reader
	out    io.Writer
	log    *logrus.Logger
	client  *redis.Client
	closers []io.Closer
}

func run(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("riskctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }
	flags := common.RegisterCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *flags.Version {
		common.PrintVersion(out, "riskctl")
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	if err := common.LoadEnvFile(*flags.EnvFile); err != nil {
		return err
	}
	cfg, err := config.Load(*flags.Config)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	a := &app{ctx: context.Background(), cfg: cfg, in: bufio.NewReader(in), out: out, log: log}
	defer a.close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "status":
		return a.status()
	case "init":
		return a.initRecords()
	case "engage":
		return a.engage(rest)
	case "disengage":
		return a.disengage(rest)
	case "trip":
		return a.trip(rest)
	case "reset":
		return a.reset(rest)
	case "reservations":
		return a.reservations(rest)
	case "reclaim":
		return a.reclaim(rest)
	case "freshness":
		return a.freshness(rest)
	case "orderid":
		return a.orderID(rest)
	}
	fs.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	if a.client != nil {
		_ = a.client.Close()
	}
}

func (a *app) conn() *redis.Client {
	if a.client == nil {
		a.client = state.NewRedisClient(state.RedisOptions{
			Addr:         a.cfg.Redis.Addr,
			Password:     a.cfg.Redis.Password,
			DB:           a.cfg.Redis.DB,
			DialTimeout:  a.cfg.Redis.DialTimeout,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
	}
	return a.client
}

// reporter writes transitions to the configured audit file and pages when a
// notifier is configured.
func (a *app) reporter() (audit.Reporter, error) {
	r := audit.Reporter{Log: a.log}
	if a.cfg.Audit.File != "" {
		sink, err := audit.NewFileSink(a.cfg.Audit.File)
		if err != nil {
			return r, err
		}
		r.Sink = sink
		a.closers = append(a.closers, sink)
	}
	if a.cfg.Telegram.Token != "" {
		r.Notifier = notifications.NewTelegramNotifier(a.cfg.Telegram.Token, a.cfg.Telegram.ChatID)
	}
	return r, nil
}

func (a *app) killSwitch() (*killswitch.Switch, error) {
	r, err := a.reporter()
	if err != nil {
		return nil, err
	}
	return killswitch.New(state.NewRedisStore(a.conn()), killswitch.Options{Key: a.cfg.KillSwitch.Key, Reporter: r}), nil
}

func (a *app) breaker() (*breaker.Breaker, error) {
	r, err := a.reporter()
	if err != nil {
		return nil, err
	}
	return breaker.New(state.NewRedisStore(a.conn()), breaker.Config{
		Key:                 a.cfg.Breaker.Key,
		LossThresholdPct:    a.cfg.Breaker.LossThresholdPct,
		VolatilityThreshold: a.cfg.Breaker.VolatilityThreshold,
		CoolDown:            a.cfg.Breaker.CoolDown,
		HealthyEvaluations:  a.cfg.Breaker.HealthyEvaluations,
	}, r, nil), nil
}

func (a *app) reserver() *reservation.Reserver {
	return reservation.New(a.conn(), reservation.Options{
		Prefix:  a.cfg.Reservation.Prefix,
		TTL:     a.cfg.Reservation.TTL,
		Timeout: time.Second,
		Log:     a.log,
	})
}

// prompt reads one line after printing question.
func (a *app) prompt(question string) (string, error) {
	fmt.Fprint(a.out, question)
	line, err := a.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("no confirmation entered")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func operatorFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("USER")
	if def == "" {
		def = "operator"
	}
	return fs.String("operator", def, "Operator recorded in the audit trail")
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
