// Command council runs one peer of the nine-member single-decree
// Paxos cluster: proposer, acceptor, and learner over TCP.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/council/internal/acceptor"
	"github.com/sandeepkv93/council/internal/clog"
	"github.com/sandeepkv93/council/internal/learner"
	"github.com/sandeepkv93/council/internal/listener"
	"github.com/sandeepkv93/council/internal/observer"
	"github.com/sandeepkv93/council/internal/peer"
	"github.com/sandeepkv93/council/internal/peertable"
	"github.com/sandeepkv93/council/internal/profile"
	"github.com/sandeepkv93/council/internal/proposer"
	"github.com/sandeepkv93/council/internal/rpcfanout"
)

var (
	flagProfile        string
	flagPropose        string
	flagProposeDelayMs int
	flagConfig         string
	flagRPCTimeoutMs   int
	flagConnTimeoutMs  int
	flagMaxInbound     int
	flagObserverAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "council <memberId>",
	Short: "Run one peer of the council Paxos cluster",
	Long: `council runs a single member of a nine-peer single-decree Paxos
cluster. Each peer simultaneously plays proposer, acceptor, and
learner over a static TCP peer table.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args[0])
	},
}

// usageError marks an error that should exit with code 2: a wrong
// positional argument count or a flag that fails to parse.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func init() {
	rootCmd.Flags().StringVar(&flagProfile, "profile", "standard", "fault profile: reliable|standard|latent|failing")
	rootCmd.Flags().StringVar(&flagPropose, "propose", "", "if set, this peer proposes the given value after --propose-delay")
	rootCmd.Flags().IntVar(&flagProposeDelayMs, "propose-delay", 300, "milliseconds to wait before proposing")
	rootCmd.Flags().StringVar(&flagConfig, "config", "network.config", "path to the static peer table")
	rootCmd.Flags().IntVar(&flagRPCTimeoutMs, "rpc-timeout", 2000, "fan-out RPC deadline in milliseconds")
	rootCmd.Flags().IntVar(&flagConnTimeoutMs, "connect-timeout", 800, "per-hop connect timeout in milliseconds")
	rootCmd.Flags().IntVar(&flagMaxInbound, "max-inbound", listener.DefaultMaxInbound, "max concurrent inbound connections")
	rootCmd.Flags().StringVar(&flagObserverAddr, "observer-addr", "", "if set, serve a read-only websocket decide feed on this address")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
}

func run(memberID string) error {
	table, err := peertable.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("council: %w", err)
	}

	entry, ok := table.Lookup(memberID)
	if !ok {
		return fmt.Errorf("council: member %q not found in %s", memberID, flagConfig)
	}

	log := clog.Stdout(memberID)
	memberIdx := peertable.Index(memberID)

	var obs *observer.Server
	if flagObserverAddr != "" {
		obs = observer.New(flagObserverAddr, log)
		obs.Start()
	}

	prof := profile.New(profile.Parse(flagProfile), time.Now().UnixNano()^int64(memberIdx))
	log.Printf("starting member=%s profile=%s addr=%s", memberID, prof.Kind(), entry.Addr())

	a := acceptor.New()
	var onDecide func(string)
	if obs != nil {
		onDecide = func(value string) {
			obs.Publish(observer.Event{Member: memberID, Value: value, DecidedAt: time.Now()})
		}
	}
	l := learner.New(log, onDecide)
	p := peer.New(memberID, a, l)

	lst := listener.New(entry.Addr(), p, prof, log, flagMaxInbound)
	if err := lst.Start(); err != nil {
		return fmt.Errorf("council: failed to bind %s: %w", entry.Addr(), err)
	}
	defer lst.Stop()

	fanout := rpcfanout.New(memberID, table, prof, rpcfanout.Config{
		ConnectTimeout: time.Duration(flagConnTimeoutMs) * time.Millisecond,
		RPCTimeout:     time.Duration(flagRPCTimeoutMs) * time.Millisecond,
	}, log)

	prop := proposer.New(memberID, memberIdx, table, fanout, p, log)

	if flagPropose != "" {
		go func() {
			time.Sleep(time.Duration(flagProposeDelayMs) * time.Millisecond)
			log.Printf("proposing %q", flagPropose)
			result := prop.Propose(flagPropose)
			log.Printf("propose attempt finished: %s", result.Outcome)
		}()
	}

	select {}
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, err)

	var u usageError
	if errors.As(err, &u) {
		os.Exit(2)
	}
	os.Exit(1)
}
