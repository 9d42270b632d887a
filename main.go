// Copyright © 2023 Antalpha
//
// This file is part of Antalpha. The full Antalpha copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

/*
Command MPC_SESSION runs threshold key generation and signing sessions through a relay.

 1. relay: serve the groups of a relay config
 2. keygen: bootstrap through the relay and generate a key share
 3. sign: bootstrap through the relay and sign a message with a saved key share
 4. bench: time keygen and signing sessions over an in-memory network
*/
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"MPC_SESSION/communication"
	"MPC_SESSION/internal/round"
	"MPC_SESSION/internal/save"
	"MPC_SESSION/internal/test"
	"MPC_SESSION/pkg/party"
	"MPC_SESSION/pkg/protocol"
	"MPC_SESSION/protocols"
	"MPC_SESSION/protocols/keygen"
	"MPC_SESSION/protocols/sign"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <relay|keygen|sign|bench> [-flag=value, ...]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "relay":
		err = runRelay(ctx, os.Args[2:])
	case "keygen":
		err = runKeygen(ctx, os.Args[2:])
	case "sign":
		err = runSign(ctx, os.Args[2:])
	case "bench":
		err = runBench(ctx, os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Errorln(err)
		os.Exit(1)
	}
}

// parse parses the flags of a subcommand and applies -v.
func parse(fs *flag.FlagSet, args []string) {
	verbose := fs.Bool("v", false, "log debug output")
	_ = fs.Parse(args)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
}

func runRelay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	path := fs.String("config", "relay.json", "relay configuration file")
	parse(fs, args)

	cfg, err := communication.LoadRelayConfig(*path)
	if err != nil {
		return err
	}
	relay := communication.NewRelay(cfg.Groups)
	if cfg.CaPath == "" {
		return relay.ListenAndServe(ctx, cfg.ListenAddr, nil)
	}
	tc, err := communication.LoadTLSConfig(cfg.CaPath, cfg.ServerCertPath, cfg.ServerKeyPath)
	if err != nil {
		return err
	}
	return relay.ListenAndServe(ctx, cfg.ListenAddr, tc)
}

// connect dials the relay and signs up for a session of size parties.
func connect(ctx context.Context, cfg *communication.LocalConfig, size int) (*communication.Client, round.Info, error) {
	client, err := communication.Dial(ctx, cfg)
	if err != nil {
		return nil, round.Info{}, err
	}
	bctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	info, err := client.Bootstrap(bctx, cfg.GroupID, cfg.SessionID, size)
	if err != nil {
		_ = client.Close()
		return nil, round.Info{}, err
	}
	return client, info, nil
}

func observe(self party.Index) protocol.Options {
	return protocol.Options{
		Observer: func(ev protocol.Event) {
			if ev.Next == 0 {
				log.Infof("party %d: %s done", self, ev.FinishedName)
				return
			}
			log.Infof("party %d: %s done, waiting for %s", self, ev.FinishedName, ev.NextName)
		},
		OnFault: func(err *protocol.Error) {
			log.Warnf("party %d: %v", self, err)
		},
	}
}

func runKeygen(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	path := fs.String("config", "conn.json", "party configuration file")
	parse(fs, args)

	cfg, err := communication.LoadConfig(*path)
	if err != nil {
		return err
	}
	if cfg.KeySharePath == "" {
		return errors.New("keygen: keySharePath is not configured")
	}
	client, info, err := connect(ctx, cfg, 0)
	if err != nil {
		return err
	}
	defer client.Close()

	h, initial, err := protocols.Keygen(info, &keygen.Local{UseMnemonic: cfg.UseMnemonic}, client.Sender(), observe(info.Self))
	if err != nil {
		return err
	}
	defer client.Subscribe(info.SessionID, h)()

	share, err := h.Run(ctx, initial)
	if err != nil {
		return err
	}
	if err := save.SaveKeyShare(cfg.KeySharePath, share); err != nil {
		return err
	}
	log.Infof("public key %x, address %s", share.PublicKey, share.Address)
	return nil
}

func runSign(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	path := fs.String("config", "conn.json", "party configuration file")
	msg := fs.String("m", "", "message to sign, overrides messageToSign")
	parse(fs, args)

	cfg, err := communication.LoadConfig(*path)
	if err != nil {
		return err
	}
	if *msg != "" {
		cfg.MessageToSign = *msg
	}
	if cfg.MessageToSign == "" {
		return errors.New("sign: nothing to sign")
	}
	share, err := save.LoadKeyShare(cfg.KeySharePath)
	if err != nil {
		return err
	}
	client, info, err := connect(ctx, cfg, share.Parameters.Signers())
	if err != nil {
		return err
	}
	defer client.Close()

	digest := sign.Digest([]byte(cfg.MessageToSign))
	h, initial, err := protocols.Sign(info, &sign.Local{}, share, digest, client.Sender(), observe(info.Self))
	if err != nil {
		return err
	}
	defer client.Subscribe(info.SessionID, h)()

	sig, err := h.Run(ctx, initial)
	if err != nil {
		return err
	}
	if !sign.Verify(share.PublicKey, digest, sig) {
		return errors.New("sign: signature does not verify")
	}
	fmt.Printf("digest: %x\nR: %x\nS: %x\nv: %d\n", digest, sig.R, sig.S, sig.RecoveryID)
	return nil
}

type result struct {
	quorum   int
	keygen   time.Duration
	duration time.Duration
}

func runBench(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	var (
		startQuorum = fs.Int("q", 2, "the minimum quorum (t+1) to use")
		endQuorum   = fs.Int("n", 5, "the maximum quorum (t+1) to benchmark up to")
		runs        = fs.Int("r", 3, "the number of benchmarking runs")
	)
	parse(fs, args)
	if *startQuorum < 2 || *runs < 1 || *endQuorum < *startQuorum {
		return errors.New("bench: q must be at least 2, r must be greater than 0, n must not be below q")
	}
	log.SetLevel(log.WarnLevel)

	prt := message.NewPrinter(language.English)
	fmt.Println("Threshold Schnorr Benchmark Tool")
	fmt.Println("--------------------------------")
	fmt.Printf("Will test quorums %d-%d in %d runs\n", *startQuorum, *endQuorum, *runs)

	results := make([][]result, 0, *runs)
	for run := 0; run < *runs; run++ {
		fmt.Printf("Run %d...\n", run+1)
		results = append(results, make([]result, 0, *endQuorum-*startQuorum+1))
		for q := *startQuorum; q <= *endQuorum; q++ {
			r, err := benchQuorum(ctx, run, q)
			if err != nil {
				return err
			}
			results[run] = append(results[run], r)
			_, _ = prt.Printf("  Quorum %d: keygen %d ms, sign %d ms\n", q, r.keygen.Milliseconds(), r.duration.Milliseconds())
		}
	}
	fmt.Println("Results summary:")
	printSummary(results)
	return nil
}

// benchQuorum generates a key between q parties with threshold q-1, then signs with all of them.
func benchQuorum(ctx context.Context, run, q int) (result, error) {
	params := round.Parameters{Parties: q, Threshold: q - 1}
	n := test.NewNetwork(int64(run*1000 + q))
	n.SetJitter(0)
	session := fmt.Sprintf("bench-%d-%d", run, q)

	start := time.Now()
	keys, err := test.Keygen(ctx, n, session+"-keygen", params, func(party.Index) keygen.Capability {
		return &keygen.Local{Rand: rand.Reader}
	})
	if err != nil {
		return result{}, err
	}
	keygenTime := time.Since(start)

	signers := make([]*keygen.KeyShare, 0, q)
	for _, id := range party.Range(q) {
		signers = append(signers, keys.Output[id])
	}
	digest := sign.Digest([]byte(session))
	start = time.Now()
	sigs, err := test.Sign(ctx, n, session+"-sign", signers, digest, func(party.Index) sign.Capability {
		return &sign.Local{}
	})
	if err != nil {
		return result{}, err
	}
	if !sign.Verify(signers[0].PublicKey, digest, sigs.Output[1]) {
		return result{}, fmt.Errorf("bench: quorum %d produced an invalid signature %s", q, hex.EncodeToString(sigs.Output[1].S))
	}
	return result{quorum: q, keygen: keygenTime, duration: time.Since(start)}, nil
}

func printSummary(results [][]result) {
	prt := message.NewPrinter(language.English)
	table := tablewriter.NewWriter(os.Stdout)
	header := []string{"Quorum"}
	for run := range results {
		header = append(header, fmt.Sprintf("Run %d", run+1))
	}
	header = append(header, "Mean keygen", "Mean sign")
	table.SetHeader(header)

	rows := make([][]string, 0, len(results[0]))
	for q, r := range results[0] {
		row := []string{prt.Sprintf("%d", r.quorum)}
		var keygenMS, signMS int64
		for run := range results {
			row = append(row, prt.Sprintf("%d ms", results[run][q].duration.Milliseconds()))
			keygenMS += results[run][q].keygen.Milliseconds()
			signMS += results[run][q].duration.Milliseconds()
		}
		keygenMS /= int64(len(results))
		signMS /= int64(len(results))
		row = append(row, prt.Sprintf("%d ms", keygenMS), prt.Sprintf("%d ms", signMS))
		rows = append(rows, row)
	}
	table.SetBorders(tablewriter.Border{Left: true, Top: true, Right: true, Bottom: true})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("|")
	table.AppendBulk(rows)
	table.Render()
}
