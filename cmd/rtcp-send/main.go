// Command rtcp-send reads a file, connects to a remote rtcp listener, and
// transmits the file's contents, optionally injecting packet loss or
// corruption to exercise the protocol's recovery behavior. The fault
// injector only gates segments this process sends, and this connection is
// always the active opener, so a -debug-option of 3 or 5 targets this side's
// own outgoing SYN/data/FIN; 2 and 4 target the receiver's ACKs and take
// effect only when given to rtcp-recv.
//
// Usage:
//
//	rtcp-send -file path/to/data -local 127.0.0.1:55000 -remote 127.0.0.1:54000 -debug-option 1 -loss 0 -corruption 0
package main

import (
	"bytes"
	"flag"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/netprotolab/rtcp/pkg/chunker"
	"github.com/netprotolab/rtcp/pkg/common"
	"github.com/netprotolab/rtcp/pkg/tcp"
)

func main() {
	file := flag.String("file", "", "path to the file to send")
	local := flag.String("local", "127.0.0.1:55000", "local address:port to bind")
	remote := flag.String("remote", "127.0.0.1:54000", "remote address:port to connect to")
	mss := flag.Int("mss", int(tcp.DefaultMSS), "maximum segment size, also used to size the progress-bar chunking")
	debugOption := flag.Int("debug-option", int(tcp.DebugOptionNone), "fault-injection profile (1=none 2=corrupt-ack 3=corrupt-data 4=drop-ack 5=drop-data)")
	loss := flag.Int("loss", 0, "percent chance of dropping an outgoing segment")
	corruption := flag.Int("corruption", 0, "percent chance of corrupting an outgoing segment")
	seed := flag.Int64("seed", 1, "fault injector RNG seed")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *file == "" {
		log.Fatal("-file is required")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		log.WithError(err).Fatal("failed to read input file")
	}

	localAddr, localPort, err := splitHostPort(*local)
	if err != nil {
		log.WithError(err).Fatal("invalid -local")
	}
	remoteAddr, remotePort, err := splitHostPort(*remote)
	if err != nil {
		log.WithError(err).Fatal("invalid -remote")
	}

	conn := tcp.NewConnection(localAddr, localPort, remoteAddr, remotePort, tcp.Config{
		MSS:               uint16(*mss),
		LossPercent:       *loss,
		CorruptionPercent: *corruption,
		DebugOption:       tcp.DebugOption(*debugOption),
		FaultSeed:         *seed,
		Logger:            log,
	})

	log.WithFields(logrus.Fields{"local": *local, "remote": *remote}).Info("connecting")
	if err := conn.Connect(); err != nil {
		log.WithError(err).Fatal("connect failed")
	}

	// Split the file into MSS-sized pieces up front and feed them to Send
	// one at a time, so the progress bar advances on real confirmed
	// deliveries (each Send call only returns once fully acked) instead of
	// animating blind against wall-clock time.
	pieces, err := chunker.Split(bytes.NewReader(data), *mss)
	if err != nil {
		log.WithError(err).Fatal("failed to chunk input file")
	}

	bar := progressbar.DefaultBytes(int64(len(data)), "sending")
	for _, piece := range pieces {
		if err := conn.Send(piece); err != nil {
			log.WithError(err).Fatal("send failed")
		}
		bar.Add(len(piece))
	}
	bar.Finish()

	if err := conn.Close(); err != nil {
		log.WithError(err).Fatal("close failed")
	}
	log.Info("transfer complete")
}

func splitHostPort(hostport string) (common.IPv4Address, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return common.IPv4Address{}, 0, err
	}
	addr, err := common.ParseIPv4(host)
	if err != nil {
		return common.IPv4Address{}, 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return common.IPv4Address{}, 0, err
	}
	return addr, uint16(port), nil
}
