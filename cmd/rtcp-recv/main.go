// Command rtcp-recv listens as the passive opener of an rtcp connection,
// accepts a single transfer, and writes the received bytes to a file.
//
// Usage:
//
//	rtcp-recv -out received.bin -local 127.0.0.1:54000 -remote 127.0.0.1:55000
package main

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/netprotolab/rtcp/pkg/common"
	"github.com/netprotolab/rtcp/pkg/tcp"
)

func main() {
	out := flag.String("out", "received.bin", "path to write the received file")
	local := flag.String("local", "127.0.0.1:54000", "local address:port to bind")
	remote := flag.String("remote", "127.0.0.1:55000", "remote address:port expected to connect")
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

	localAddr, localPort, err := splitHostPort(*local)
	if err != nil {
		log.WithError(err).Fatal("invalid -local")
	}
	remoteAddr, remotePort, err := splitHostPort(*remote)
	if err != nil {
		log.WithError(err).Fatal("invalid -remote")
	}

	conn := tcp.NewConnection(localAddr, localPort, remoteAddr, remotePort, tcp.Config{
		LossPercent:       *loss,
		CorruptionPercent: *corruption,
		DebugOption:       tcp.DebugOption(*debugOption),
		FaultSeed:         *seed,
		Logger:            log,
	})

	log.WithFields(logrus.Fields{"local": *local, "remote": *remote}).Info("waiting for connection")
	if err := conn.Accept(); err != nil {
		log.WithError(err).Fatal("accept failed")
	}

	data, err := conn.Recv()
	if err != nil {
		log.WithError(err).Fatal("receive failed")
	}

	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.WithError(err).Fatal("failed to write output file")
	}
	log.WithFields(logrus.Fields{"bytes": len(data), "out": *out}).Info("transfer complete")
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
