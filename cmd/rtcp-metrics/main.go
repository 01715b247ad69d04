// Command rtcp-metrics accepts a single rtcp connection like rtcp-recv, but
// also registers the connection's Profiler with Prometheus and serves it
// over HTTP, so a scraper can observe segment counts, congestion window,
// and smoothed RTT while the transfer is in flight.
//
// Usage:
//
//	rtcp-metrics -local 127.0.0.1:54000 -remote 127.0.0.1:55000 -listen :18080
package main

import (
	"flag"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/netprotolab/rtcp/pkg/common"
	"github.com/netprotolab/rtcp/pkg/tcp"
)

func main() {
	local := flag.String("local", "127.0.0.1:54000", "local address:port to bind")
	remote := flag.String("remote", "127.0.0.1:55000", "remote address:port expected to connect")
	listen := flag.String("listen", ":18080", "address for the /metrics HTTP endpoint")
	flag.Parse()

	log := logrus.New()

	localAddr, localPort, err := splitHostPort(*local)
	if err != nil {
		log.WithError(err).Fatal("invalid -local")
	}
	remoteAddr, remotePort, err := splitHostPort(*remote)
	if err != nil {
		log.WithError(err).Fatal("invalid -remote")
	}

	conn := tcp.NewConnection(localAddr, localPort, remoteAddr, remotePort, tcp.Config{
		Logger: log,
	})

	prometheus.MustRegister(conn.Profiler())
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.WithField("listen", *listen).Info("serving /metrics")
		log.WithError(http.ListenAndServe(*listen, nil)).Warn("metrics server stopped")
	}()

	log.WithFields(logrus.Fields{"local": *local, "remote": *remote}).Info("waiting for connection")
	if err := conn.Accept(); err != nil {
		log.WithError(err).Fatal("accept failed")
	}

	data, err := conn.Recv()
	if err != nil {
		log.WithError(err).Fatal("receive failed")
	}
	log.WithField("bytes", len(data)).Info("transfer complete, metrics remain available")
	select {}
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
