// sclconsole is a demo CLI exercising the Stream Convergence Layer
// engine end to end over a real TCP socket: dial a peer, or listen for
// one, exchange the handshake, and log every event as it happens. It is
// scaffolding for manual testing, not a product feature, in the spirit
// of the teacher's cmd/canopen demo wiring a socketcan bus to a Node.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/dtnproto/scl/pkg/bpabstract"
	"github.com/dtnproto/scl/pkg/clparams"
	"github.com/dtnproto/scl/pkg/config"
	"github.com/dtnproto/scl/pkg/contactmgr"
	"github.com/dtnproto/scl/pkg/metrics"
	"github.com/dtnproto/scl/pkg/scl"
	"github.com/dtnproto/scl/pkg/statusgw"
)

func main() {
	log.SetLevel(log.InfoLevel)

	listenAddr := flag.String("listen", "", "address to listen on, e.g. :4556 (mutually exclusive with -dial)")
	dialAddr := flag.String("dial", "", "address to dial, e.g. 127.0.0.1:4556 (mutually exclusive with -listen)")
	localEID := flag.String("eid", "dtn://local.dtn/", "local endpoint id advertised in the announce bundle")
	configPath := flag.String("config", "", "optional .ini file with a [link] section (see pkg/config)")
	statusAddr := flag.String("status-addr", ":8787", "address for the status/metrics HTTP server")
	flag.Parse()

	if (*listenAddr == "") == (*dialAddr == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -listen or -dial is required")
		os.Exit(1)
	}

	params := clparams.Default()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			log.WithError(err).Fatal("opening config file")
		}
		defer f.Close()
		params, err = config.LoadLinkParams(f)
		if err != nil {
			log.WithError(err).Fatal("loading link config")
		}
	}

	mgr := contactmgr.New()
	collector := metrics.NewCollector("scl", []string{"contact_id"}, prometheus.Labels{})
	prometheus.MustRegister(collector)

	connByContact := make(map[contactmgr.ContactID]*scl.Connection)
	status := statusgw.NewServer(mgr, func(id contactmgr.ContactID) (*scl.Connection, bool) {
		c, ok := connByContact[id]
		return c, ok
	}, log.NewEntry(log.StandardLogger()))

	status.Mux().Handle("/metrics", promhttp.Handler())
	go func() {
		log.WithError(status.ListenAndServe(*statusAddr)).Warn("status server exited")
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	events := scl.EventSinkFunc(func(evt any) {
		switch e := evt.(type) {
		case scl.ContactUpEvent:
			log.WithField("contact", e.Contact).Info("contact up")
		case scl.ContactDownEvent:
			log.WithField("contact", e.Contact).WithField("reason", e.Reason).Info("contact down")
		case scl.BundleReceivedEvent:
			log.WithField("bytes", e.BytesReceived).WithField("fragment", e.Fragment).Info("bundle received")
		case scl.BundleTransmittedEvent:
			log.WithField("contact", e.Contact).WithField("bytes_acked", e.BytesAcked).Info("bundle transmitted")
		}
	})

	headerParser := bpabstract.ParseMemHeaderBlocks(16)

	run := func(conn net.Conn) {
		c, err := scl.NewConnection(scl.Config{
			IO:           scl.NewNetChannel(conn),
			ContactMgr:   mgr,
			LocalEID:     bpabstract.EndpointID(*localEID),
			LocalParams:  params,
			HeaderParser: headerParser,
			Events:       events,
			Logger:       log.NewEntry(log.StandardLogger()),
		})
		if err != nil {
			log.WithError(err).Error("constructing connection")
			return
		}
		if err := c.Run(ctx); err != nil {
			log.WithError(err).Error("connection run loop exited with error")
		}
	}

	if *dialAddr != "" {
		conn, err := net.Dial("tcp", *dialAddr)
		if err != nil {
			log.WithError(err).Fatal("dialing peer")
		}
		run(conn)
		return
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.WithError(err).Fatal("listening")
	}
	log.WithField("addr", ln.Addr()).Info("listening for contacts")
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Error("accept")
			continue
		}
		go run(conn)
	}
}
