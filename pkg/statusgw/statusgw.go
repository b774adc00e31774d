// Package statusgw is a tiny JSON HTTP status surface (component K of
// the expanded spec): one route per contact listing its Stats snapshot,
// plus an index route listing known contacts. It intentionally carries
// none of the command/control routing the teacher's CiA 309-5 gateway
// implements — this repository has no analogue of NMT commands or SDO
// reads to expose, only read-only status.
//
// Grounded on the teacher's pkg/gateway/http/server.go (ServeMux plus a
// route table keyed by command string, JSON responses built by hand
// rather than via a framework) and schemas.go's GatewayResponseBase
// JSON envelope shape.
package statusgw

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dtnproto/scl/pkg/contactmgr"
	"github.com/dtnproto/scl/pkg/scl"
)

// ConnectionLookup resolves a tracked contact to its live Connection, so
// the server can pull a fresh Stats snapshot per request rather than
// caching one.
type ConnectionLookup func(contactmgr.ContactID) (*scl.Connection, bool)

// Server serves GET /contacts and GET /contacts/{id}.
type Server struct {
	log        *logrus.Entry
	contactMgr *contactmgr.Manager
	lookup     ConnectionLookup
	mux        *http.ServeMux
}

// contactStatus is the JSON envelope for one contact, mirroring the
// teacher's flat struct-with-json-tags response shape.
type contactStatus struct {
	ContactID string `json:"contact_id"`
	LinkID    string `json:"link_id"`
	Peer      string `json:"peer"`
	Up        bool   `json:"up"`

	SegmentsSent   int64 `json:"segments_sent"`
	SegmentsRcvd   int64 `json:"segments_received"`
	BytesSent      int64 `json:"bytes_sent"`
	BytesAcked     int64 `json:"bytes_acked"`
	KeepalivesSent int64 `json:"keepalives_sent"`
}

// NewServer builds a status server over mgr's tracked contacts, using
// lookup to fetch live Stats for a given contact.
func NewServer(mgr *contactmgr.Manager, lookup ConnectionLookup, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		log:        logger.WithField("component", "statusgw"),
		contactMgr: mgr,
		lookup:     lookup,
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/contacts", s.handleList)
	s.mux.HandleFunc("/contacts/", s.handleOne)
	return s
}

// ListenAndServe blocks serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.WithField("addr", addr).Info("starting status server")
	return http.ListenAndServe(addr, s.mux)
}

// Mux returns the underlying ServeMux so callers can mount additional
// handlers (e.g. promhttp's /metrics) alongside /contacts on the same
// listener.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) status(c contactmgr.Contact) contactStatus {
	out := contactStatus{
		ContactID: string(c.ID),
		LinkID:    string(c.Link),
		Up:        c.Up,
	}
	if link, ok := s.contactMgr.Link(c.Link); ok {
		out.Peer = link.Peer.String()
	}
	if conn, ok := s.lookup(c.ID); ok {
		stat := conn.Stats()
		out.SegmentsSent = stat.SegmentsSent
		out.SegmentsRcvd = stat.SegmentsRcvd
		out.BytesSent = stat.BytesSent
		out.BytesAcked = stat.BytesAcked
		out.KeepalivesSent = stat.KeepalivesSent
	}
	return out
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	contacts := s.contactMgr.Contacts()
	out := make([]contactStatus, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, s.status(c))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOne(w http.ResponseWriter, r *http.Request) {
	id := contactmgr.ContactID(r.URL.Path[len("/contacts/"):])
	for _, c := range s.contactMgr.Contacts() {
		if c.ID == id {
			s.writeJSON(w, http.StatusOK, s.status(c))
			return
		}
	}
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "contact not found"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("failed writing status response")
	}
}
