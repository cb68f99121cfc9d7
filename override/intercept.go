package override

import (
	"context"
	"log/slog"
	"net"
	"sync"

	mdns "github.com/miekg/dns"

	"github.com/mjl-/hostoverride/dns"
)

// NetResolver returns a Go resolver whose address lookups are answered by r.
// Its DNS connections never leave the process: each dial returns one end of an
// in-memory pipe, the other end is served by r. Questions for other record
// types than A and AAAA are forwarded to the name servers from
// /etc/resolv.conf.
func (r *Resolver) NetResolver() *net.Resolver {
	r.netOnce.Do(func() {
		r.netResolver = &net.Resolver{
			PreferGo:     true,
			StrictErrors: true,
			Dial:         r.dial,
		}
	})
	return r.netResolver
}

func (r *Resolver) dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, server := net.Pipe()
	go r.serveConn(ctx, server)
	return client, nil
}

// serveConn answers DNS messages on conn until it is closed. Conn is not a
// net.PacketConn, so messages are length-prefixed like with TCP, on both
// sides.
func (r *Resolver) serveConn(ctx context.Context, conn net.Conn) {
	co := &mdns.Conn{Conn: conn}
	defer co.Close()
	for {
		req, err := co.ReadMsg()
		if err != nil {
			return
		}
		if err := co.WriteMsg(r.answer(ctx, req)); err != nil {
			r.log.WithContext(ctx).Debugx("writing dns response", err)
			return
		}
	}
}

func (r *Resolver) answer(ctx context.Context, req *mdns.Msg) *mdns.Msg {
	resp := new(mdns.Msg)
	if len(req.Question) != 1 {
		return resp.SetRcode(req, mdns.RcodeFormatError)
	}
	q := req.Question[0]
	if q.Qclass != mdns.ClassINET || q.Qtype != mdns.TypeA && q.Qtype != mdns.TypeAAAA {
		return upstream.forward(ctx, req)
	}

	resp.SetReply(req)
	resp.Authoritative = true
	resp.RecursionAvailable = true

	addrs, err := r.LookupIPAddr(ctx, q.Name)
	r.log.WithContext(ctx).Debugx("answering intercepted query", err,
		slog.String("name", q.Name),
		slog.String("type", mdns.TypeToString[q.Qtype]),
		slog.Any("addrs", addrs),
	)
	if err != nil {
		if dns.IsNotFound(err) {
			resp.Rcode = mdns.RcodeNameError
		} else {
			resp.Rcode = mdns.RcodeServerFailure
		}
		return resp
	}
	hdr := mdns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: mdns.ClassINET}
	for _, a := range addrs {
		ip4 := a.IP.To4()
		switch {
		case q.Qtype == mdns.TypeA && ip4 != nil:
			resp.Answer = append(resp.Answer, &mdns.A{Hdr: hdr, A: ip4})
		case q.Qtype == mdns.TypeAAAA && ip4 == nil:
			resp.Answer = append(resp.Answer, &mdns.AAAA{Hdr: hdr, AAAA: a.IP})
		}
	}
	return resp
}

var resolvConf = "/etc/resolv.conf"

// upstream forwards questions the override resolvers don't answer.
var upstream = &forwarder{}

type forwarder struct {
	sync.Mutex
	loaded  bool
	servers []string // host:port
	client  mdns.Client
}

func (f *forwarder) upstreams() []string {
	f.Lock()
	defer f.Unlock()
	if !f.loaded {
		f.loaded = true
		cc, err := mdns.ClientConfigFromFile(resolvConf)
		if err == nil {
			for _, s := range cc.Servers {
				f.servers = append(f.servers, net.JoinHostPort(s, cc.Port))
			}
		}
	}
	return f.servers
}

// forward sends req to each upstream in turn, returning the first response.
func (f *forwarder) forward(ctx context.Context, req *mdns.Msg) *mdns.Msg {
	for _, server := range f.upstreams() {
		resp, _, err := f.client.ExchangeContext(ctx, req, server)
		if err == nil && resp != nil {
			resp.Id = req.Id
			return resp
		}
	}
	resp := new(mdns.Msg)
	return resp.SetRcode(req, mdns.RcodeServerFailure)
}
