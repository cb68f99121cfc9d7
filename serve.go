package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mjl-/hostoverride/dns"
	_ "github.com/mjl-/hostoverride/metrics"
	"github.com/mjl-/hostoverride/mlog"
	"github.com/mjl-/hostoverride/override"
	"github.com/mjl-/hostoverride/ratelimit"
)

var pkglog = mlog.New("serve", nil)

func cmdServe(c *cmd) {
	c.params = "[-listen address]"
	c.help = `Serve host lookups and prometheus metrics over HTTP.

GET /lookup?host=name resolves name with the configured overrides and responds
with JSON. Additional overrides for just that request can be given as
map=name=ip parameters, the lookup is then done in an isolated context with
those overrides only. GET /metrics serves prometheus metrics.
`
	listen := "localhost:8053"
	var perMinute int64
	c.flag.StringVar(&listen, "listen", listen, "address to listen on")
	c.flag.Int64Var(&perMinute, "ratelimit", 600, "maximum lookups per minute per client address, 0 for no limit")
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	p := mustInitialize()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	lh := lookupHandler{provider: p}
	if perMinute > 0 {
		lh.limiter = &ratelimit.Limiter{
			Windows: []ratelimit.Window{
				{Period: time.Minute, Limits: [...]int64{perMinute, 4 * perMinute, 16 * perMinute}},
			},
		}
	}
	mux.Handle("/lookup", lh)
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	pkglog.Print("listening", slog.String("address", listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		xcheckf(err, "serving http")
	}
	// Let running contexts finish.
	p.Orchestrator.Wait()
}

type lookupHandler struct {
	provider *override.Provider
	limiter  *ratelimit.Limiter // Nil for no limit.
}

type lookupResult struct {
	Host   string
	Addrs  []string
	Error  string `json:",omitempty"`
	Source string // "default" or "context"
}

func (h lookupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "405 - method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.limiter != nil {
		if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil && !h.limiter.Add(ap.Addr(), time.Now(), 1) {
			http.Error(w, "429 - too many requests", http.StatusTooManyRequests)
			return
		}
	}

	q := r.URL.Query()
	host := q.Get("host")
	if host == "" {
		http.Error(w, "400 - missing parameter host", http.StatusBadRequest)
		return
	}

	lookup := func(ctx context.Context) ([]net.IPAddr, error) {
		return h.provider.LookupIPAddr(ctx, host)
	}
	result := lookupResult{Host: host, Source: "default"}

	var addrs []net.IPAddr
	var err error
	if maps := q["map"]; len(maps) > 0 {
		result.Source = "context"
		b := override.NewBuilder()
		for _, m := range maps {
			name, ip, ok := strings.Cut(m, "=")
			if !ok {
				http.Error(w, "400 - bad map parameter, must be name=ip", http.StatusBadRequest)
				return
			}
			b.Add(ip, name)
		}
		x := h.provider.Execute(r.Context(), b.Build(), func(ctx context.Context) error {
			addrs, err = lookup(ctx)
			return nil
		})
		if xerr := x.Wait(); xerr != nil {
			if errors.Is(xerr, override.ErrConflictingOverride) || errors.Is(xerr, override.ErrInvalidHostname) || errors.Is(xerr, dns.ErrMalformedAddress) {
				http.Error(w, "400 - "+xerr.Error(), http.StatusBadRequest)
			} else {
				http.Error(w, "503 - "+xerr.Error(), http.StatusServiceUnavailable)
			}
			return
		}
	} else {
		addrs, err = lookup(r.Context())
	}

	status := http.StatusOK
	if err != nil {
		result.Error = err.Error()
		if dns.IsNotFound(err) {
			status = http.StatusNotFound
		} else {
			status = http.StatusServiceUnavailable
		}
	}
	result.Addrs = []string{}
	for _, a := range addrs {
		result.Addrs = append(result.Addrs, a.String())
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	if err := enc.Encode(result); err != nil {
		pkglog.Debugx("writing lookup response", err)
	}
}
