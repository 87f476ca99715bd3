// Package netspeed measures internet bandwidth and latency against public
// speedtest servers.
//
// Startup resolves the candidate server set, Execute runs ping, download and
// upload phases while reporting progress and recording one row per tested
// server, Shutdown releases the measurement transport. The stop request is
// polled between servers and between phases; a single transfer is bounded by
// the run context instead.
package netspeed

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	logx "labrun/pkg/logx"
	"labrun/pkg/measure"
)

const defaultDialTimeout = 10 * time.Second

// Procedure is one bandwidth measurement run.
type Procedure struct {
	params *measure.Params

	client     *st.Speedtest
	transport  *http.Transport
	candidates []*st.Server
	isp        string
}

func New() *Procedure {
	p := measure.NewParams()
	_ = p.Set("servers", 5)         // candidate servers considered
	_ = p.Set("full_tests", 1)      // servers given a full transfer test
	_ = p.Set("max_connections", 4) // parallel streams per transfer
	_ = p.Set("packet_loss", false) // probe packet loss per tested server
	return &Procedure{params: p}
}

// Configure applies parameter overrides before queueing.
func (p *Procedure) Configure(overrides map[string]any) error {
	for k, v := range overrides {
		if err := p.params.Set(k, v); err != nil {
			return fmt.Errorf("netspeed: %w", err)
		}
	}
	return nil
}

func (p *Procedure) Name() string            { return "netspeed" }
func (p *Procedure) Params() *measure.Params { return p.params }

func (p *Procedure) Columns() []string {
	return []string{"server", "sponsor", "ping_ms", "download_mbps", "upload_mbps", "packet_loss_pct"}
}

func (p *Procedure) Startup(ctx context.Context, env *measure.Env) error {
	maxConn := p.params.Int("max_connections", 4)
	if maxConn <= 0 {
		maxConn = 4
	}

	d := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}
	p.transport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         d.DialContext,
		MaxIdleConnsPerHost: maxConn,
		IdleConnTimeout:     10 * time.Second,
		TLSHandshakeTimeout: defaultDialTimeout,
	}

	p.client = st.New(st.WithUserConfig(&st.UserConfig{
		MaxConnections: maxConn,
	}))
	p.client.SetNThread(maxConn)

	user, err := p.client.FetchUserInfoContext(ctx)
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	p.isp = user.Isp

	servers, err := p.client.FetchServerListContext(ctx)
	if err != nil {
		return fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return fmt.Errorf("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	n := p.params.Int("servers", 5)
	if n <= 0 {
		n = 5
	}
	if n > len(servers) {
		n = len(servers)
	}
	p.candidates = servers[:n]

	env.Log().Info("server list resolved",
		logx.String("isp", p.isp),
		logx.Int("candidates", len(p.candidates)),
	)
	return nil
}

func (p *Procedure) Execute(ctx context.Context, env *measure.Env) error {
	// Phase 1: latency. Sequential pings, stop request polled per server.
	pinged := make([]*st.Server, 0, len(p.candidates))
	for i, s := range p.candidates {
		if env.ShouldStop() {
			return nil
		}
		if err := s.PingTestContext(ctx, nil); err != nil {
			env.Log().Debug("ping failed", logx.String("server", s.Host), logx.Err(err))
			continue
		}
		if s.Latency > 0 {
			pinged = append(pinged, s)
		}
		env.Progress(float64(i+1) / float64(len(p.candidates)) * 20)
	}
	if len(pinged) == 0 {
		return fmt.Errorf("all latency tests failed")
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })

	fullN := p.params.Int("full_tests", 1)
	if fullN <= 0 {
		fullN = 1
	}
	if fullN > len(pinged) {
		fullN = len(pinged)
	}
	probeLoss, _ := p.params.Get("packet_loss")

	// Phase 2: full transfer tests on the lowest-latency servers, one at a
	// time. Each server fills an equal slice of the remaining 80%.
	tested := 0
	for i, s := range pinged[:fullN] {
		if env.ShouldStop() || ctx.Err() != nil {
			return nil
		}

		if err := s.DownloadTestContext(ctx); err != nil {
			env.Log().Warn("download test failed", logx.String("server", s.Host), logx.Err(err))
			continue
		}
		env.Progress(20 + (float64(i)+0.5)/float64(fullN)*80)

		if env.ShouldStop() {
			return nil
		}
		if err := s.UploadTestContext(ctx); err != nil {
			env.Log().Warn("upload test failed", logx.String("server", s.Host), logx.Err(err))
			continue
		}

		pl := -1.0
		if probeLoss == true {
			pl = p.packetLoss(ctx, s.Host)
		}

		env.Record(map[string]any{
			"server":          s.Host,
			"sponsor":         s.Sponsor,
			"ping_ms":         float64(s.Latency.Milliseconds()),
			"download_mbps":   s.DLSpeed.Mbps(),
			"upload_mbps":     s.ULSpeed.Mbps(),
			"packet_loss_pct": pl,
		})
		tested++
		env.Progress(20 + float64(i+1)/float64(fullN)*80)

		// Drop per-test snapshots before moving to the next server.
		p.client.Snapshots().Clean()
		p.client.Reset()
	}
	if tested == 0 {
		return fmt.Errorf("full test failed for all servers")
	}
	return nil
}

func (p *Procedure) packetLoss(ctx context.Context, host string) float64 {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	plCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pla := st.NewPacketLossAnalyzer(nil)
	pl, err := pla.RunMultiWithContext(plCtx, []string{host})
	if err != nil || pl == nil {
		return -1
	}
	return pl.LossPercent()
}

func (p *Procedure) Shutdown(ctx context.Context, env *measure.Env) error {
	if p.client != nil {
		p.client.Snapshots().Clean()
		p.client.Reset()
	}
	if p.transport != nil {
		p.transport.CloseIdleConnections()
	}
	p.candidates = nil
	return nil
}
