package check

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/obsidianstack/sentinel/internal/config"
)

// tlsSampler dials the check endpoint and inspects the leaf certificate:
//
//	reachable  1 when the handshake completed, otherwise 0
//	days_left  whole days until NotAfter, negative once expired
//
// days_left is absent when the endpoint is unreachable so expiry rules do not
// fire on a network outage.
func tlsSampler(cfg config.Check) sampler {
	timeout := timeoutOf(cfg)
	return func(ctx context.Context) (Sample, error) {
		host, err := dialAddr(cfg.Endpoint)
		if err != nil {
			return nil, err
		}

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{},
			Config: &tls.Config{
				InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec
			},
		}
		netConn, err := dialer.DialContext(dialCtx, "tcp", host)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return Sample{"reachable": 0}, nil
		}
		conn := netConn.(*tls.Conn)
		defer conn.Close()

		peerCerts := conn.ConnectionState().PeerCertificates
		if len(peerCerts) == 0 {
			return Sample{"reachable": 0}, nil
		}
		daysLeft := peerCerts[0].NotAfter.Sub(time.Now()).Hours() / 24
		return Sample{
			"reachable": 1,
			"days_left": math.Floor(daysLeft),
		}, nil
	}
}

// dialAddr turns an https URL or a bare host[:port] into a host:port pair,
// defaulting to port 443.
func dialAddr(endpoint string) (string, error) {
	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		if u.Scheme != "https" {
			return "", fmt.Errorf("tls endpoint %q: scheme must be https", endpoint)
		}
		host = u.Host
	}
	if host == "" {
		return "", fmt.Errorf("tls endpoint %q: no host", endpoint)
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	return host, nil
}
