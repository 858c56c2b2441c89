package probe

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"
)

const certDialTimeout = 10 * time.Second

// dialCertDays dials the target's TLS endpoint directly and returns the days
// left on the leaf certificate. It lets a monitor whose HTTP check failed
// (timeout, redirect loop) still report certificate lifetime as long as the
// handshake completes.
//
// Returns nil for non-HTTPS endpoints and failed handshakes.
func dialCertDays(ctx context.Context, rawURL string, insecure bool, now time.Time) *int {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		// No explicit port in the URL; append the HTTPS default.
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, certDialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: insecure, //nolint:gosec // user-configured
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		return nil
	}
	days := int(peerCerts[0].NotAfter.Sub(now).Hours() / 24)
	return &days
}
