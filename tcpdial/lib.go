// Package tcpdial provides a pool Factory over TCP connections: the
// canonical embedder of the pool engine. Open dials, Validate probes the
// socket with a deadline read, Close and Abort tear it down.
package tcpdial

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/superfly/sessionpool/pool"
)

// Factory dials connections to one address.
type Factory struct {
	network string
	addr    string
	dialer  *net.Dialer
	log     logrus.FieldLogger
}

var _ pool.Factory[net.Conn] = (*Factory)(nil)

type Opt func(*Factory)

// DialTimeout bounds each dial independently of the caller's context.
func DialTimeout(d time.Duration) Opt {
	return func(f *Factory) { f.dialer.Timeout = d }
}

// KeepAlive sets the TCP keep-alive interval for dialed connections.
func KeepAlive(d time.Duration) Opt {
	return func(f *Factory) { f.dialer.KeepAlive = d }
}

// Logger sets the logger. The default is logrus.StandardLogger().
func Logger(l logrus.FieldLogger) Opt {
	return func(f *Factory) { f.log = l }
}

// New returns a factory dialing network/addr.
func New(network, addr string, opts ...Opt) *Factory {
	f := &Factory{
		network: network,
		addr:    addr,
		dialer:  &net.Dialer{},
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open dials a new connection.
func (f *Factory) Open(ctx context.Context) (net.Conn, error) {
	c, err := f.dialer.DialContext(ctx, f.network, f.addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Validate probes an idle connection with a deadline read. A read timeout
// means the peer is quiet but the socket open: alive. EOF or a hard error
// means dead. Unsolicited data on an idle session means the stream is
// desynced, which is as good as dead.
func (f *Factory) Validate(c net.Conn, timeout time.Duration) bool {
	if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false
	}
	defer c.SetReadDeadline(time.Time{}) //nolint:errcheck

	one := make([]byte, 1)
	_, err := c.Read(one)
	if err == nil {
		f.log.Debugf("tcpdial: validate %v: unsolicited data", c.RemoteAddr())
		return false
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// Close tears a connection down, eating any error.
func (f *Factory) Close(c net.Conn) {
	if err := c.Close(); err != nil {
		f.log.Debugf("tcpdial: close %v: %v", c.RemoteAddr(), err)
	}
}

// Abort forces an immediate teardown: expire all deadlines, then close.
func (f *Factory) Abort(c net.Conn) {
	c.SetDeadline(time.Now()) //nolint:errcheck
	f.Close(c)
}
