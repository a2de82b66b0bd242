// Package tunnel forwards a local TCP endpoint to a database host through SSH.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/okian/ladder/pkg/logger"
)

// Default tunnel configuration constants.
const (
	defaultSSHPort     = 22
	defaultDialTimeout = 30 * time.Second
	localBindAddr      = "127.0.0.1:0"
)

// Config describes an optional SSH hop in front of a database.
type Config struct {
	Enabled bool
	Host    string
	Port    int
	User    string
	// PrivateKey holds PEM key material. Literal "\n" sequences are accepted
	// for keys passed through single-line environment variables.
	PrivateKey     string
	PrivateKeyFile string
	// KnownHostsFile enables host key verification when set.
	KnownHostsFile string
}

// Validate reports missing settings for an enabled tunnel.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.User == "" {
		missing = append(missing, "user")
	}
	if c.PrivateKey == "" && c.PrivateKeyFile == "" {
		missing = append(missing, "private_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: tunnel enabled but missing %s", ErrCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Tunnel is an open forwarding endpoint. Close releases it.
type Tunnel struct {
	host string
	port int

	listener net.Listener
	client   *ssh.Client
	wg       sync.WaitGroup
	once     sync.Once
	logger   logger.Logger
}

// Host returns the host a client should connect to.
func (t *Tunnel) Host() string { return t.host }

// Port returns the port a client should connect to.
func (t *Tunnel) Port() int { return t.port }

// Active reports whether traffic passes through SSH.
func (t *Tunnel) Active() bool { return t.client != nil }

// Close stops forwarding and closes the SSH session. Safe to call more
// than once and on a passthrough tunnel.
func (t *Tunnel) Close() error {
	var err error
	t.once.Do(func() {
		if t.listener != nil {
			err = t.listener.Close()
		}
		if t.client != nil {
			if cerr := t.client.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}
		t.wg.Wait()
		if t.client != nil {
			t.logger.Info(context.Background(), "ssh tunnel closed", logger.String("local", net.JoinHostPort(t.host, strconv.Itoa(t.port))))
		}
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Provider opens tunnels.
type Provider struct {
	logger      logger.Logger
	dialTimeout time.Duration
}

// Option applies a configuration option to the Provider.
type Option func(*Provider)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDialTimeout bounds the SSH handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// NewProvider creates a Provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{logger: logger.Nop(), dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open returns an endpoint for remoteHost:remotePort. With the tunnel
// disabled it is a passthrough to the remote address.
func (p *Provider) Open(ctx context.Context, cfg Config, remoteHost string, remotePort int) (*Tunnel, error) {
	if !cfg.Enabled {
		return &Tunnel{host: remoteHost, port: remotePort, logger: p.logger}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	signer, err := loadSigner(cfg)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.KnownHostsFile == "" {
		p.logger.Warn(ctx, "ssh host key verification disabled", logger.String("ssh_host", cfg.Host))
	}

	port := cfg.Port
	if port == 0 {
		port = defaultSSHPort
	}
	sshAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	client, err := dial(ctx, sshAddr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         p.dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ssh %s: %w", ErrTunnel, sshAddr, err)
	}

	l, err := net.Listen("tcp", localBindAddr)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: local listener: %w", ErrTunnel, err)
	}

	addr := l.Addr().(*net.TCPAddr)
	t := &Tunnel{
		host:     addr.IP.String(),
		port:     addr.Port,
		listener: l,
		client:   client,
		logger:   p.logger,
	}
	remote := net.JoinHostPort(remoteHost, strconv.Itoa(remotePort))
	t.wg.Add(1)
	go t.serve(remote)

	p.logger.Info(ctx, "ssh tunnel open",
		logger.String("local", l.Addr().String()),
		logger.String("remote", remote),
		logger.String("ssh", sshAddr),
	)
	return t, nil
}

func (t *Tunnel) serve(remote string) {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.forward(local, remote)
		}()
	}
}

func (t *Tunnel) forward(local net.Conn, remote string) {
	defer local.Close()
	upstream, err := t.client.Dial("tcp", remote)
	if err != nil {
		t.logger.Warn(context.Background(), "ssh forward failed", logger.String("remote", remote), logger.Error(err))
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, upstream)
		done <- struct{}{}
	}()
	<-done
}

// dial performs the SSH handshake honoring ctx.
func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// loadSigner parses the private key in memory. The raw key buffer is
// zeroed before returning so no key copy outlives the call.
func loadSigner(cfg Config) (ssh.Signer, error) {
	var raw []byte
	if cfg.PrivateKey != "" {
		key := cfg.PrivateKey
		if !strings.Contains(key, "\n") {
			key = strings.ReplaceAll(key, `\n`, "\n")
		}
		raw = []byte(key)
	} else {
		b, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read private key: %w", ErrCredentials, err)
		}
		raw = b
	}
	defer func() {
		for i := range raw {
			raw[i] = 0
		}
	}()

	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %w", ErrCredentials, err)
	}
	return signer, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // verification is opt-in via KnownHostsFile
	}
	cb, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: known hosts: %w", ErrCredentials, err)
	}
	return cb, nil
}
