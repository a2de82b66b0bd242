package tunnel_test

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/okian/ladder/internal/adapters/tunnel"
	. "github.com/smartystreets/goconvey/convey"
)

// echoServer answers every line with the same line.
func echoServer(t *testing.T) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// sshServer accepts any public key and serves direct-tcpip channels.
func sshServer(t *testing.T) int {
	t.Helper()
	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg)
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "direct-tcpip" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var target struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nch.ExtraData(), &target); err != nil {
			_ = nch.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}
		up, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
		if err != nil {
			_ = nch.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			_ = up.Close()
			continue
		}
		go ssh.DiscardRequests(creqs)
		go func() {
			defer ch.Close()
			defer up.Close()
			go func() { _, _ = io.Copy(up, ch) }()
			_, _ = io.Copy(ch, up)
		}()
	}
}

func clientKeyPEM(t *testing.T) string {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("client key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(block))
}

func TestProvider(t *testing.T) {
	Convey("Given a tunnel provider", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p := tunnel.NewProvider(tunnel.WithDialTimeout(5 * time.Second))

		Convey("When the tunnel is disabled", func() {
			tn, err := p.Open(ctx, tunnel.Config{}, "db.internal", 5432)

			Convey("Then the remote address passes through", func() {
				So(err, ShouldBeNil)
				So(tn.Active(), ShouldBeFalse)
				So(tn.Host(), ShouldEqual, "db.internal")
				So(tn.Port(), ShouldEqual, 5432)
				So(tn.Close(), ShouldBeNil)
			})
		})

		Convey("When the tunnel is enabled without credentials", func() {
			_, err := p.Open(ctx, tunnel.Config{Enabled: true, Host: "bastion"}, "db", 5432)

			Convey("Then the missing settings are reported", func() {
				So(errors.Is(err, tunnel.ErrCredentials), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "user")
				So(err.Error(), ShouldContainSubstring, "private_key")
			})
		})

		Convey("When the key material is garbage", func() {
			_, err := p.Open(ctx, tunnel.Config{Enabled: true, Host: "127.0.0.1", User: "u", PrivateKey: "not a key"}, "db", 5432)
			So(errors.Is(err, tunnel.ErrCredentials), ShouldBeTrue)
		})

		Convey("When the SSH host is unreachable", func() {
			l, _ := net.Listen("tcp", "127.0.0.1:0")
			port := l.Addr().(*net.TCPAddr).Port
			_ = l.Close()

			cfg := tunnel.Config{Enabled: true, Host: "127.0.0.1", Port: port, User: "u", PrivateKey: clientKeyPEM(t)}
			_, err := p.Open(ctx, cfg, "db", 5432)
			So(errors.Is(err, tunnel.ErrTunnel), ShouldBeTrue)
		})

		Convey("When forwarding through a live SSH server", func() {
			echoHost, echoPort := echoServer(t)
			key := strings.ReplaceAll(clientKeyPEM(t), "\n", `\n`)
			cfg := tunnel.Config{Enabled: true, Host: "127.0.0.1", Port: sshServer(t), User: "ladder", PrivateKey: key}

			tn, err := p.Open(ctx, cfg, echoHost, echoPort)
			So(err, ShouldBeNil)
			defer tn.Close()

			active := tn.Active() && tn.Host() == "127.0.0.1" && tn.Port() != echoPort
			var reply string
			c, err := net.Dial("tcp", net.JoinHostPort(tn.Host(), strconv.Itoa(tn.Port())))
			if err == nil {
				defer c.Close()
				if _, err = io.WriteString(c, "ping\n"); err == nil {
					_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
					reply, err = bufio.NewReader(c).ReadString('\n')
				}
			}

			Convey("Then bytes round-trip through the local endpoint", func() {
				So(err, ShouldBeNil)
				So(active, ShouldBeTrue)
				So(reply, ShouldEqual, "ping\n")
			})
		})

		Convey("When the tunnel is closed", func() {
			cfg := tunnel.Config{Enabled: true, Host: "127.0.0.1", Port: sshServer(t), User: "ladder", PrivateKey: clientKeyPEM(t)}
			tn, err := p.Open(ctx, cfg, "127.0.0.1", 1)
			So(err, ShouldBeNil)
			port := tn.Port()
			cerr := tn.Close()

			Convey("Then the listener is gone", func() {
				So(cerr, ShouldBeNil)
				_, derr := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
				So(derr, ShouldNotBeNil)
			})
		})
	})
}
