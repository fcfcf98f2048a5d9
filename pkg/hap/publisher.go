package hap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"
)

// mDNS service parameters for accessory advertisement.
const (
	ServiceTypeHAP = "_hap._tcp"
	Domain         = "local."
)

// MDNSOptions tunes the mDNS advertisement.
type MDNSOptions struct {
	// Interface restricts advertisement to one network interface. Empty means
	// all interfaces.
	Interface string
	TTL       time.Duration
}

// PublishInfo is everything needed to publish an accessory.
type PublishInfo struct {
	Username string
	PinCode  string
	Category Category
	// Port 0 lets the operating system pick one.
	Port    int
	SetupID string
	MDNS    MDNSOptions
}

// Publisher makes accessories reachable on the network.
type Publisher interface {
	// Publish starts serving acc and returns the bound port.
	Publish(ctx context.Context, acc *Accessory, info PublishInfo) (int, error)
	Unpublish(acc *Accessory) error
}

type publication struct {
	listener net.Listener
	server   *zeroconf.Server
	done     chan struct{}
}

// MDNSPublisher reserves a TCP port for each accessory and advertises it
// as a _hap._tcp service. Connections are accepted and closed: the
// encrypted session layer is not part of this host.
type MDNSPublisher struct {
	logger *zap.Logger

	mu        sync.Mutex
	published map[string]*publication
}

// NewMDNSPublisher creates a publisher.
func NewMDNSPublisher(logger *zap.Logger) *MDNSPublisher {
	return &MDNSPublisher{
		logger:    logger.Named("mdns"),
		published: make(map[string]*publication),
	}
}

// Publish implements Publisher.
func (p *MDNSPublisher) Publish(ctx context.Context, acc *Accessory, info PublishInfo) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.published[acc.UUID]; exists {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyPublished, acc.DisplayName)
	}
	if !ValidUsername(info.Username) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUsername, info.Username)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", info.Port))
	if err != nil {
		return 0, fmt.Errorf("failed to listen for %s: %w", acc.DisplayName, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	var opts []zeroconf.ServerOption
	if info.MDNS.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(info.MDNS.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		instanceName(acc.DisplayName, info.Username),
		ServiceTypeHAP,
		Domain,
		port,
		txtRecords(acc, info),
		interfaces(info.MDNS.Interface),
		opts...,
	)
	if err != nil {
		_ = listener.Close()
		return 0, fmt.Errorf("failed to register %s: %w", acc.DisplayName, err)
	}

	pub := &publication{listener: listener, server: server, done: make(chan struct{})}
	p.published[acc.UUID] = pub
	go p.acceptLoop(pub)

	p.logger.Info("Accessory advertised",
		zap.String("name", acc.DisplayName),
		zap.String("username", strings.ToUpper(info.Username)),
		zap.Int("port", port))
	return port, nil
}

// Unpublish implements Publisher. Unpublishing an accessory that is not
// published is a no-op.
func (p *MDNSPublisher) Unpublish(acc *Accessory) error {
	p.mu.Lock()
	pub, exists := p.published[acc.UUID]
	delete(p.published, acc.UUID)
	p.mu.Unlock()

	if !exists {
		return nil
	}
	pub.server.Shutdown()
	err := pub.listener.Close()
	<-pub.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener for %s: %w", acc.DisplayName, err)
	}
	return nil
}

func (p *MDNSPublisher) acceptLoop(pub *publication) {
	defer close(pub.done)
	for {
		conn, err := pub.listener.Accept()
		if err != nil {
			return
		}
		p.logger.Debug("Closing unsupported session", zap.String("remote", conn.RemoteAddr().String()))
		_ = conn.Close()
	}
}

// instanceName is the display name plus the last four hex digits of the
// username, which keeps names unique on a shared network.
func instanceName(displayName, username string) string {
	suffix := strings.ReplaceAll(strings.ToUpper(username), ":", "")
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("%s %s", displayName, suffix)
}

func txtRecords(acc *Accessory, info PublishInfo) []string {
	username := strings.ToUpper(info.Username)
	records := []string{
		"c#=1",
		"ff=0",
		"id=" + username,
		"md=" + acc.DisplayName,
		"pv=1.1",
		"s#=1",
		"sf=1",
		fmt.Sprintf("ci=%d", info.Category),
	}
	if info.SetupID != "" {
		records = append(records, "sh="+SetupHash(info.SetupID, username))
	}
	return records
}

func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
