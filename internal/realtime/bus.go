package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const subjectPrefix = "realtime"

var (
	ErrInvalidServerID = errors.New("invalid server id")
	ErrUnknownTable    = errors.New("unknown realtime table")

	serverIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidServerID reports whether id can be used as a server identifier.
// Dots and wildcards are excluded so ids map onto a single subject token.
func ValidServerID(id string) bool {
	return serverIDPattern.MatchString(id)
}

func validTable(table string) bool {
	return table == domain.TableServerCommands || table == domain.TableServerStats
}

// Subject returns the bus subject for a table and server; an empty serverID
// matches every server.
func Subject(table, serverID string) (string, error) {
	if !validTable(table) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if serverID == "" {
		return subjectPrefix + "." + table + ".*", nil
	}
	if !ValidServerID(serverID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidServerID, serverID)
	}
	return subjectPrefix + "." + table + "." + serverID, nil
}

// Options configures the embedded NATS server
type Options struct {
	Host string
	// Port 0 keeps the server in-process only
	Port int
}

// Bus fans row changes out to realtime subscribers over an embedded NATS server
type Bus struct {
	ns   *server.Server
	conn *nats.Conn
}

// NewBus starts an embedded NATS server and connects to it
func NewBus(opts Options) (*Bus, error) {
	nsOpts := &server.Options{
		ServerName: "gamehost",
		Host:       opts.Host,
		Port:       opts.Port,
		NoLog:      true,
		NoSigs:     true,
	}
	if opts.Port == 0 {
		nsOpts.DontListen = true
	}

	ns, err := server.NewServer(nsOpts)
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("nats server not ready")
	}

	connOpts := []nats.Option{nats.Name("gamehost-backend")}
	if opts.Port == 0 {
		connOpts = append(connOpts, nats.InProcessServer(ns))
	}
	conn, err := nats.Connect(ns.ClientURL(), connOpts...)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	if opts.Port != 0 {
		log.Printf("Realtime bus listening on %s", ns.ClientURL())
	}
	return &Bus{ns: ns, conn: conn}, nil
}

// Publish sends a change event to subscribers of its table and server
func (b *Bus) Publish(ev domain.ChangeEvent) error {
	subject, err := Subject(ev.Table, ev.ServerID)
	if err != nil {
		return err
	}
	if ev.ServerID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidServerID)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding change event: %w", err)
	}
	return b.conn.Publish(subject, data)
}

// Subscribe delivers change events for a table, filtered to one server or
// all servers when serverID is empty. fn runs on the bus's delivery goroutine.
func (b *Bus) Subscribe(table, serverID string, fn func(domain.ChangeEvent)) (*Subscription, error) {
	subject, err := Subject(table, serverID)
	if err != nil {
		return nil, err
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev domain.ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("Dropping malformed change event on %s: %v", msg.Subject, err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return &Subscription{sub: sub}, nil
}

// Flush waits until the server has processed all published events
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

// Close disconnects and shuts down the embedded server
func (b *Bus) Close() {
	b.conn.Close()
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
}

// Subscription is a handle to a bus subscription
type Subscription struct {
	sub  *nats.Subscription
	once sync.Once
}

// Unsubscribe stops delivery. Safe to call more than once and on a nil handle.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.sub != nil {
			if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
				log.Printf("Error unsubscribing from %s: %v", s.sub.Subject, err)
			}
		}
	})
}
