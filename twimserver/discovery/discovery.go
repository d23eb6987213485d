// Package discovery announces twimserver instances over mDNS and finds them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const Service = "_twim._tcp"

// Server announces one twimserver on one interface.
type Server struct {
	name      string
	port      int
	txtRecord []string

	currentAddr string
	server      *zeroconf.Server
}

// NewServer prepares the announcement. The TXT record lists the served buses.
func NewServer(name string, port int, buses []string) *Server {
	if name == "" {
		name = "twimserver"
	}

	return &Server{
		name:      name,
		port:      port,
		txtRecord: []string{"buses=" + strings.Join(buses, ","), "txtvers=1"},
	}
}

func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	s.server.Shutdown()
	s.server = nil
	s.currentAddr = ""
}

func getIfaceAddressV4(iface *net.Interface) (string, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return "", err
	}

	for _, m := range addrs {
		k, ok := m.(*net.IPNet)
		if ok && k.IP.To4() != nil {
			return k.IP.String(), nil
		}
	}

	return "", nil
}

func getIfaceAddressV4Timeout(iface *net.Interface, maxWaitIP time.Duration) (string, error) {
	for deadline := time.Now().Add(maxWaitIP); time.Now().Before(deadline); {
		addr, err := getIfaceAddressV4(iface)
		if err != nil {
			return "", err
		}

		if addr != "" {
			return addr, nil
		}

		time.Sleep(250 * time.Millisecond)
	}

	return "", errors.New("timeout waiting for IPv4 address")
}

// Start announces the service on ifaceName, waiting up to maxWaitIP for the
// interface to get an IPv4 address.
func (s *Server) Start(ifaceName string, maxWaitIP time.Duration) error {
	s.Stop()

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return err
	}

	addr, err := getIfaceAddressV4Timeout(iface, maxWaitIP)
	if err != nil {
		return err
	}

	server, err := zeroconf.RegisterProxy(s.name, Service, "local.", s.port, s.name, []string{addr}, s.txtRecord, []net.Interface{*iface})
	if err != nil {
		return err
	}
	server.TTL(60)

	s.currentAddr = fmt.Sprintf("%s:%d", addr, s.port)
	s.server = server
	return nil
}

func (s *Server) CurrentAddress() string {
	return s.currentAddr
}

// Result is one discovered server.
type Result struct {
	Name  string
	Addr  string
	Buses []string
}

// URL returns the base URL of bus index i on the server.
func (r Result) URL(i int) string {
	return fmt.Sprintf("http://%s/%d", r.Addr, i)
}

// parseEntry converts a resolved entry, ignoring entries without a bus list.
func parseEntry(e *zeroconf.ServiceEntry) (Result, bool) {
	var buses string
	found := false
	for _, m := range e.Text {
		kv := strings.SplitN(m, "=", 2)
		if len(kv) == 2 && strings.ToLower(kv[0]) == "buses" {
			buses = kv[1]
			found = true
		}
	}
	if !found {
		return Result{}, false
	}

	var addr string
	if len(e.AddrIPv4) > 0 {
		addr = e.AddrIPv4[0].String()
	} else if len(e.AddrIPv6) > 0 {
		addr = "[" + e.AddrIPv6[0].String() + "]"
	} else {
		return Result{}, false
	}

	r := Result{
		Name: e.Instance,
		Addr: fmt.Sprintf("%s:%d", addr, e.Port),
	}
	if buses != "" {
		r.Buses = strings.Split(buses, ",")
	}
	return r, true
}

// Find browses for servers until one named name answers, or any server when
// name is empty.
func Find(ctx context.Context, name string) (Result, error) {
	// The resolver is not reused, the network may change between calls.
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, "local.", results); err != nil {
		return Result{}, err
	}

	for e := range results {
		r, ok := parseEntry(e)
		if !ok {
			continue
		}
		if name != "" && r.Name != name {
			continue
		}
		return r, nil
	}

	return Result{}, errors.New("no server found")
}
