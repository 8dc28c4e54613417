package ldap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/isometry/ad-userinfo/internal/logging"
)

// SRVDiscovery finds domain controllers through DNS SRV records.
type SRVDiscovery struct {
	resolver *net.Resolver
}

func NewSRVDiscovery() *SRVDiscovery {
	return &SRVDiscovery{resolver: net.DefaultResolver}
}

// srvServices are queried in order. An LDAPS answer ends the search.
var srvServices = []struct {
	prefix string
	tls    bool
}{
	{"_ldaps._tcp.", true},
	{"_ldap._tcp.", false},
	{"_gc._tcp.", false},
}

// DiscoverServers returns the domain controllers advertised for domain,
// ordered by RFC 2782 priority and weight. With no SRV answers at all the
// domain name itself is returned on ports 636 and 389.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}

	start := time.Now()
	logging.SubsystemDebug(ctx, logging.SubsystemLDAP, "Starting server discovery for domain", map[string]any{
		"domain": domain,
	})

	var found []*ServerInfo
	for _, svc := range srvServices {
		servers := d.lookupSRV(ctx, svc.prefix+domain, svc.tls)
		found = append(found, servers...)
		if svc.tls && len(servers) > 0 {
			break
		}
	}

	fields := map[string]any{"domain": domain, "duration": time.Since(start).String()}
	if len(found) == 0 {
		logging.SubsystemDebug(ctx, logging.SubsystemLDAP, "No SRV records found, using fallback servers", fields)
		return fallbackServers(domain), nil
	}

	sortServersByPriority(found)
	fields["server_count"] = len(found)
	logging.SubsystemDebug(ctx, logging.SubsystemLDAP, "Server discovery completed", fields)
	return found, nil
}

// lookupSRV returns nil when service has no usable records.
func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) []*ServerInfo {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		logging.SubsystemTrace(ctx, logging.SubsystemLDAP, "SRV lookup failed", map[string]any{
			"service": service,
			"error":   err.Error(),
		})
		return nil
	}

	servers := make([]*ServerInfo, len(records))
	for i, rr := range records {
		servers[i] = &ServerInfo{
			Host:     strings.TrimSuffix(rr.Target, "."),
			Port:     int(rr.Port),
			UseTLS:   useTLS,
			Priority: int(rr.Priority),
			Weight:   int(rr.Weight),
			Source:   "srv",
		}
	}
	return servers
}

func fallbackServers(domain string) []*ServerInfo {
	return []*ServerInfo{
		{Host: domain, Port: 636, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
		{Host: domain, Port: 389, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
	}
}

// sortServersByPriority orders servers by ascending priority, then descending weight (RFC 2782).
func sortServersByPriority(servers []*ServerInfo) {
	slices.SortStableFunc(servers, func(a, b *ServerInfo) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return b.Weight - a.Weight
	})
}

// DetectDefaultDomain returns the DNS domain of the current user or host.
//
// USERDNSDOMAIN is checked first, then the first search/domain entry of
// resolvConf. An empty string means nothing was found.
func DetectDefaultDomain(resolvConf string) string {
	if domain := strings.TrimSpace(os.Getenv("USERDNSDOMAIN")); domain != "" {
		return strings.ToLower(domain)
	}

	f, err := os.Open(resolvConf)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "search" || fields[0] == "domain" {
			return strings.ToLower(strings.TrimSuffix(fields[1], "."))
		}
	}
	return ""
}

// ValidateServerInfo checks that server has a host and a usable port.
func ValidateServerInfo(server *ServerInfo) error {
	switch {
	case server == nil:
		return errors.New("server info cannot be nil")
	case server.Host == "":
		return errors.New("server host cannot be empty")
	case server.Port < 1 || server.Port > 65535:
		return fmt.Errorf("invalid port number: %d", server.Port)
	case server.Priority < 0 || server.Weight < 0:
		return fmt.Errorf("priority and weight cannot be negative: %d/%d", server.Priority, server.Weight)
	}
	return nil
}

func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap://"
	if server.UseTLS {
		scheme = "ldaps://"
	}
	return scheme + net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
}

// ParseLDAPURL turns an ldap:// or ldaps:// URL into a configured server,
// defaulting the port to 389 or 636.
func ParseLDAPURL(rawURL string) (*ServerInfo, error) {
	if rawURL == "" {
		return nil, errors.New("URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL %q: %w", rawURL, err)
	}

	server := &ServerInfo{Host: u.Hostname(), Weight: 100, Source: "config"}
	switch strings.ToLower(u.Scheme) {
	case "ldaps":
		server.UseTLS, server.Port = true, 636
	case "ldap":
		server.Port = 389
	default:
		return nil, fmt.Errorf("unsupported scheme %q, must be ldap:// or ldaps://", u.Scheme)
	}

	if p := u.Port(); p != "" {
		if server.Port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
	}

	if err := ValidateServerInfo(server); err != nil {
		return nil, err
	}
	return server, nil
}
