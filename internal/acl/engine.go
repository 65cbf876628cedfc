// Package acl provides a small rule-based access control layer deciding which
// remote hosts may open the host connection. Subjects are addresses, CIDR
// prefixes or names of networks defined in the config.
//
// Example usage:
//
//	engine, err := acl.New(cfg.Access)
//	if !engine.Allowed(r.RemoteAddr) {
//		return errors.New("permission denied")
//	}
package acl

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/mfulz/geistbind/internal/logging"
)

// Rule allows or denies a set of subjects.
type Rule struct {
	Description string   `mapstructure:"description"`
	Subjects    []string `mapstructure:"subjects"`
	Deny        bool     `mapstructure:"deny"`
}

// Network is a named group of prefixes.
type Network struct {
	Name     string   `mapstructure:"name"`
	Prefixes []string `mapstructure:"prefixes"`
}

// Config defines the access rules loaded from config.
type Config struct {
	Enabled  bool               `mapstructure:"enabled"`
	Networks map[string]Network `mapstructure:"networks"`
	Rules    []Rule             `mapstructure:"rules"`
}

type compiledRule struct {
	description string
	prefixes    []netip.Prefix
	deny        bool
}

// Engine evaluates access rules. A nil Engine allows everything.
type Engine struct {
	enabled bool
	rules   []compiledRule
}

// New compiles cfg. Unknown network names and unparsable prefixes are errors.
func New(cfg Config) (*Engine, error) {
	networks := make(map[string][]netip.Prefix, len(cfg.Networks))
	for name, n := range cfg.Networks {
		if n.Name == "" {
			n.Name = name
		}
		for _, p := range n.Prefixes {
			prefix, err := parsePrefix(p)
			if err != nil {
				return nil, fmt.Errorf("invalid prefix '%s' in network '%s': %w", p, n.Name, err)
			}
			networks[n.Name] = append(networks[n.Name], prefix)
		}
	}

	e := &Engine{enabled: cfg.Enabled}
	for i, r := range cfg.Rules {
		cr := compiledRule{description: r.Description, deny: r.Deny}
		for _, s := range r.Subjects {
			if prefixes, ok := networks[s]; ok {
				cr.prefixes = append(cr.prefixes, prefixes...)
				continue
			}
			prefix, err := parsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("invalid subject '%s' in rule %d: not a network, address or prefix", s, i)
			}
			cr.prefixes = append(cr.prefixes, prefix)
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Allowed reports whether remoteAddr (host or host:port) may connect. With
// rules enabled, a matching deny rule always wins; otherwise at least one
// allow rule must match.
func (e *Engine) Allowed(remoteAddr string) bool {
	if e == nil || !e.enabled {
		return true
	}

	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		logging.Log.Warnf("[acl] cannot parse remote address '%s': %v", remoteAddr, err)
		return false
	}
	addr = addr.Unmap()

	matches := false
	for _, r := range e.rules {
		if !r.matches(addr) {
			continue
		}
		if r.deny {
			logging.Log.Debugf("[acl] %s denied by rule '%s'", addr, r.description)
			return false
		}
		matches = true
	}
	return matches
}

func (r compiledRule) matches(addr netip.Addr) bool {
	for _, p := range r.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parsePrefix accepts a CIDR prefix or a single address.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
