package routing

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/nais/vpn-forwarder/pkg/types"
)

// Table Static mapping from target identifier to backend address (host:port). It is read-only once the forwarder
// has started.
type Table map[types.TargetID]string

// Decode Parse either a JSON object or a comma separated list of target=host:port pairs.
func (t *Table) Decode(value string) error {
	*t = make(Table)
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if strings.HasPrefix(value, "{") {
		routes := make(map[string]string)
		if err := json.Unmarshal([]byte(value), &routes); err != nil {
			return fmt.Errorf("parse routing table: %w", err)
		}
		for target, addr := range routes {
			(*t)[types.TargetID(strings.TrimSpace(target))] = strings.TrimSpace(addr)
		}
		return t.Validate()
	}

	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		target, addr, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("parse routing table: entry %q is not on the form target=host:port", pair)
		}
		(*t)[types.TargetID(strings.TrimSpace(target))] = strings.TrimSpace(addr)
	}
	return t.Validate()
}

func (t Table) Validate() error {
	for target, addr := range t {
		if target == "" {
			return fmt.Errorf("routing table: empty target identifier for %q", addr)
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("routing table: target %q: %w", target, err)
		}
	}
	return nil
}

func (t Table) Lookup(target types.TargetID) (string, bool) {
	addr, ok := t[target]
	return addr, ok && addr != ""
}

// Targets Sorted target identifiers, for logging.
func (t Table) Targets() []string {
	ret := make([]string, 0, len(t))
	for target, addr := range t {
		ret = append(ret, fmt.Sprintf("%s=%s", target, addr))
	}
	sort.Strings(ret)
	return ret
}
