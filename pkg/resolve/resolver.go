package resolve

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Tier identifies which override source supplied an address.
type Tier string

const (
	TierRequest   Tier = "request"
	TierSession   Tier = "session"
	TierPersisted Tier = "persisted"
	TierDefault   Tier = "default"
)

// KeyValueSource is one tier of the override chain. Get must be a pure
// in-memory lookup; sources that are backed by live systems snapshot
// themselves before resolution.
type KeyValueSource interface {
	// Get returns the address for a remote name, and whether this source has
	// an opinion at all.
	Get(key string) (string, bool)
}

// Sources holds the pre-fetched override chain in priority order. Any tier
// may be nil (no opinion for every key). Defaults is the stable compiled-in
// tier and is usually non-nil.
type Sources struct {
	Request   KeyValueSource
	Session   KeyValueSource
	Persisted KeyValueSource
	Defaults  KeyValueSource
}

// Resolved is the outcome of resolving one remote name.
type Resolved struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Tier    Tier   `json:"tier"`
}

// ErrUnresolvable is returned when no tier has an opinion for a remote.
type ErrUnresolvable struct {
	Name string
}

func (e *ErrUnresolvable) Error() string {
	return fmt.Sprintf("no override source has an address for remote %q", e.Name)
}

// Resolver applies the override chain. It holds no mutable state; identical
// inputs always yield identical results.
type Resolver struct {
	log *logrus.Logger
}

// NewResolver creates a resolver. A nil logger defaults to the standard one.
func NewResolver(log *logrus.Logger) *Resolver {
	if log == nil {
		log = logrus.New()
	}
	return &Resolver{log: log}
}

// Resolve walks the chain in fixed priority order and returns the first
// address any tier supplies, recording which tier won for observability.
func (r *Resolver) Resolve(remoteName string, sources Sources) (Resolved, error) {
	chain := []struct {
		tier   Tier
		source KeyValueSource
	}{
		{TierRequest, sources.Request},
		{TierSession, sources.Session},
		{TierPersisted, sources.Persisted},
		{TierDefault, sources.Defaults},
	}

	for _, link := range chain {
		if link.source == nil {
			continue
		}
		address, ok := link.source.Get(remoteName)
		if !ok || address == "" {
			continue
		}

		r.log.WithFields(logrus.Fields{
			"remote":  remoteName,
			"tier":    string(link.tier),
			"address": address,
		}).Debug("resolved remote address")

		return Resolved{Name: remoteName, Address: address, Tier: link.tier}, nil
	}

	return Resolved{}, &ErrUnresolvable{Name: remoteName}
}
