package engine

import (
	"errors"
	"fmt"

	"network-tier-rules/internal/model"
)

var ErrUnknownNetworkTier = errors.New("unknown network tier")

// AllTiers selects every declared tier when used as a rule source or destination.
const AllTiers = "all"

// Resolver maps tier names to tiers. Collections are searched in a fixed
// precedence order: owners, CIDR blocks, IPv6 CIDR blocks, prefix lists.
type Resolver struct {
	owners       []model.OwnerTier
	ownerKeyword string
	ordered      []model.NetworkTier
	byName       map[string]model.NetworkTier
}

func NewResolver(tiers model.NetworkTiers, v Variant) *Resolver {
	r := &Resolver{
		owners:       v.Owners(tiers),
		ownerKeyword: v.OwnerKeyword,
		byName:       make(map[string]model.NetworkTier),
	}
	for _, owner := range r.owners {
		r.add(owner)
	}
	for _, block := range tiers.CIDRBlocks {
		r.add(block)
	}
	for _, block := range tiers.IPv6CIDRBlocks {
		r.add(block)
	}
	for _, list := range tiers.PrefixLists {
		r.add(list)
	}
	return r
}

func (r *Resolver) add(tier model.NetworkTier) {
	r.ordered = append(r.ordered, tier)
	if _, ok := r.byName[tier.TierName()]; !ok {
		r.byName[tier.TierName()] = tier
	}
}

func (r *Resolver) Owners() []model.OwnerTier {
	return r.owners
}

// Resolve returns the first tier named name.
func (r *Resolver) Resolve(name string) (model.NetworkTier, error) {
	tier, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetworkTier, name)
	}
	return tier, nil
}

// ExpandAggregate turns a source or destination reference into tier names.
// Duplicates are kept; deduplication happens after expansion.
func (r *Resolver) ExpandAggregate(ref model.NameList) []string {
	name, ok := ref.Single()
	if !ok {
		return ref.Names
	}
	switch name {
	case AllTiers:
		names := make([]string, len(r.ordered))
		for i, tier := range r.ordered {
			names[i] = tier.TierName()
		}
		return names
	case r.ownerKeyword:
		names := make([]string, len(r.owners))
		for i, owner := range r.owners {
			names[i] = owner.TierName()
		}
		return names
	default:
		return []string{name}
	}
}

// ResolveAll expands ref and resolves every resulting name.
func (r *Resolver) ResolveAll(ref model.NameList) ([]model.NetworkTier, error) {
	names := r.ExpandAggregate(ref)
	tiers := make([]model.NetworkTier, 0, len(names))
	for _, name := range names {
		tier, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}
