// Package agent runs the Draft, Confirm and Apply lifecycle: a model proposes
// a plan, the user confirms it, and only then is it written.
package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"kairos/internal/agent/plan"
	"kairos/internal/agent/prompt"
	"kairos/internal/agent/tools"
)

// Profile describes one agent. ReadTools are available while drafting and
// ApplyTools while applying; the two never overlap.
type Profile struct {
	ID          string
	Name        string
	Description string
	Rules       []string
	OutputShape string
	Decode      func([]byte) (plan.Plan, error)
	ReadTools   tools.Set
	ApplyTools  tools.Set
}

func (p Profile) promptAgent() prompt.Agent {
	return prompt.Agent{ID: p.ID, Name: p.Name, Description: p.Description, Rules: p.Rules, OutputShape: p.OutputShape}
}

// Catalog is the immutable set of agents a process serves.
type Catalog struct {
	profiles map[string]Profile
}

// NewCatalog checks every profile against reg and indexes them by id.
func NewCatalog(reg *tools.Registry, profiles ...Profile) (*Catalog, error) {
	c := &Catalog{profiles: make(map[string]Profile, len(profiles))}
	var errs []error
	for _, p := range profiles {
		if err := validateProfile(reg, p); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := c.profiles[p.ID]; dup {
			errs = append(errs, fmt.Errorf("agent %s defined twice", p.ID))
			continue
		}
		c.profiles[p.ID] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func validateProfile(reg *tools.Registry, p Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("agent without an id")
	}
	if p.Decode == nil {
		return fmt.Errorf("agent %s has no plan decoder", p.ID)
	}
	if strings.TrimSpace(p.OutputShape) == "" {
		return fmt.Errorf("agent %s has no output shape", p.ID)
	}
	for name := range p.ReadTools {
		if p.ApplyTools.Has(name) {
			return fmt.Errorf("agent %s: tool %s is in both read and apply sets", p.ID, name)
		}
	}
	check := func(set tools.Set, phase tools.Phase) error {
		for _, name := range set.Names() {
			t, ok := reg.Lookup(name)
			if !ok {
				return fmt.Errorf("agent %s: unknown tool %s", p.ID, name)
			}
			if t.Phase() != phase {
				return fmt.Errorf("agent %s: tool %s is a %s tool, listed for %s", p.ID, name, t.Phase(), phase)
			}
		}
		return nil
	}
	if err := check(p.ReadTools, tools.PhaseRead); err != nil {
		return err
	}
	return check(p.ApplyTools, tools.PhaseWrite)
}

func (c *Catalog) Get(id string) (Profile, bool) {
	p, ok := c.profiles[id]
	return p, ok
}

// List returns the profiles sorted by id.
func (c *Catalog) List() []Profile {
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
