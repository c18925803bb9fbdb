// Package resourcegraph assembles the ordered resource list and variable
// bindings that make up one node's deployment template.
package resourcegraph

import (
	"fmt"
	"strings"

	"github.com/vyvo/compute/provisioner/pkg/armtemplate"
)

// Graph is the provisioning plan for one node. Resources are in dependency order.
type Graph struct {
	Resources []armtemplate.Resource
	Variables map[string]string

	// registeredAt records the index of the resource that was next to be
	// appended when each variable was registered.
	registeredAt map[string]int
}

func newGraph() *Graph {
	return &Graph{
		Variables:    make(map[string]string),
		registeredAt: make(map[string]int),
	}
}

// SetVariable registers a variable for the resource about to be appended.
func (g *Graph) SetVariable(name, value string) error {
	if _, exists := g.Variables[name]; exists {
		return fmt.Errorf("variable %q registered twice", name)
	}
	g.Variables[name] = value
	g.registeredAt[name] = len(g.Resources)
	return nil
}

// Append adds a resource after all previously appended ones.
func (g *Graph) Append(r armtemplate.Resource) {
	g.Resources = append(g.Resources, r)
}

// Template renders the graph as a deployment template.
func (g *Graph) Template() armtemplate.Template {
	return armtemplate.New(g.Resources, g.Variables)
}

// DeploymentBody renders the graph wrapped for submission.
func (g *Graph) DeploymentBody() ([]byte, error) {
	return armtemplate.Marshal(armtemplate.NewDeploymentBody(g.Template()))
}

// Validate checks that the resource list is a topological ordering: every
// variable a resource references was registered no later than that resource,
// every dependsOn entry names an earlier resource, and resource names are
// distinct.
func (g *Graph) Validate() error {
	nameOwner := make(map[string]int, len(g.Resources))
	seenNames := make(map[string]string, len(g.Resources))

	for idx, r := range g.Resources {
		refs := armtemplate.References(r.Name)
		refs = append(refs, armtemplate.References(string(r.Properties))...)
		for _, dep := range r.DependsOn {
			refs = append(refs, armtemplate.References(dep)...)
		}
		for _, ref := range refs {
			if err := g.checkRegistered(ref, idx); err != nil {
				return fmt.Errorf("resource %d (%s): %w", idx, r.Type, err)
			}
		}

		for _, dep := range r.DependsOn {
			depRefs := armtemplate.References(dep)
			if len(depRefs) == 0 {
				return fmt.Errorf("resource %d (%s): dependsOn %q is not symbolic", idx, r.Type, dep)
			}
			owner, ok := nameOwner[depRefs[len(depRefs)-1]]
			if !ok || owner >= idx {
				return fmt.Errorf("resource %d (%s): dependsOn %q does not name an earlier resource", idx, r.Type, dep)
			}
		}

		resolved := g.resolveName(r.Name)
		if prev, dup := seenNames[resolved]; dup {
			return fmt.Errorf("resource name %q used by both %s and %s", resolved, prev, r.Type)
		}
		seenNames[resolved] = r.Type
		if nameRefs := armtemplate.References(r.Name); len(nameRefs) == 1 {
			nameOwner[nameRefs[0]] = idx
		}
	}
	return nil
}

func (g *Graph) checkRegistered(name string, idx int) error {
	at, ok := g.registeredAt[name]
	if !ok {
		if _, exists := g.Variables[name]; !exists {
			return fmt.Errorf("references unknown variable %q", name)
		}
		return nil
	}
	if at > idx {
		return fmt.Errorf("references variable %q registered by a later resource", name)
	}
	return nil
}

func (g *Graph) resolveName(name string) string {
	refs := armtemplate.References(name)
	if len(refs) == 1 && strings.HasPrefix(name, "[") {
		if v, ok := g.Variables[refs[0]]; ok {
			return v
		}
	}
	return name
}
