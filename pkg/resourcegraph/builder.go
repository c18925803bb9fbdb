package resourcegraph

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// DefaultVMSize is used when a request names no size.
const DefaultVMSize = "Standard_D1_v2"

var (
	ErrMissingName        = errors.New("node name is required")
	ErrMissingGroup       = errors.New("group is required")
	ErrMissingLocation    = errors.New("location is required")
	ErrMissingCredentials = errors.New("a password or public key is required")
)

// LoginOptions selects key-based or password login. A non-empty PublicKey wins.
type LoginOptions struct {
	User      string `json:"user"`
	Password  string `json:"-"`
	PublicKey string `json:"publicKey,omitempty"`
}

// UsesKey reports whether key-based authentication is configured.
func (l LoginOptions) UsesKey() bool { return strings.TrimSpace(l.PublicKey) != "" }

// Input is everything a graph depends on.
type Input struct {
	Group    string
	Name     string
	Location string
	VMSize   string
	Image    ImageSelection
	Login    LoginOptions
}

func (in Input) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return ErrMissingName
	case strings.TrimSpace(in.Group) == "":
		return ErrMissingGroup
	case strings.TrimSpace(in.Location) == "":
		return ErrMissingLocation
	case strings.TrimSpace(in.Login.User) == "":
		return fmt.Errorf("login user is required")
	}
	if err := in.Image.Validate(); err != nil {
		return err
	}
	if in.Login.UsesKey() {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(in.Login.PublicKey)); err != nil {
			return fmt.Errorf("parse public key: %w", err)
		}
		return nil
	}
	if in.Login.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Builder runs an ordered list of steps to produce a Graph.
type Builder struct {
	steps []Step
}

// NewBuilder returns a builder for the fixed five-resource pipeline.
func NewBuilder() *Builder {
	return &Builder{steps: DefaultSteps()}
}

// Steps returns the pipeline in execution order.
func (b *Builder) Steps() []Step {
	return append([]Step(nil), b.steps...)
}

// Build produces a validated graph for in.
func (b *Builder) Build(in Input) (*Graph, error) {
	if in.VMSize == "" {
		in.VMSize = DefaultVMSize
	}
	in.Login.PublicKey = strings.TrimSpace(in.Login.PublicKey)
	if err := in.validate(); err != nil {
		return nil, err
	}

	g := newGraph()
	for _, step := range b.steps {
		if err := step.Apply(g, in); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Kind(), err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resource graph: %w", err)
	}
	return g, nil
}
