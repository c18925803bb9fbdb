package armtemplate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

const (
	// Schema is the deployment template schema the platform validates against.
	Schema = "https://schema.management.azure.com/schemas/2015-01-01/deploymentTemplate.json#"
	// ContentVersion is the fixed template content version.
	ContentVersion = "1.0.0.0"
	// ModeIncremental leaves resources not named in the template untouched.
	ModeIncremental = "Incremental"
)

// Template is a deployment template document.
type Template struct {
	Schema         string                 `json:"$schema"`
	ContentVersion string                 `json:"contentVersion"`
	Resources      []Resource             `json:"resources"`
	Variables      map[string]string      `json:"variables"`
	Parameters     map[string]interface{} `json:"parameters"`
}

// Resource defines a resource in the template. Name and DependsOn entries are
// either literals or "[...]" expressions evaluated by the platform.
type Resource struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Location   string            `json:"location"`
	APIVersion string            `json:"apiVersion"`
	Properties json.RawMessage   `json:"properties"`
	DependsOn  []string          `json:"dependsOn,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// DeploymentBody is the request payload that submits a template.
type DeploymentBody struct {
	Properties DeploymentProperties `json:"properties"`
}

// DeploymentProperties wraps the template with its deployment mode.
type DeploymentProperties struct {
	Template   Template               `json:"template"`
	Mode       string                 `json:"mode"`
	Parameters map[string]interface{} `json:"parameters"`
}

// New returns a template holding resources in the given order.
func New(resources []Resource, variables map[string]string) Template {
	vars := make(map[string]string, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return Template{
		Schema:         Schema,
		ContentVersion: ContentVersion,
		Resources:      append([]Resource(nil), resources...),
		Variables:      vars,
		Parameters:     map[string]interface{}{},
	}
}

// NewDeploymentBody wraps t for an incremental deployment.
func NewDeploymentBody(t Template) DeploymentBody {
	return DeploymentBody{Properties: DeploymentProperties{
		Template:   t,
		Mode:       ModeIncremental,
		Parameters: map[string]interface{}{},
	}}
}

// Marshal encodes v without HTML escaping so template expressions stay readable.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "Failed to encode template document")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeProperties renders a resource properties value.
func EncodeProperties(v interface{}) (json.RawMessage, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Parse decodes a template document.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "Failed to parse template")
	}
	if t.ContentVersion == "" {
		return nil, fmt.Errorf("template has no contentVersion")
	}
	return &t, nil
}

// ParseDeploymentBody decodes a deployment request payload.
func ParseDeploymentBody(data []byte) (*DeploymentBody, error) {
	var body DeploymentBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.Wrap(err, "Failed to parse deployment body")
	}
	return &body, nil
}

// FindResource returns the resource with the given (possibly symbolic) name.
func (t *Template) FindResource(resourceName string) (*Resource, error) {
	for i := range t.Resources {
		resource := &t.Resources[i]
		if resource.Name == resourceName {
			return resource, nil
		}
	}
	return nil, fmt.Errorf("resource %s not found in the template", resourceName)
}

// ResourcesOfType returns the resources of type typ in template order.
func (t *Template) ResourcesOfType(typ string) []Resource {
	var out []Resource
	for _, r := range t.Resources {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

var variableRef = regexp.MustCompile(`variables\('([^']+)'\)`)

// VariableRef returns the expression that evaluates to variable name.
func VariableRef(name string) string {
	return fmt.Sprintf("[variables('%s')]", name)
}

// References lists the variable names referenced by expr, in order of appearance.
func References(expr string) []string {
	matches := variableRef.FindAllStringSubmatch(expr, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
