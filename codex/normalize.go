package codex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/bazelment/agentbridge/config"
)

// pathKeys are input fields that take filesystem paths and get tilde
// expansion.
var pathKeys = []string{"path", "cwd", "file", "directory", "grantRoot"}

// normalizer rewrites tool inputs after the policy has allowed a call:
// tilde expansion, internal key stripping, skill qualification, and
// validation of writes that target protected configuration files.
type normalizer struct {
	logger         *slog.Logger
	configNames    map[string]bool
	skillNamespace string
	home           string
	schema         *jsonschema.Schema
}

func newNormalizer(cfg *agentConfig) *normalizer {
	names := make(map[string]bool, len(cfg.configNames))
	for _, n := range cfg.configNames {
		names[n] = true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return &normalizer{
		logger:         cfg.logger,
		configNames:    names,
		skillNamespace: cfg.skillNamespace,
		home:           home,
		schema:         reflector.Reflect(&config.Config{}),
	}
}

// normalizeInput returns the rewritten input, or nil when nothing changed.
// A non-empty blockReason refuses the call outright.
func (n *normalizer) normalizeInput(tool string, input json.RawMessage) (out json.RawMessage, blockReason string) {
	if len(input) == 0 {
		return nil, ""
	}
	var m map[string]interface{}
	if err := json.Unmarshal(input, &m); err != nil {
		return nil, ""
	}

	changed := false
	for k := range m {
		if strings.HasPrefix(k, "_") {
			delete(m, k)
			changed = true
		}
	}

	if n.home != "" {
		for _, k := range pathKeys {
			if s, ok := m[k].(string); ok {
				if exp := n.expandTilde(s); exp != s {
					m[k] = exp
					changed = true
				}
			}
		}
	}

	if s, ok := m["skill"].(string); ok && n.skillNamespace != "" && s != "" && !strings.Contains(s, "/") {
		m["skill"] = n.skillNamespace + "/" + s
		changed = true
	}

	if reason := n.checkConfigWrite(m); reason != "" {
		return nil, reason
	}

	if !changed {
		return nil, ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		n.logger.Warn("re-encode normalized input failed", "tool", tool, "err", err)
		return nil, ""
	}
	return b, ""
}

// checkConfigWrite validates writes that target a protected configuration
// file. Malformed or schema-violating payloads are blocked so the agent
// cannot wedge its own configuration.
func (n *normalizer) checkConfigWrite(m map[string]interface{}) string {
	path, _ := m["path"].(string)
	content, ok := m["content"].(string)
	if path == "" || !ok {
		return ""
	}
	base := filepath.Base(path)
	if !n.configNames[base] {
		return ""
	}

	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml":
		var doc map[string]interface{}
		if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
			return fmt.Sprintf("invalid configuration write to %s: %v", base, err)
		}
		return n.validateAgainstSchema(base, doc)
	case ".toml":
		var doc map[string]interface{}
		if _, err := toml.Decode(content, &doc); err != nil {
			return fmt.Sprintf("invalid configuration write to %s: %v", base, err)
		}
		return n.validateAgainstSchema(base, doc)
	case ".json":
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(content), &doc); err != nil {
			return fmt.Sprintf("invalid configuration write to %s: %v", base, err)
		}
		return n.validateAgainstSchema(base, doc)
	default:
		return ""
	}
}

func (n *normalizer) validateAgainstSchema(base string, doc map[string]interface{}) string {
	if n.schema == nil || n.schema.Properties == nil {
		return ""
	}
	for key, val := range doc {
		prop, ok := n.schema.Properties.Get(key)
		if !ok {
			return fmt.Sprintf("invalid configuration write to %s: unknown key %q", base, key)
		}
		if prop.Type != "" && !schemaTypeMatches(prop.Type, val) {
			return fmt.Sprintf("invalid configuration write to %s: key %q expects %s", base, key, prop.Type)
		}
	}
	for _, req := range n.schema.Required {
		if _, ok := doc[req]; !ok {
			return fmt.Sprintf("invalid configuration write to %s: missing required key %q", base, req)
		}
	}
	return ""
}

func schemaTypeMatches(schemaType string, v interface{}) bool {
	switch schemaType {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer":
		switch t := v.(type) {
		case int, int64, uint64:
			return true
		case float64:
			return t == math.Trunc(t)
		default:
			return false
		}
	case "number":
		switch v.(type) {
		case int, int64, uint64, float64:
			return true
		default:
			return false
		}
	case "array":
		_, ok := v.([]interface{})
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return true
	}
}

func (n *normalizer) expandTilde(p string) string {
	if p == "~" {
		return n.home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(n.home, p[2:])
	}
	return p
}
