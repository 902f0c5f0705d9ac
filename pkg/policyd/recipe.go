package policyd

import (
	"path"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/types"
)

// RawRule is one YAML row of the immutable recipe, before glob subjects are
// expanded against the service names known at load time.
type RawRule struct {
	Subject  string `yaml:"subject"`
	Action   string `yaml:"action"`
	Decision string `yaml:"decision"`
	Gate     string `yaml:"gate,omitempty"`
}

// Recipe is the top-level YAML document: a flat, ordered rule list. There is
// no nesting and no conditionals beyond Gate — the recipe is meant to be
// auditable at a glance.
type Recipe struct {
	Rules []RawRule `yaml:"rules"`
}

// ParseRecipe decodes a YAML recipe document. It does not interpret decisions
// or expand globs; that happens in Compile once the set of known service
// names is available.
func ParseRecipe(data []byte) (Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Recipe{}, err
	}
	return r, nil
}

// compiledRule is a RawRule with its subject fully resolved to a concrete
// set of ServiceIDs, computed once at Compile time.
type compiledRule struct {
	subjects map[ipc.ServiceID]bool
	action   string
	decision types.Decision
	gate     string
}

// Compile expands every rule's subject glob/literal against names (a
// snapshot of samgrd's registered name→id table at boot). A decision other
// than "allow" compiles to deny; unknown decision strings are not reported
// as errors. Subjects that are neither a parseable ServiceID literal nor a
// pattern matching any known name compile to an empty subject set — such a
// rule can never match, which is safe under deny-by-default.
func Compile(recipe Recipe, names map[string]ipc.ServiceID) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(recipe.Rules))
	for _, raw := range recipe.Rules {
		var decision types.Decision
		switch raw.Decision {
		case "allow":
			decision = types.Allow
		case "deny":
			decision = types.Deny
		default:
			decision = types.Deny
		}

		subjects := make(map[ipc.ServiceID]bool)
		if id, err := strconv.ParseUint(raw.Subject, 10, 64); err == nil {
			subjects[ipc.ServiceID(id)] = true
		} else {
			for name, id := range names {
				if ok, _ := path.Match(raw.Subject, name); ok {
					subjects[id] = true
				}
			}
		}

		out = append(out, compiledRule{
			subjects: subjects,
			action:   raw.Action,
			decision: decision,
			gate:     raw.Gate,
		})
	}
	return out, nil
}
