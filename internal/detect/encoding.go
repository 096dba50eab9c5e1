package detect

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Encoded reports carry the derived counts so readers of report JSON and
// experiment.yaml need not recount. On decode the counts are ignored and
// recomputed from the run lists.

type groupDoc struct {
	Hash  string `json:"hash" yaml:"hash"`
	Count int    `json:"count" yaml:"count"`
	Runs  []int  `json:"runs" yaml:"runs"`
}

type groupSetDoc struct {
	UniqueCount int     `json:"unique_count" yaml:"unique_count"`
	Groups      []Group `json:"groups" yaml:"groups"`
}

func (g Group) doc() groupDoc {
	return groupDoc{Hash: g.Hash, Count: g.Count(), Runs: g.Runs}
}

func (s GroupSet) doc() groupSetDoc {
	return groupSetDoc{UniqueCount: s.UniqueCount(), Groups: s.Groups}
}

// MarshalJSON adds the member count.
func (g Group) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.doc())
}

// UnmarshalJSON ignores the encoded count.
func (g *Group) UnmarshalJSON(data []byte) error {
	var d groupDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*g = Group{Hash: d.Hash, Runs: d.Runs}
	return nil
}

// MarshalYAML adds the member count.
func (g Group) MarshalYAML() (any, error) {
	return g.doc(), nil
}

// UnmarshalYAML ignores the encoded count.
func (g *Group) UnmarshalYAML(n *yaml.Node) error {
	var d groupDoc
	if err := n.Decode(&d); err != nil {
		return err
	}
	*g = Group{Hash: d.Hash, Runs: d.Runs}
	return nil
}

// MarshalJSON adds unique_count.
func (s GroupSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.doc())
}

// UnmarshalJSON ignores the encoded unique_count.
func (s *GroupSet) UnmarshalJSON(data []byte) error {
	var d groupSetDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*s = GroupSet{Groups: d.Groups}
	return nil
}

// MarshalYAML adds unique_count.
func (s GroupSet) MarshalYAML() (any, error) {
	return s.doc(), nil
}

// UnmarshalYAML ignores the encoded unique_count.
func (s *GroupSet) UnmarshalYAML(n *yaml.Node) error {
	var d groupSetDoc
	if err := n.Decode(&d); err != nil {
		return err
	}
	*s = GroupSet{Groups: d.Groups}
	return nil
}
