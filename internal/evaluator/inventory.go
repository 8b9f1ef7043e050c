// Package evaluator drives the external flake evaluator and models its
// structured output.
package evaluator

import (
	"encoding/json"
	"fmt"
)

// Inventory is the evaluator's structured description of a flake's outputs.
type Inventory struct {
	Version int               `json:"version"`
	Docs    map[string]string `json:"docs"`
	Outputs map[string]*Tree  `json:"inventory"`
}

// Tree is a tagged variant: either a branch holding named children, or a
// leaf describing a single flake output.
type Tree struct {
	// Children is non-nil exactly when the node is a branch.
	Children map[string]*Tree

	// Leaf fields.
	ForSystems       []string
	ShortDescription string
	What             string
	Derivation       string
	OutputPaths      map[string]string
}

// IsBranch reports whether the node carries children rather than leaf data.
func (t *Tree) IsBranch() bool {
	return t.Children != nil
}

type branchJSON struct {
	Children map[string]*Tree `json:"children"`
}

type leafJSON struct {
	ForSystems       []string          `json:"forSystems"`
	ShortDescription string            `json:"shortDescription"`
	What             string            `json:"what"`
	Derivation       string            `json:"derivation,omitempty"`
	Outputs          map[string]string `json:"outputs,omitempty"`
}

// MarshalJSON emits the wire shape: branches as {"children": …}, leaves as
// their attribute set. ForSystems serializes as null when absent.
func (t *Tree) MarshalJSON() ([]byte, error) {
	if t.IsBranch() {
		return json.Marshal(branchJSON{Children: t.Children})
	}
	return json.Marshal(leafJSON{
		ForSystems:       t.ForSystems,
		ShortDescription: t.ShortDescription,
		What:             t.What,
		Derivation:       t.Derivation,
		Outputs:          t.OutputPaths,
	})
}

// UnmarshalJSON decides branch versus leaf by the presence of a `children`
// key.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("inventory node is not an object: %w", err)
	}

	if raw, isBranch := probe["children"]; isBranch {
		children := map[string]*Tree{}
		if err := json.Unmarshal(raw, &children); err != nil {
			return fmt.Errorf("decoding children: %w", err)
		}
		t.Children = children
		return nil
	}

	var leaf leafJSON
	if err := json.Unmarshal(data, &leaf); err != nil {
		return fmt.Errorf("decoding leaf: %w", err)
	}
	t.ForSystems = leaf.ForSystems
	t.ShortDescription = leaf.ShortDescription
	t.What = leaf.What
	t.Derivation = leaf.Derivation
	t.OutputPaths = leaf.Outputs
	return nil
}

type walkFrame struct {
	path []string
	node *Tree
}

// Walk visits every node depth-first using an explicit stack, so arbitrarily
// deep inventories cannot exhaust the goroutine stack.
func (inv *Inventory) Walk(visit func(path []string, node *Tree)) {
	var stack []walkFrame
	for name, node := range inv.Outputs {
		stack = append(stack, walkFrame{path: []string{name}, node: node})
	}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visit(frame.path, frame.node)

		for name, child := range frame.node.Children {
			childPath := append(append([]string{}, frame.path...), name)
			stack = append(stack, walkFrame{path: childPath, node: child})
		}
	}
}

// LeafCount returns the number of leaves in the inventory.
func (inv *Inventory) LeafCount() int {
	count := 0
	inv.Walk(func(_ []string, node *Tree) {
		if !node.IsBranch() {
			count++
		}
	})
	return count
}

// legacyPackagesOutput is unbounded to evaluate and is always replaced with
// an empty-children placeholder.
const legacyPackagesOutput = "legacyPackages"

func scrubLegacyPackages(inv *Inventory) {
	if inv.Outputs == nil {
		return
	}
	if _, ok := inv.Outputs[legacyPackagesOutput]; ok {
		inv.Outputs[legacyPackagesOutput] = &Tree{Children: map[string]*Tree{}}
	}
}
