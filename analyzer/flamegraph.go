package analyzer

import (
	"fmt"
	"sort"

	"github.com/google/pprof/profile"
)

// nodeKey identifies a node by function ID, so every sample that passes
// through the same region or frame is folded together.
type nodeKey struct {
	funcID uint64
}

// tempNode is used while the tree is being built.
type tempNode struct {
	node      *FlameGraphNode
	children  map[nodeKey]*tempNode
	selfValue int64 // value of samples whose leaf is this node
}

// BuildFlameGraphTree converts pprof profile data into a hierarchical FlameGraphNode structure.
// valueIndex selects the sample value, e.g. 0 for anon_huge_pages in a profile from BuildProfile.
func BuildFlameGraphTree(p *profile.Profile, valueIndex int) (*FlameGraphNode, error) {
	if valueIndex < 0 || valueIndex >= len(p.SampleType) {
		return nil, fmt.Errorf("invalid value index %d for profile with %d sample types", valueIndex, len(p.SampleType))
	}

	root := &tempNode{
		node:     &FlameGraphNode{Name: "root"},
		children: make(map[nodeKey]*tempNode),
	}

	totalSampleValue := int64(0)
	for _, sample := range p.Sample {
		value := sample.Value[valueIndex]
		if value == 0 {
			continue
		}
		totalSampleValue += value

		// Stacks are leaf first; walk from the outermost frame inwards.
		currentNode := root
		for i := len(sample.Location) - 1; i >= 0; i-- {
			loc := sample.Location[i]
			if len(loc.Line) == 0 {
				continue
			}
			fn := loc.Line[0].Function
			if fn == nil {
				fn = &profile.Function{ID: 0, Name: fmt.Sprintf("unknown @ 0x%x", loc.Address)}
			}

			key := nodeKey{funcID: fn.ID}
			childNode, exists := currentNode.children[key]
			if !exists {
				childNode = &tempNode{
					node: &FlameGraphNode{
						Name:     fn.Name,
						Children: []*FlameGraphNode{},
					},
					children: make(map[nodeKey]*tempNode),
				}
				currentNode.children[key] = childNode
			}
			if i == 0 {
				childNode.selfValue += value
			}
			currentNode = childNode
		}
	}

	calculateTotalValueAndBuildTree(root)
	root.node.Value = totalSampleValue
	sortChildrenByValue(root.node)

	return root.node, nil
}

// BuildRegionFlameGraph is BuildFlameGraphTree over BuildProfile(report),
// weighted by AnonHugePages bytes.
func BuildRegionFlameGraph(report *Report) (*FlameGraphNode, error) {
	p, err := BuildProfile(report)
	if err != nil {
		return nil, err
	}
	return BuildFlameGraphTree(p, 0)
}

// calculateTotalValueAndBuildTree sets every node's value to self + children
// and drops children that ended up empty.
func calculateTotalValueAndBuildTree(tn *tempNode) int64 {
	total := tn.selfValue
	childrenNodes := []*FlameGraphNode{}

	for _, childTempNode := range tn.children {
		childTotal := calculateTotalValueAndBuildTree(childTempNode)
		childTempNode.node.Value = childTotal
		if childTotal > 0 {
			childrenNodes = append(childrenNodes, childTempNode.node)
		}
		total += childTotal
	}
	tn.node.Children = childrenNodes
	return total
}

// sortChildrenByValue recursively sorts the children of a FlameGraphNode by value (descending).
func sortChildrenByValue(node *FlameGraphNode) {
	if node == nil || len(node.Children) == 0 {
		return
	}
	sort.Slice(node.Children, func(i, j int) bool {
		if node.Children[i].Value == node.Children[j].Value {
			return node.Children[i].Name < node.Children[j].Name
		}
		return node.Children[i].Value > node.Children[j].Value
	})
	for _, child := range node.Children {
		sortChildrenByValue(child)
	}
}
