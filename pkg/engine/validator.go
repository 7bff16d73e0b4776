package engine

import (
	"fmt"
	"strings"

	"github.com/sandboxws/isotope/mpp/pkg/operator"
)

// ValidateTree checks that root is a proper operator tree: every child is
// non-nil, owned by exactly one parent, and no operator is its own ancestor.
func ValidateTree(root operator.Operator) error {
	if root == nil {
		return fmt.Errorf("operator tree has no root")
	}

	const (
		white = 0 // unvisited
		gray  = 1 // visiting (in current path)
		black = 2 // done
	)

	color := make(map[operator.Operator]int)
	var path []string

	var dfs func(op operator.Operator) error
	dfs = func(op operator.Operator) error {
		color[op] = gray
		path = append(path, nodeName(op))

		if p, ok := op.(operator.Parent); ok {
			for i, child := range p.Children() {
				if child == nil {
					return fmt.Errorf("operator %s: child %d is nil", nodeName(op), i)
				}
				switch color[child] {
				case gray:
					cycle := append(append([]string(nil), path...), nodeName(child))
					return fmt.Errorf("cycle detected: %s", strings.Join(cycle, " -> "))
				case black:
					return fmt.Errorf("operator %s is shared by more than one parent", nodeName(child))
				}
				if err := dfs(child); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		color[op] = black
		return nil
	}

	return dfs(root)
}

func nodeName(op operator.Operator) string {
	if ctx := op.Context(); ctx != nil && ctx.PlanNodeID != "" {
		return ctx.PlanNodeID
	}
	return fmt.Sprintf("%T", op)
}
