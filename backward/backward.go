// Package backward implements the read-only, goal-directed proof search
// described in spec §4.8 "Backward Chainer": given a fact or event goal,
// determine whether some chain of effectively-enabled rules could
// eventually produce it, without mutating any engine state.
package backward

import (
	"strings"
	"time"

	"github.com/ruleforge/engine/domain"
	"github.com/ruleforge/engine/factstore"
	"github.com/ruleforge/engine/internal/engerrors"
	"github.com/ruleforge/engine/operatoreval"
	"github.com/ruleforge/engine/rulemgr"
)

const (
	defaultMaxDepth         = 10
	defaultMaxExploredRules = 100
)

// GoalKind is the closed set of goal shapes a query may ask about.
type GoalKind string

const (
	GoalFact  GoalKind = "fact"
	GoalEvent GoalKind = "event"
)

// Goal is the target a query tries to prove achievable.
type Goal struct {
	Type     GoalKind
	Key      string // fact key (GoalFact)
	Topic    string // event topic (GoalEvent)
	Value    interface{}
	Operator domain.Operator // defaults to eq when Value is set and Operator is empty
}

// NodeKind enumerates the shapes a ProofNode may take.
type NodeKind string

const (
	NodeFactExists   NodeKind = "fact_exists"
	NodeRule         NodeKind = "rule"
	NodeCondition    NodeKind = "condition"
	NodeUnachievable NodeKind = "unachievable"
)

// ProofNode is one node of the proof tree a query returns, mirroring the
// shape spec §4.8 describes: a leaf ("fact_exists" or "unachievable"), or
// an interior "rule"/"condition" node joining its children with AND.
type ProofNode struct {
	Kind      NodeKind
	RuleID    string
	Satisfied bool
	Reason    string // NodeUnachievable: max_depth|cycle_detected|no_rules|all_paths_failed; unprovable NodeCondition: context_unavailable
	Children  []ProofNode
}

// Result is what Query returns.
type Result struct {
	Achievable      bool
	Proof           ProofNode
	ExploredRules   int
	MaxDepthReached bool
	DurationMs      float64
}

// Options configures a Chainer's termination bounds.
type Options struct {
	MaxDepth         int
	MaxExploredRules int
}

// DefaultOptions returns spec §4.8's defaults (maxDepth=10, maxExploredRules=100).
func DefaultOptions() Options {
	return Options{MaxDepth: defaultMaxDepth, MaxExploredRules: defaultMaxExploredRules}
}

// Chainer answers Query calls against a live rule manager and fact store.
// It never mutates either.
type Chainer struct {
	rules *rulemgr.Manager
	facts *factstore.Store
	ops   *operatoreval.Evaluator
	opts  Options
}

// New creates a Chainer. opts's zero value falls back to DefaultOptions().
func New(rules *rulemgr.Manager, facts *factstore.Store, opts Options) *Chainer {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	if opts.MaxExploredRules <= 0 {
		opts.MaxExploredRules = defaultMaxExploredRules
	}
	return &Chainer{rules: rules, facts: facts, ops: operatoreval.New(), opts: opts}
}

type searchState struct {
	explored        int
	maxDepthReached bool
}

// Query runs the depth-bounded DFS for goal and returns its proof tree.
// Read-only: no facts are mutated, no events emitted, no timers set.
func (c *Chainer) Query(goal Goal) Result {
	start := time.Now()
	state := &searchState{}
	ancestors := map[string]bool{}

	proof := c.attempt(goal, 0, ancestors, state)
	return Result{
		Achievable:      proof.Satisfied,
		Proof:           proof,
		ExploredRules:   state.explored,
		MaxDepthReached: state.maxDepthReached,
		DurationMs:      float64(time.Since(start)) / float64(time.Millisecond),
	}
}

func (c *Chainer) attempt(goal Goal, depth int, ancestors map[string]bool, state *searchState) ProofNode {
	if depth > c.opts.MaxDepth {
		state.maxDepthReached = true
		return unachievable("max_depth")
	}

	sig := goalSignature(goal)
	if ancestors[sig] {
		return unachievable("cycle_detected")
	}

	if goal.Type == GoalFact {
		if node, ok := c.checkFactExists(goal); ok {
			return node
		}
	}

	ancestors[sig] = true
	defer delete(ancestors, sig)

	candidates := c.producersOf(goal)
	if len(candidates) == 0 {
		return unachievable("no_rules")
	}

	var children []ProofNode
	for _, r := range candidates {
		if state.explored >= c.opts.MaxExploredRules {
			state.maxDepthReached = true
			break
		}
		state.explored++

		ruleNode := c.attemptRule(r, depth, ancestors, state)
		children = append(children, ruleNode)
		if ruleNode.Satisfied {
			// Short-circuit: OR across candidate rules, first satisfiable wins.
			return ProofNode{Kind: NodeRule, RuleID: r.ID, Satisfied: true, Children: ruleNode.Children}
		}
	}

	return ProofNode{Kind: NodeUnachievable, Reason: "all_paths_failed", Children: children}
}

// attemptRule evaluates every condition of r as an AND-joined sub-goal,
// recursing one level deeper for fact-sourced conditions.
func (c *Chainer) attemptRule(r *domain.Rule, depth int, ancestors map[string]bool, state *searchState) ProofNode {
	node := ProofNode{Kind: NodeRule, RuleID: r.ID, Satisfied: true}

	for _, cond := range r.Conditions {
		child := c.attemptCondition(cond, depth+1, ancestors, state)
		node.Children = append(node.Children, child)
		if !child.Satisfied {
			node.Satisfied = false
		}
	}
	return node
}

func (c *Chainer) attemptCondition(cond domain.Condition, depth int, ancestors map[string]bool, state *searchState) ProofNode {
	switch cond.Source.Kind {
	case domain.SourceFact:
		sub := Goal{Type: GoalFact, Key: cond.Source.Pattern, Value: cond.Value, Operator: cond.Operator}
		return c.attempt(sub, depth, ancestors, state)
	default:
		// context/lookup/baseline conditions depend on a live trigger the
		// chainer has no access to outside a real evaluation; they cannot be
		// proven achievable through further rule chaining.
		return ProofNode{Kind: NodeCondition, Satisfied: false, Reason: "context_unavailable"}
	}
}

// checkFactExists reports whether the live fact store already satisfies
// goal, per spec §4.8's fact_exists shortcut.
func (c *Chainer) checkFactExists(goal Goal) (ProofNode, bool) {
	if c.facts == nil {
		return ProofNode{}, false
	}
	f, ok := c.facts.Get(goal.Key)
	if !ok {
		return ProofNode{}, false
	}
	if !c.satisfiesGoal(f.Value, goal) {
		return ProofNode{}, false
	}
	return ProofNode{Kind: NodeFactExists, Satisfied: true}, true
}

func (c *Chainer) satisfiesGoal(actual interface{}, goal Goal) bool {
	if goal.Value == nil {
		return true // existence check only
	}
	op := goal.Operator
	if op == "" {
		op = domain.OpEq
	}
	return c.ops.Evaluate(op, actual, goal.Value)
}

// producersOf scans every effectively-enabled rule for one whose action
// list can (statically, via a literal key/topic match) produce goal.
func (c *Chainer) producersOf(goal Goal) []*domain.Rule {
	if c.rules == nil {
		return nil
	}
	var out []*domain.Rule
	for _, r := range c.rules.GetAll() {
		if !c.effectivelyEnabled(r) {
			continue
		}
		if actionsProduce(r.Actions, goal) {
			out = append(out, r)
		}
	}
	return out
}

func (c *Chainer) effectivelyEnabled(r *domain.Rule) bool {
	return r.EffectivelyEnabled(func(groupID string) (bool, bool) {
		g, ok := c.rules.GetGroup(groupID)
		return g.Enabled, ok
	})
}

// actionsProduce reports whether actions contains, at any nesting depth, a
// set_fact (for a fact goal) or emit_event (for an event goal) whose
// literal target matches goal. Actions with a dynamically-interpolated
// target ("${...}" or {"ref": ...}) are not statically resolvable and are
// conservatively treated as non-producers.
func actionsProduce(actions []domain.Action, goal Goal) bool {
	for _, a := range actions {
		switch a.Kind {
		case domain.ActionSetFact:
			if goal.Type == GoalFact && isLiteral(a.Key) && a.Key == goal.Key {
				return true
			}
		case domain.ActionEmitEvent:
			if goal.Type == GoalEvent && isLiteral(a.Topic) && a.Topic == goal.Topic {
				return true
			}
		case domain.ActionConditional:
			if actionsProduce(a.Then, goal) || actionsProduce(a.Else, goal) {
				return true
			}
		case domain.ActionForEach:
			if actionsProduce(a.ForEachBody, goal) {
				return true
			}
		case domain.ActionTryCatch:
			if actionsProduce(a.Try, goal) || actionsProduce(a.Finally, goal) {
				return true
			}
			if a.Catch != nil && actionsProduce(a.Catch.Actions, goal) {
				return true
			}
		}
	}
	return false
}

// isLiteral reports whether s contains no dynamic-substitution markers.
func isLiteral(s string) bool {
	return !strings.Contains(s, "${") && !strings.Contains(s, "{\"ref\"")
}

func unachievable(reason string) ProofNode {
	return ProofNode{Kind: NodeUnachievable, Reason: reason, Satisfied: false}
}

func goalSignature(g Goal) string {
	switch g.Type {
	case GoalFact:
		return "fact:" + g.Key
	case GoalEvent:
		return "event:" + g.Topic
	default:
		return string(g.Type)
	}
}

// ErrInvalidGoal is the BAD_REQUEST error describing a malformed query goal.
var ErrInvalidGoal = engerrors.BadRequest("query goal must be {type: fact, key} or {type: event, topic}")
