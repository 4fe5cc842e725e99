// Package models defines the flow graph, chat session and collaborator models
// shared by the interpreter, the persistence layer and the HTTP API.
package models

import (
	"strings"
	"time"
)

// NodeType identifies the behaviour of a flow node.
type NodeType string

const (
	NodeTypeStart       NodeType = "start"
	NodeTypeMessage     NodeType = "message"
	NodeTypeInput       NodeType = "input"
	NodeTypeRating      NodeType = "rating"
	NodeTypeTemplate    NodeType = "template"
	NodeTypeCondition   NodeType = "condition"
	NodeTypeScript      NodeType = "script"
	NodeTypeHTTPRequest NodeType = "httpRequest"
	NodeTypeSchedule    NodeType = "schedule"
	NodeTypeSetValue    NodeType = "setValue"
	NodeTypeDelay       NodeType = "delay"
	NodeTypeGoto        NodeType = "goto"
	NodeTypeAnchor      NodeType = "anchor"
	NodeTypeCase        NodeType = "case"
	NodeTypeQueue       NodeType = "queue"
	NodeTypeEnd         NodeType = "end"
)

// NodeTypes lists every node type the interpreter understands.
var NodeTypes = []NodeType{
	NodeTypeStart, NodeTypeMessage, NodeTypeInput, NodeTypeRating, NodeTypeTemplate,
	NodeTypeCondition, NodeTypeScript, NodeTypeHTTPRequest, NodeTypeSchedule,
	NodeTypeSetValue, NodeTypeDelay, NodeTypeGoto, NodeTypeAnchor, NodeTypeCase,
	NodeTypeQueue, NodeTypeEnd,
}

// IsKnown reports whether t belongs to the closed node type set.
func (t NodeType) IsKnown() bool {
	for _, known := range NodeTypes {
		if known == t {
			return true
		}
	}

	return false
}

// IsBlocking reports whether a node of this type may pause execution until
// the customer replies.
func (t NodeType) IsBlocking() bool {
	return t == NodeTypeInput || t == NodeTypeRating || t == NodeTypeTemplate
}

// Node is a single typed step of a flow.
type Node struct {
	ID   string         `json:"id"   yaml:"id"   validate:"required"`
	Type NodeType       `json:"type" yaml:"type" validate:"required"`
	Data map[string]any `json:"data" yaml:"data"`
}

// String returns data[key] when it holds a string.
func (n *Node) String(key string) string {
	if n.Data == nil {
		return ""
	}

	s, _ := n.Data[key].(string)

	return s
}

// Edge connects two nodes. SourceHandle disambiguates multiple outgoing
// edges of the same source (condition branches, button ids, success/error).
type Edge struct {
	ID           string `json:"id"                     yaml:"id"`
	Source       string `json:"source"                 yaml:"source"        validate:"required"`
	Target       string `json:"target"                 yaml:"target"        validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle"`
}

// FlowGraph is an immutable-per-execution snapshot of nodes and edges.
type FlowGraph struct {
	Nodes []Node `json:"nodes" yaml:"nodes" validate:"dive"`
	Edges []Edge `json:"edges" yaml:"edges" validate:"dive"`
}

// NodeByID returns the node with the given id.
func (g *FlowGraph) NodeByID(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}

	return nil, false
}

// NodeByIDPrefix returns the first node whose id starts with prefix.
func (g *FlowGraph) NodeByIDPrefix(prefix string) (*Node, bool) {
	for i := range g.Nodes {
		if strings.HasPrefix(g.Nodes[i].ID, prefix) {
			return &g.Nodes[i], true
		}
	}

	return nil, false
}

// StartNode returns the flow's entry node.
func (g *FlowGraph) StartNode() (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].Type == NodeTypeStart {
			return &g.Nodes[i], true
		}
	}

	return nil, false
}

// AnchorByName returns the anchor node whose data.anchorName matches name.
func (g *FlowGraph) AnchorByName(name string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].Type == NodeTypeAnchor && g.Nodes[i].String("anchorName") == name {
			return &g.Nodes[i], true
		}
	}

	return nil, false
}

// OutgoingEdges returns every edge leaving source, in declaration order.
func (g *FlowGraph) OutgoingEdges(source string) []Edge {
	var edges []Edge

	for _, edge := range g.Edges {
		if edge.Source == source {
			edges = append(edges, edge)
		}
	}

	return edges
}

// EdgeByHandle returns the edge leaving source through handle.
func (g *FlowGraph) EdgeByHandle(source, handle string) (*Edge, bool) {
	for i := range g.Edges {
		if g.Edges[i].Source == source && g.Edges[i].SourceHandle == handle {
			return &g.Edges[i], true
		}
	}

	return nil, false
}

// SoleTarget returns the target of the node's outgoing edge. Nodes with a
// single conceptual exit may still carry a handle, so the first edge wins.
func (g *FlowGraph) SoleTarget(source string) (string, bool) {
	edges := g.OutgoingEdges(source)
	if len(edges) == 0 {
		return "", false
	}

	return edges[0].Target, true
}

// Flow is a tenant-authored graph. Only the published snapshot executes.
type Flow struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"              validate:"required"`
	Name        string     `json:"name"                   validate:"required,min=3"`
	Draft       FlowGraph  `json:"draft"`
	Published   *FlowGraph `json:"published,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsPublished reports whether the flow has an executable snapshot.
func (f *Flow) IsPublished() bool {
	return f.Published != nil
}
