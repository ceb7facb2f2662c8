// Package scene holds the retained scene graph the viewer renders and the
// reconciliation engine that keeps tracking markers in sync with the
// location and metadata stores.
package scene

import (
	"strconv"
	"strings"
	"sync"
)

// Node kinds. The viewer decides how each kind is drawn; the engine only
// manipulates structure and attributes.
const (
	KindGroup    = "group"
	KindRoom     = "room"
	KindMarker   = "marker"
	KindPin      = "pin"
	KindLabel    = "label"
	KindAvatar   = "avatar"
	KindInitials = "initials"
	KindStatus   = "status"
	KindDebug    = "debug"
)

// Attribute keys shared between the engine and the viewer.
const (
	AttrTracking   = "data-tracking" // "bound" or "created"
	AttrEntity     = "data-entity"
	AttrDevice     = "data-device" // authored device id on static markers
	AttrClass      = "class"
	AttrHidden     = "hidden"
	AttrHref       = "href"
	AttrSize       = "size"
	AttrDecoration = "data-decoration"
)

// Node is one element of the scene graph.
type Node struct {
	Kind     string
	Text     string
	Children []*Node

	attrs        map[string]string
	transform    string
	hasTransform bool
	parent       *Node
}

func NewNode(kind string) *Node {
	return &Node{Kind: kind}
}

func (n *Node) Attr(key string) string {
	return n.attrs[key]
}

func (n *Node) SetAttr(key, value string) {
	if n.attrs == nil {
		n.attrs = make(map[string]string)
	}
	n.attrs[key] = value
}

func (n *Node) DelAttr(key string) {
	delete(n.attrs, key)
}

// Transform returns the transform attribute and whether one is present;
// "no transform" is distinct from an empty one for restoration purposes.
func (n *Node) Transform() (string, bool) {
	return n.transform, n.hasTransform
}

func (n *Node) SetTransform(t string) {
	n.transform = t
	n.hasTransform = true
}

func (n *Node) ClearTransform() {
	n.transform = ""
	n.hasTransform = false
}

func (n *Node) AppendChild(c *Node) {
	c.parent = n
	n.Children = append(n.Children, c)
}

// Remove detaches n from its parent. No-op for roots.
func (n *Node) Remove() {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.Children {
		if c == n {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

// RemoveChildrenWhere drops every direct child matching pred.
func (n *Node) RemoveChildrenWhere(pred func(*Node) bool) {
	kept := n.Children[:0]
	for _, c := range n.Children {
		if pred(c) {
			c.parent = nil
			continue
		}
		kept = append(kept, c)
	}
	n.Children = kept
}

// Child returns the first direct child of the given kind.
func (n *Node) Child(kind string) *Node {
	for _, c := range n.Children {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// Walk visits n and every descendant in document order.
func (n *Node) Walk(visit func(*Node)) {
	visit(n)
	for _, c := range n.Children {
		c.Walk(visit)
	}
}

// HasClass reports whether the class attribute contains the given token.
func (n *Node) HasClass(token string) bool {
	for _, t := range strings.Fields(n.Attr(AttrClass)) {
		if t == token {
			return true
		}
	}
	return false
}

func (n *Node) AddClass(token string) {
	if n.HasClass(token) {
		return
	}
	cur := n.Attr(AttrClass)
	if cur == "" {
		n.SetAttr(AttrClass, token)
		return
	}
	n.SetAttr(AttrClass, cur+" "+token)
}

func (n *Node) RemoveClass(token string) {
	fields := strings.Fields(n.Attr(AttrClass))
	kept := fields[:0]
	for _, t := range fields {
		if t != token {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		n.DelAttr(AttrClass)
		return
	}
	n.SetAttr(AttrClass, strings.Join(kept, " "))
}

// Container is the single addressable host node the engine owns for
// tracking markers. Other code may repopulate it wholesale (a floor
// re-render); every such structural mutation bumps the generation counter,
// which stands in for a DOM mutation observer.
type Container struct {
	mu   sync.Mutex
	root *Node
	gen  uint64
}

func NewContainer(root *Node) *Container {
	return &Container{root: root, gen: 1}
}

func (c *Container) Root() *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// Replace swaps in a freshly built root, as a base-layer re-render does.
func (c *Container) Replace(root *Node) {
	c.mu.Lock()
	c.root = root
	c.gen++
	c.mu.Unlock()
}

// Bump records an external structural mutation without replacing the root.
func (c *Container) Bump() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

func (c *Container) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// FormatTranslate renders a world-space position as a transform attribute,
// trimming trailing zeros so translate(2 3) stays readable.
func FormatTranslate(x, y float64) string {
	return "translate(" + formatCoord(x) + " " + formatCoord(y) + ")"
}

// ParseTranslate is the inverse of FormatTranslate.
func ParseTranslate(t string) (float64, float64, bool) {
	if !strings.HasPrefix(t, "translate(") || !strings.HasSuffix(t, ")") {
		return 0, 0, false
	}
	inner := t[len("translate(") : len(t)-1]
	fields := strings.Fields(strings.ReplaceAll(inner, ",", " "))
	if len(fields) != 2 {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(fields[0], 64)
	y, errY := strconv.ParseFloat(fields[1], 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
