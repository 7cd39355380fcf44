// Package resources resolves page resource dictionaries, including those
// inherited from the page tree, and allocates names for new entries.
package resources

import (
	"fmt"
	"strconv"

	"github.com/wudi/pdfstamp/ir/raw"
)

type ResourceCategory string

const (
	CategoryFont      ResourceCategory = "Font"
	CategoryXObject   ResourceCategory = "XObject"
	CategoryExtGState ResourceCategory = "ExtGState"
)

// maxTreeDepth bounds the /Parent walk on malformed page trees.
const maxTreeDepth = 64

// Inherited returns the resource dictionary in effect for page: its own
// /Resources or the nearest ancestor's. The returned dictionary is a deep
// copy with the category subdictionaries resolved, ready to be modified and
// stored on the page.
func Inherited(r raw.Resolver, page *raw.DictObj) (*raw.DictObj, error) {
	node := page
	for depth := 0; node != nil; depth++ {
		if depth > maxTreeDepth {
			return nil, fmt.Errorf("page tree deeper than %d levels", maxTreeDepth)
		}
		if obj, ok := node.Get("Resources"); ok {
			res, ok := raw.ResolveDict(r, obj)
			if !ok {
				return nil, fmt.Errorf("/Resources is not a dictionary")
			}
			return inline(r, res), nil
		}
		parent, ok := node.Get("Parent")
		if !ok {
			break
		}
		next, ok := raw.ResolveDict(r, parent)
		if !ok {
			break
		}
		node = next
	}
	return raw.Dict(), nil
}

// inline copies res and resolves each indirect category dictionary so new
// names can be added without touching objects shared with other pages.
func inline(r raw.Resolver, res *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for _, k := range res.Keys() {
		v := res.KV[k]
		if sub, ok := raw.ResolveDict(r, v); ok {
			if _, isStream := v.(*raw.StreamObj); !isStream {
				out.Set(k, raw.Clone(sub))
				continue
			}
		}
		out.Set(k, raw.Clone(v))
	}
	return out
}

// Namer hands out names that do not collide with any name already present
// in a resource dictionary.
type Namer struct {
	used map[ResourceCategory]map[string]bool
	next map[string]int
}

func NewNamer(res *raw.DictObj) *Namer {
	n := &Namer{used: make(map[ResourceCategory]map[string]bool), next: make(map[string]int)}
	if res == nil {
		return n
	}
	for _, k := range res.Keys() {
		sub, ok := res.KV[k].(*raw.DictObj)
		if !ok {
			continue
		}
		cat := ResourceCategory(k)
		for _, name := range sub.Keys() {
			n.reserve(cat, name)
		}
	}
	return n
}

func (n *Namer) reserve(cat ResourceCategory, name string) {
	if n.used[cat] == nil {
		n.used[cat] = make(map[string]bool)
	}
	n.used[cat][name] = true
}

// Next returns prefix followed by the lowest free counter for cat.
func (n *Namer) Next(cat ResourceCategory, prefix string) string {
	for {
		i := n.next[prefix]
		n.next[prefix] = i + 1
		name := prefix + strconv.Itoa(i)
		if !n.used[cat][name] {
			n.reserve(cat, name)
			return name
		}
	}
}

// Add stores value under a fresh name in the cat subdictionary of res.
func (n *Namer) Add(res *raw.DictObj, cat ResourceCategory, prefix string, value raw.Object) string {
	name := n.Next(cat, prefix)
	sub, ok := res.KV[string(cat)].(*raw.DictObj)
	if !ok {
		sub = raw.Dict()
		res.Set(string(cat), sub)
	}
	sub.Set(name, value)
	return name
}
