package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Resolver follows indirect references. Implementations return the object
// unchanged when it is not a reference.
type Resolver interface {
	Resolve(obj Object) (Object, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(Object) (Object, error)

func (f ResolverFunc) Resolve(obj Object) (Object, error) { return f(obj) }

// Direct is a Resolver that never follows references.
var Direct Resolver = ResolverFunc(func(o Object) (Object, error) { return o, nil })

// ResolveDict resolves obj and asserts it is a dictionary. The dictionary of a
// stream is returned for stream objects.
func ResolveDict(r Resolver, obj Object) (*DictObj, bool) {
	if obj == nil {
		return nil, false
	}
	o, err := r.Resolve(obj)
	if err != nil {
		return nil, false
	}
	switch v := o.(type) {
	case *DictObj:
		return v, true
	case *StreamObj:
		return v.Dict, true
	}
	return nil, false
}

// ResolveArray resolves obj and asserts it is an array.
func ResolveArray(r Resolver, obj Object) (*ArrayObj, bool) {
	if obj == nil {
		return nil, false
	}
	o, err := r.Resolve(obj)
	if err != nil {
		return nil, false
	}
	a, ok := o.(*ArrayObj)
	return a, ok
}

// ResolveNumber resolves obj and returns its numeric value.
func ResolveNumber(r Resolver, obj Object) (float64, bool) {
	if obj == nil {
		return 0, false
	}
	o, err := r.Resolve(obj)
	if err != nil {
		return 0, false
	}
	n, ok := o.(NumberObj)
	if !ok {
		return 0, false
	}
	return n.Float(), true
}

// ResolveName resolves obj and returns the name value.
func ResolveName(r Resolver, obj Object) (string, bool) {
	if obj == nil {
		return "", false
	}
	o, err := r.Resolve(obj)
	if err != nil {
		return "", false
	}
	n, ok := o.(NameObj)
	return n.Val, ok
}

// Rect reads a four number array such as a MediaBox, normalizing the corners.
func Rect(r Resolver, obj Object) ([4]float64, bool) {
	var box [4]float64
	arr, ok := ResolveArray(r, obj)
	if !ok || arr.Len() != 4 {
		return box, false
	}
	for i := 0; i < 4; i++ {
		v, ok := ResolveNumber(r, arr.Items[i])
		if !ok {
			return box, false
		}
		box[i] = v
	}
	if box[0] > box[2] {
		box[0], box[2] = box[2], box[0]
	}
	if box[1] > box[3] {
		box[1], box[3] = box[3], box[1]
	}
	return box, true
}
