// fastview publishes server-side views to a browser: a data model is converted to a
// view-model, multiplexed to one or more views, and each view emits idempotent
// element updates that a small client script applies by element id.
package fastview

import (
	"html/template"
)

// EleUpdate is an element identifier and a set of operations to apply to its attributes/content.
type EleUpdate struct {
	// The id by which to find the element
	EleId string
	// Op keys are attrib keys or 'textContent', values are the strings to which these are set.
	// Example: ('x','123') means 'set attribute 'x' to 123. 'textContent' is a reserved key:
	// ('textContent','abc') means 'set ele.textContent to abc'.
	Ops []Op
}

// Op is a key and value. For example an html attribute and its new value.
type Op struct {
	Key   string
	Value string
}

// ViewComponent is a server side view: Parse adds its initial form to a page template
// and Updates is the chan by which its ele-updates are notified.
type ViewComponent interface {
	Updates() <-chan []EleUpdate
	// Parse defines the view-component in the passed parent template, thus inheriting
	// its func-map, and returns the name of the defined template.
	Parse(*template.Template) (string, error)
}
