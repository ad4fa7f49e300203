package snaplet

import (
	"strings"

	"github.com/uffizio/snap/errors"
)

// Nest installs a child component inside the currently initializing
// parent. The child's bootstrap runs in a scope where the parent's id has
// been pushed onto the ancestry, routeFragment (if non-empty) extends the
// route context, and the id is cleared for the child to claim. Whatever
// the child does to that scope, the parent's own scope is restored before
// Nest returns, on success and on failure alike.
//
// Once the whole tree exists, the engine stores the returned Snaplet into
// the parent through focus.Set, so the child's handlers and hooks resolve
// even if the parent never keeps the return value itself. Most parents
// keep it anyway, for direct access from their own handlers.
func Nest[B, P, C any](in *Init[B, P], routeFragment string, focus Focus[P, C], child Bootstrap[B, C]) (*Snaplet[C], error) {
	w := in.walk
	if focus.Get == nil || focus.Set == nil {
		return nil, errors.WrapContract(errors.ErrNilFocus, "snaplet", "Nest", "check focus pair")
	}
	if w.cur.id == "" {
		return nil, errors.WrapContract(errors.ErrIDUnset, "snaplet", "Nest", "read parent id")
	}

	saved := w.cur.clone()

	w.cur.ancestry = append(w.cur.ancestry, w.cur.id)
	w.cur.id = ""
	if fragment := trimFragment(routeFragment); fragment != "" {
		w.cur.routeContext = append(w.cur.routeContext, fragment)
	}

	childInit := &Init[B, C]{
		walk:   w,
		access: composeAccess(in.access, focus),
	}
	sn, err := install(childInit, child)

	w.cur = saved
	if err != nil {
		return nil, err
	}

	parentAcc := in.access
	w.wires = append(w.wires, func(root *Snaplet[B]) {
		if psn := parentAcc.get(root); psn != nil {
			focus.Set(&psn.Value, sn)
		}
	})
	return sn, nil
}

// trimFragment strips surrounding slashes from a route fragment. Interior
// slashes are kept; they qualify as nested path segments.
func trimFragment(fragment string) string {
	return strings.Trim(fragment, "/")
}
